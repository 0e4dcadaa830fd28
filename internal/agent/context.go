package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/MEKXH/farcode/internal/policy"
	"github.com/MEKXH/farcode/internal/session"
	"github.com/cloudwego/eino/schema"
)

// projectFiles are read from the working directory into the system prompt.
var projectFiles = []string{"AGENTS.md", "FARCODE.md"}

// ContextBuilder builds LLM context
type ContextBuilder struct {
	workDir string
	policy  *policy.Policy

	mu              sync.RWMutex
	cachedBaseParts []string
}

// NewContextBuilder creates a context builder for workDir. p may be nil.
func NewContextBuilder(workDir string, p *policy.Policy) *ContextBuilder {
	return &ContextBuilder{workDir: workDir, policy: p}
}

// BuildSystemPrompt assembles the system prompt
func (c *ContextBuilder) BuildSystemPrompt() string {
	return strings.Join(c.buildBaseSystemPromptParts(), "\n\n")
}

func (c *ContextBuilder) buildBaseSystemPromptParts() []string {
	c.mu.RLock()
	if c.cachedBaseParts != nil {
		parts := slices.Clone(c.cachedBaseParts)
		c.mu.RUnlock()
		return parts
	}
	c.mu.RUnlock()

	parts := []string{c.coreIdentity()}
	if env := c.environmentSection(); env != "" {
		parts = append(parts, env)
	}
	for _, name := range projectFiles {
		if content := c.readProjectFile(name); content != "" {
			parts = append(parts, "## "+strings.TrimSuffix(name, ".md")+"\n"+content)
		}
	}

	c.mu.Lock()
	c.cachedBaseParts = parts
	c.mu.Unlock()
	return slices.Clone(parts)
}

// InvalidateCache drops the cached prompt when path is one of the project
// instruction files.
func (c *ContextBuilder) InvalidateCache(path string) {
	if path == "" {
		return
	}
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(c.workDir, abs)
	}
	abs = filepath.Clean(abs)
	for _, name := range projectFiles {
		if abs == filepath.Join(c.workDir, name) {
			c.mu.Lock()
			c.cachedBaseParts = nil
			c.mu.Unlock()
			return
		}
	}
}

func (c *ContextBuilder) coreIdentity() string {
	return `You are Farcode, a senior software engineering agent working in the user's project.
Use the tools to inspect and change files and to run commands. Every tool call is
checked against a security policy and may need the user's approval.
When a tool reports that a call was denied, do not retry the same call; explain what
you wanted to do and ask the user how to proceed.
Be concise and precise.`
}

func (c *ContextBuilder) environmentSection() string {
	var sb strings.Builder
	sb.WriteString("## Environment\n")
	sb.WriteString(fmt.Sprintf("- Working directory: %s\n", c.workDir))
	if c.policy != nil {
		sb.WriteString(fmt.Sprintf("- Accessible roots: %s\n", strings.Join(c.policy.AllowedRoots(), ", ")))
		sb.WriteString(fmt.Sprintf("- Shell commands allowed: %s\n", strings.Join(c.policy.AllowedCommands(), ", ")))
		sb.WriteString(fmt.Sprintf("- Command timeout: %s\n", c.policy.Timeout()))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (c *ContextBuilder) readProjectFile(name string) string {
	data, err := os.ReadFile(filepath.Join(c.workDir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// BuildMessages constructs the full message list
func (c *ContextBuilder) BuildMessages(history []*session.Message, current string) []*schema.Message {
	messages := make([]*schema.Message, 0, len(history)+2)

	messages = append(messages, &schema.Message{
		Role:    schema.System,
		Content: c.BuildSystemPrompt(),
	})

	for _, h := range history {
		role := schema.User
		if h.Role == "assistant" {
			role = schema.Assistant
		}
		messages = append(messages, &schema.Message{
			Role:    role,
			Content: h.Content,
		})
	}

	messages = append(messages, &schema.Message{
		Role:    schema.User,
		Content: strings.TrimSpace(current),
	})

	return messages
}
