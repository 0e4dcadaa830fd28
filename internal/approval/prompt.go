package approval

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// ErrInputClosed means the approval input reached EOF.
var ErrInputClosed = errors.New("approval input closed")

// PromptRequest is what the presentation layer shows to the human.
type PromptRequest struct {
	TicketID string
	ToolName string
	ArgsJSON string
	Summary  string
}

// Prompter asks a human to decide on one tool invocation. Implementations
// block until a choice is made or ctx ends.
type Prompter interface {
	Prompt(ctx context.Context, req PromptRequest) (Choice, error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, req PromptRequest) (Choice, error)

func (f PrompterFunc) Prompt(ctx context.Context, req PromptRequest) (Choice, error) {
	return f(ctx, req)
}

// DenyPrompter refuses everything. Used when no terminal is attached.
type DenyPrompter struct{}

func (DenyPrompter) Prompt(context.Context, PromptRequest) (Choice, error) {
	return ChoiceDeny, nil
}

// LineSource reads lines from one reader on a single goroutine so the chat
// loop and the approval prompt can share stdin.
type LineSource struct {
	in    io.Reader
	once  sync.Once
	lines chan string
	err   error
	done  chan struct{}
}

// NewLineSource wraps r. Reading starts on first use.
func NewLineSource(r io.Reader) *LineSource {
	return &LineSource{
		in:    r,
		lines: make(chan string),
		done:  make(chan struct{}),
	}
}

func (s *LineSource) start() {
	s.once.Do(func() {
		go func() {
			scanner := bufio.NewScanner(s.in)
			for scanner.Scan() {
				s.lines <- scanner.Text()
			}
			s.err = scanner.Err()
			close(s.done)
		}()
	})
}

// Next returns the next line, ErrInputClosed at EOF, or ctx.Err().
func (s *LineSource) Next(ctx context.Context) (string, error) {
	s.start()
	select {
	case line := <-s.lines:
		return line, nil
	case <-s.done:
		if s.err != nil {
			return "", s.err
		}
		return "", ErrInputClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

var (
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#8E4EC6")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#8E4EC6")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	keyStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#2E8B57"))
	denyStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#D9534F"))
)

// TerminalPrompter renders a panel and reads y / a / n from a line source.
type TerminalPrompter struct {
	lines *LineSource
	out   io.Writer
}

// NewTerminalPrompter prompts on out and reads answers from lines.
func NewTerminalPrompter(lines *LineSource, out io.Writer) *TerminalPrompter {
	return &TerminalPrompter{lines: lines, out: out}
}

func (p *TerminalPrompter) Prompt(ctx context.Context, req PromptRequest) (Choice, error) {
	fmt.Fprintln(p.out, renderPanel(req))
	for {
		fmt.Fprintf(p.out, "Allow? [%s] once  [%s] for this session  [%s] deny: ",
			keyStyle.Render("y"), keyStyle.Render("a"), denyStyle.Render("n"))

		line, err := p.lines.Next(ctx)
		if err != nil {
			fmt.Fprintln(p.out)
			return ChoiceDeny, err
		}
		if choice, ok := ParseChoice(line); ok {
			return choice, nil
		}
		fmt.Fprintln(p.out, "Please answer y, a or n.")
	}
}

func renderPanel(req PromptRequest) string {
	var body strings.Builder
	body.WriteString(titleStyle.Render("Approval required"))
	body.WriteString("\n\n")
	body.WriteString(labelStyle.Render("tool: "))
	body.WriteString(req.ToolName)
	detail := strings.TrimSpace(req.Summary)
	if detail == "" {
		detail = strings.TrimSpace(req.ArgsJSON)
	}
	if detail != "" && detail != "{}" {
		body.WriteString("\n")
		body.WriteString(labelStyle.Render("args: "))
		body.WriteString(detail)
	}
	return panelStyle.Render(body.String())
}

// ParseChoice maps a typed answer to a choice. Empty or unknown input is not
// a choice.
func ParseChoice(input string) (Choice, bool) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "y", "yes":
		return ChoiceApproveOnce, true
	case "a", "always", "s", "session":
		return ChoiceApproveForSession, true
	case "n", "no":
		return ChoiceDeny, true
	default:
		return "", false
	}
}

// ScriptedPrompter replays a fixed list of choices and records every request.
// When the script runs out it denies.
type ScriptedPrompter struct {
	mu       sync.Mutex
	choices  []Choice
	requests []PromptRequest
}

// NewScriptedPrompter returns a prompter answering with choices in order.
func NewScriptedPrompter(choices ...Choice) *ScriptedPrompter {
	return &ScriptedPrompter{choices: choices}
}

func (p *ScriptedPrompter) Prompt(ctx context.Context, req PromptRequest) (Choice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if len(p.choices) == 0 {
		return ChoiceDeny, ErrInputClosed
	}
	choice := p.choices[0]
	p.choices = p.choices[1:]
	return choice, nil
}

// Requests returns every prompt shown so far.
func (p *ScriptedPrompter) Requests() []PromptRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PromptRequest(nil), p.requests...)
}
