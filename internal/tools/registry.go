package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// Tool is an eino invokable tool.
type Tool = tool.InvokableTool

// GuardAction is a guard's verdict on one call.
type GuardAction string

const (
	GuardAllow GuardAction = "allow"
	GuardDeny  GuardAction = "deny"
)

// GuardResult is returned by a Guard. Finish, when set, is called once the
// registry knows whether the tool actually ran.
type GuardResult struct {
	Action  GuardAction
	Message string
	Cause   error
	Finish  func(executed bool)
}

// Guard decides whether a call may reach its tool.
type Guard func(ctx context.Context, name, argsJSON string) (GuardResult, error)

// DeniedError is returned by Execute when the guard refuses a call.
type DeniedError struct {
	Tool    string
	Message string
	Cause   error
}

func (e *DeniedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "tool call denied: " + e.Tool
}

func (e *DeniedError) Unwrap() error { return e.Cause }

// Observation is what a tool call hands back to the agent.
type Observation struct {
	Text    string
	Success bool
}

// Registry holds tools in registration order.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]Tool
	guard Guard
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(t Tool) error {
	info, err := t.Info(context.Background())
	if err != nil {
		return err
	}
	if info == nil || info.Name == "" {
		return fmt.Errorf("tool info missing name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[info.Name]; exists {
		return fmt.Errorf("tool already registered: %s", info.Name)
	}
	r.tools[info.Name] = t
	r.order = append(r.order, info.Name)
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	return t, ok
}

// List returns all tools in registration order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.tools[name])
	}
	return result
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// ToolInfos returns the schema of every tool, for binding to a chat model.
func (r *Registry) ToolInfos(ctx context.Context) ([]*schema.ToolInfo, error) {
	list := r.List()
	infos := make([]*schema.ToolInfo, 0, len(list))
	for _, t := range list {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// SetGuard installs the guard consulted before every Execute.
func (r *Registry) SetGuard(g Guard) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.guard = g
}

// Clone copies the tool list into a new registry without the guard.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := NewRegistry()
	out.order = append(out.order, r.order...)
	for name, t := range r.tools {
		out.tools[name] = t
	}
	return out
}

// Execute runs a tool after the guard allows it.
func (r *Registry) Execute(ctx context.Context, name, argsJSON string) (string, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	guard := r.guard
	r.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("tool not found: %s", name)
	}

	if guard != nil {
		res, err := guard(ctx, name, argsJSON)
		if err != nil {
			return "", err
		}
		if res.Action != GuardAllow {
			if res.Finish != nil {
				res.Finish(false)
			}
			slog.Debug("tool call refused by guard", "tool", name, "call", InvocationFromContext(ctx))
			return "", &DeniedError{Tool: name, Message: res.Message, Cause: res.Cause}
		}
		if res.Finish != nil {
			defer res.Finish(true)
		}
	}

	return t.InvokableRun(ctx, argsJSON)
}

// Invoke is Execute with string arguments and the result folded into an
// Observation.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]string) Observation {
	if args == nil {
		args = map[string]string{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return Observation{Text: "Error: " + err.Error()}
	}
	result, err := r.Execute(ctx, name, string(raw))
	if err != nil {
		return Observation{Text: "Error: " + strings.TrimSpace(err.Error())}
	}
	return Observation{Text: result, Success: true}
}
