// Package app owns the process-lifetime guard components and hands out
// per-session tool registries.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/MEKXH/farcode/internal/approval"
	"github.com/MEKXH/farcode/internal/audit"
	"github.com/MEKXH/farcode/internal/config"
	"github.com/MEKXH/farcode/internal/mcp"
	"github.com/MEKXH/farcode/internal/metrics"
	"github.com/MEKXH/farcode/internal/policy"
	"github.com/MEKXH/farcode/internal/session"
	"github.com/MEKXH/farcode/internal/shell"
	"github.com/MEKXH/farcode/internal/tools"
)

// Options adjusts how New wires the application.
type Options struct {
	// Prompter answers approval prompts. Nil denies every prompt.
	Prompter approval.Prompter
	// Connector launches MCP servers. Nil uses the stdio connector.
	Connector mcp.Connector
	// StateDir holds the audit log, metrics and transcripts. Empty uses
	// config.StateDir().
	StateDir string
	// Cwd is the agent's working directory. Empty uses the process one.
	Cwd string
}

// App is the trust boundary for one farcode process.
type App struct {
	Config    *config.Config
	Policy    *policy.Policy
	Validator *shell.Validator
	Sandbox   *shell.Sandbox
	Shell     *tools.SecureShell
	Bridge    *mcp.Bridge
	Audit     *audit.Writer
	Metrics   *metrics.Recorder
	Gate      *approval.Gate
	Sessions  *session.Manager
	Cwd       string
	StateDir  string

	local []tools.Tool
}

// Conversation is a session together with the tools snapshotted for it.
type Conversation struct {
	Session *session.Session
	Tools   *tools.Registry
}

// New builds the policy and every component that depends on it. Any error
// is fatal for the caller: nothing may run under a policy that failed to load.
func New(cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	cwd := strings.TrimSpace(opts.Cwd)
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		cwd = wd
	}
	cwd, err := policy.Canonicalize(cwd)
	if err != nil {
		return nil, fmt.Errorf("canonicalize working directory: %w", err)
	}

	overrides, err := cfg.PolicyOverrides()
	if err != nil {
		return nil, err
	}
	if len(overrides.AllowedRoots) == 0 {
		overrides.AllowedRoots = []string{cwd}
	}
	pol, err := policy.New(overrides)
	if err != nil {
		return nil, fmt.Errorf("build policy: %w", err)
	}

	stateDir := opts.StateDir
	if stateDir == "" {
		stateDir = config.StateDir()
	}

	a := &App{
		Config:    cfg,
		Policy:    pol,
		Validator: shell.NewValidator(pol, shell.DefaultCommandSpecs()),
		Sandbox:   shell.NewSandbox(pol),
		Audit:     audit.NewWriter(stateDir),
		Metrics:   metrics.NewRecorder(stateDir),
		Sessions:  session.NewManager(stateDir),
		Cwd:       cwd,
		StateDir:  stateDir,
	}

	prompter := opts.Prompter
	if prompter == nil {
		prompter = approval.DenyPrompter{}
	}
	a.Gate = approval.NewGate(prompter, approval.GateOptions{
		Mode:          approval.Mode(cfg.Approval.Mode),
		AutoApprove:   cfg.Approval.AutoApprove,
		PromptTimeout: cfg.PromptTimeout(),
		Observer:      a.observeApproval,
	})

	settingsPath := config.SettingsPath(cfg)
	a.Bridge = mcp.NewBridge(func() ([]config.MCPServerConfig, error) {
		return config.LoadMCPServers(settingsPath)
	}, opts.Connector, cfg.ConnectTimeout())

	a.Shell = tools.NewSecureShell(a.Validator, a.Sandbox, cwd, tools.ShellHooks{
		OnVerdict: a.recordVerdict,
		OnResult:  a.recordResult,
	})
	if a.local, err = a.buildLocalTools(); err != nil {
		return nil, err
	}

	slog.Debug("application ready",
		"cwd", cwd,
		"roots", pol.AllowedRoots(),
		"approval_mode", cfg.Approval.Mode,
		"state_dir", stateDir,
	)
	return a, nil
}

func (a *App) buildLocalTools() ([]tools.Tool, error) {
	shellTool, err := a.Shell.Tool()
	if err != nil {
		return nil, fmt.Errorf("build shell tool: %w", err)
	}
	fileTools, err := tools.NewFileTools(tools.FileAccess{Validator: a.Validator, Cwd: a.Cwd})
	if err != nil {
		return nil, fmt.Errorf("build file tools: %w", err)
	}
	return append([]tools.Tool{shellTool}, fileTools...), nil
}

// SettingsPath is where MCP servers are read from.
func (a *App) SettingsPath() string {
	return config.SettingsPath(a.Config)
}

// NewSession starts a fresh conversation.
func (a *App) NewSession(ctx context.Context) (*Conversation, error) {
	return a.conversation(ctx, a.Sessions.Create())
}

// ResumeSession reloads a stored transcript. Approvals are not restored.
func (a *App) ResumeSession(ctx context.Context, id string) (*Conversation, error) {
	sess, err := a.Sessions.Resume(id)
	if err != nil {
		return nil, err
	}
	return a.conversation(ctx, sess)
}

// CloseSession persists the transcript and revokes every approval.
func (a *App) CloseSession(conv *Conversation) error {
	if conv == nil || conv.Session == nil {
		return nil
	}
	return a.Sessions.Close(conv.Session)
}

func (a *App) conversation(ctx context.Context, sess *session.Session) (*Conversation, error) {
	registry, err := a.Toolset(ctx, sess)
	if err != nil {
		return nil, err
	}
	return &Conversation{Session: sess, Tools: registry}, nil
}

// Toolset snapshots the local tools and the remote tools into a registry
// guarded by the session's approvals. Remote failures leave only local tools.
func (a *App) Toolset(ctx context.Context, sess *session.Session) (*tools.Registry, error) {
	if sess == nil || sess.Approvals == nil {
		return nil, errors.New("session is required")
	}
	registry := tools.NewRegistry()
	for _, t := range a.local {
		if err := registry.Register(t); err != nil {
			return nil, err
		}
	}

	remote, err := a.Bridge.Tools(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Debug("continuing with local tools only", "error", err)
	}
	for _, t := range remote {
		if err := registry.Register(t); err != nil {
			slog.Warn("skip remote tool", "error", err)
		}
	}

	registry.SetGuard(a.guard(sess))
	return registry, nil
}

// Close stops the MCP servers.
func (a *App) Close() error {
	if a == nil || a.Bridge == nil {
		return nil
	}
	return a.Bridge.Close()
}
