//go:build unix

package app

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/MEKXH/farcode/internal/approval"
	"github.com/MEKXH/farcode/internal/audit"
	"github.com/MEKXH/farcode/internal/config"
	"github.com/MEKXH/farcode/internal/mcp"
)

type fakeClient struct{}

func (fakeClient) ListTools(context.Context) ([]mcp.ToolDefinition, error) {
	return []mcp.ToolDefinition{{Name: "lookup", Description: "Look things up"}}, nil
}

func (fakeClient) CallTool(_ context.Context, name, argsJSON string) (any, error) {
	return "remote " + name + " " + argsJSON, nil
}

func (fakeClient) Close() error { return nil }

func okConnector() mcp.Connector {
	return mcp.ConnectorFunc(func(context.Context, config.MCPServerConfig) (mcp.Client, error) {
		return fakeClient{}, nil
	})
}

func failingConnector() mcp.Connector {
	return mcp.ConnectorFunc(func(context.Context, config.MCPServerConfig) (mcp.Client, error) {
		return nil, errors.New("spawn failed")
	})
}

type fixture struct {
	app      *App
	prompter *approval.ScriptedPrompter
	cwd      string
}

func newFixture(t *testing.T, cfg *config.Config, connector mcp.Connector, choices ...approval.Choice) fixture {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	settings := filepath.Join(t.TempDir(), "settings.json")
	t.Setenv(config.SettingsPathEnv, settings)
	if connector != nil {
		body := `{"mcpServers": {"docs": {"command": "docs-server"}}}`
		if err := os.WriteFile(settings, []byte(body), 0o644); err != nil {
			t.Fatalf("WriteFile settings: %v", err)
		}
	}

	cwd := t.TempDir()
	prompter := approval.NewScriptedPrompter(choices...)
	a, err := New(cfg, Options{
		Prompter:  prompter,
		Connector: connector,
		StateDir:  t.TempDir(),
		Cwd:       cwd,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return fixture{app: a, prompter: prompter, cwd: a.Cwd}
}

func (f fixture) conversation(t *testing.T) *Conversation {
	t.Helper()
	conv, err := f.app.NewSession(context.Background())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return conv
}

func TestNew_DefaultsRootToWorkingDirectory(t *testing.T) {
	f := newFixture(t, nil, nil)
	roots := f.app.Policy.AllowedRoots()
	if len(roots) != 1 || roots[0] != f.cwd {
		t.Fatalf("expected root %s, got %v", f.cwd, roots)
	}
}

func TestNew_PolicyFileErrorIsFatal(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Shell.PolicyFile = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := New(cfg, Options{StateDir: t.TempDir(), Cwd: t.TempDir()}); err == nil {
		t.Fatal("expected error for missing policy file")
	}
}

func TestConversation_LocalToolsOnlyWithoutServers(t *testing.T) {
	f := newFixture(t, nil, nil)
	conv := f.conversation(t)
	want := []string{"shell", "read_file", "write_file", "edit_file", "list_dir", "search_files"}
	if got := conv.Tools.Names(); !slices.Equal(got, want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
}

func TestConversation_ApproveOnceRepromptsNextCall(t *testing.T) {
	f := newFixture(t, nil, nil, approval.ChoiceApproveOnce, approval.ChoiceApproveOnce)
	conv := f.conversation(t)

	for i := 0; i < 2; i++ {
		obs := conv.Tools.Invoke(context.Background(), "shell", map[string]string{"command": "echo hi"})
		if !obs.Success || strings.TrimSpace(obs.Text) != "hi" {
			t.Fatalf("call %d: unexpected observation %+v", i, obs)
		}
	}
	reqs := f.prompter.Requests()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 prompts, got %d", len(reqs))
	}
	if reqs[0].Summary != "echo hi" {
		t.Fatalf("unexpected prompt summary %q", reqs[0].Summary)
	}
	if len(conv.Session.Approvals.Approved()) != 0 {
		t.Fatal("approve once must not persist")
	}
}

func TestConversation_ApproveForSessionIsRemembered(t *testing.T) {
	f := newFixture(t, nil, nil, approval.ChoiceApproveForSession)
	conv := f.conversation(t)

	for i := 0; i < 3; i++ {
		if obs := conv.Tools.Invoke(context.Background(), "shell", map[string]string{"command": "echo ok"}); !obs.Success {
			t.Fatalf("call %d failed: %+v", i, obs)
		}
	}
	if n := len(f.prompter.Requests()); n != 1 {
		t.Fatalf("expected exactly 1 prompt, got %d", n)
	}

	other := f.conversation(t)
	obs := other.Tools.Invoke(context.Background(), "shell", map[string]string{"command": "echo ok"})
	if obs.Success {
		t.Fatal("approvals leaked into another session")
	}
	if n := len(f.prompter.Requests()); n != 2 {
		t.Fatalf("expected the second session to prompt, got %d prompts", n)
	}

	if err := f.app.CloseSession(conv); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
	if conv.Session.Approvals.IsApproved("shell") {
		t.Fatal("expected approvals cleared on close")
	}
}

func TestConversation_DenialIsObservationAndAudited(t *testing.T) {
	f := newFixture(t, nil, nil, approval.ChoiceDeny)
	conv := f.conversation(t)

	target := filepath.Join(f.cwd, "out.txt")
	obs := conv.Tools.Invoke(context.Background(), "write_file", map[string]string{"path": target, "content": "x"})
	if obs.Success {
		t.Fatal("expected denied call")
	}
	if !strings.Contains(obs.Text, "Tool execution denied") {
		t.Fatalf("unexpected observation %q", obs.Text)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatalf("denied write must not touch the file: %v", err)
	}

	snap := f.app.Metrics.Snapshot()
	if snap.Approvals.ByOutcome["denied"] != 1 {
		t.Fatalf("expected one denied approval, got %+v", snap.Approvals)
	}

	events, err := audit.ReadEvents(f.app.Audit.Path(), 0)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	var results []string
	for _, ev := range events {
		if ev.Type == audit.TypeApproval {
			results = append(results, ev.Result)
		}
	}
	if !slices.Equal(results, []string{"denied", string(approval.StateSkipped)}) {
		t.Fatalf("unexpected approval audit trail %v", results)
	}
}

func TestConversation_ValidatorRunsAfterApproval(t *testing.T) {
	f := newFixture(t, nil, nil, approval.ChoiceApproveOnce)
	conv := f.conversation(t)

	obs := conv.Tools.Invoke(context.Background(), "shell", map[string]string{"command": "ls /etc"})
	if obs.Success {
		t.Fatalf("expected path escape denial, got %+v", obs)
	}
	if !strings.Contains(obs.Text, "/etc") {
		t.Fatalf("expected offending path in observation, got %q", obs.Text)
	}

	snap := f.app.Metrics.Snapshot()
	if snap.Verdicts.Denied != 1 || snap.Verdicts.ByReason["path_escapes_root"] != 1 {
		t.Fatalf("unexpected verdict metrics %+v", snap.Verdicts)
	}

	events, err := audit.ReadEvents(f.app.Audit.Path(), 0)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	found := false
	for _, ev := range events {
		if ev.Type == audit.TypeVerdict && ev.Command == "ls /etc" && ev.Reason == "path_escapes_root" {
			found = true
		}
		if ev.Type == audit.TypeExecution {
			t.Fatalf("denied command must not execute: %+v", ev)
		}
	}
	if !found {
		t.Fatalf("expected verdict audit event, got %+v", events)
	}
}

func TestConversation_RemoteToolsAutoApproved(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Approval.Mode = "relaxed"
	cfg.Approval.AutoApprove = []string{"mcp.docs.*"}
	f := newFixture(t, cfg, okConnector())
	conv := f.conversation(t)

	if !slices.Contains(conv.Tools.Names(), "mcp.docs.lookup") {
		t.Fatalf("expected remote tool registered, got %v", conv.Tools.Names())
	}
	obs := conv.Tools.Invoke(context.Background(), "mcp.docs.lookup", map[string]string{"q": "go"})
	if !obs.Success || !strings.Contains(obs.Text, "remote lookup") {
		t.Fatalf("unexpected observation %+v", obs)
	}
	if n := len(f.prompter.Requests()); n != 0 {
		t.Fatalf("expected no prompts, got %d", n)
	}
	if got := f.app.Metrics.Snapshot().Approvals.ByOutcome["auto_approved"]; got != 1 {
		t.Fatalf("expected one auto approval, got %d", got)
	}
}

func TestConversation_RemoteFailureKeepsLocalTools(t *testing.T) {
	f := newFixture(t, nil, failingConnector())
	conv := f.conversation(t)
	if slices.Contains(conv.Tools.Names(), "mcp.docs.lookup") {
		t.Fatal("did not expect remote tools")
	}
	if !slices.Contains(conv.Tools.Names(), "shell") {
		t.Fatal("expected local tools")
	}
	statuses := f.app.Bridge.Statuses()
	if len(statuses) != 1 || !statuses[0].Degraded {
		t.Fatalf("expected one degraded server, got %+v", statuses)
	}
}

func TestToolset_RemoteFailureWarnsOnce(t *testing.T) {
	f := newFixture(t, nil, failingConnector())

	var logs bytes.Buffer
	previous := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn})))
	t.Cleanup(func() { slog.SetDefault(previous) })

	f.conversation(t)
	first := strings.Count(logs.String(), "level=WARN")
	if first == 0 {
		t.Fatal("expected the remote failure to be reported")
	}

	f.conversation(t)
	if again := strings.Count(logs.String(), "level=WARN"); again != first {
		t.Fatalf("cached remote failure was logged again:\n%s", logs.String())
	}
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name, args, want string
	}{
		{"shell", `{"command":"git status"}`, "git status"},
		{"shell", `{"command":"ls","working_dir":"sub"}`, "ls  (in sub)"},
		{"read_file", `{"path":"a.go"}`, "read_file a.go"},
		{"search_files", `{"pattern":"**/*.go"}`, "search **/*.go"},
		{"mcp.x.y", `not json`, "not json"},
		{"mcp.docs.lookup", `{"q":"ctx"}`, `docs/lookup {"q":"ctx"}`},
	}
	for _, tt := range tests {
		if got := summarize(tt.name, tt.args); got != tt.want {
			t.Errorf("summarize(%s, %s) = %q, want %q", tt.name, tt.args, got, tt.want)
		}
	}
	if got := summarize("shell", `{"command":"`+strings.Repeat("a", 300)+`"}`); len(got) != maxSummaryLen+3 {
		t.Errorf("expected truncated summary, got len %d", len(got))
	}
}
