package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/MEKXH/farcode/internal/approval"
	"github.com/MEKXH/farcode/internal/audit"
	"github.com/MEKXH/farcode/internal/mcp"
	"github.com/MEKXH/farcode/internal/session"
	"github.com/MEKXH/farcode/internal/shell"
	"github.com/MEKXH/farcode/internal/tools"
)

const maxSummaryLen = 200

// guard routes every call of one session through the approval gate.
func (a *App) guard(sess *session.Session) tools.Guard {
	return func(ctx context.Context, name, argsJSON string) (tools.GuardResult, error) {
		ticket, err := a.Gate.RequestApproval(ctx, approval.Request{
			ToolName: name,
			ArgsJSON: argsJSON,
			Summary:  summarize(name, argsJSON),
		}, sess.Approvals)
		if err != nil {
			return tools.GuardResult{}, err
		}

		requestID := tools.InvocationFromContext(ctx).RequestID
		started := time.Now()
		finish := func(executed bool) {
			if err := ticket.Finish(executed); err != nil {
				slog.Warn("finish approval ticket failed", "ticket", ticket.ID, "error", err)
				return
			}
			a.appendAudit(audit.Event{
				Type:       audit.TypeApproval,
				SessionID:  sess.ID,
				RequestID:  requestID,
				TicketID:   ticket.ID,
				Tool:       name,
				Result:     string(ticket.State()),
				DurationMs: time.Since(started).Milliseconds(),
			})
		}

		if !ticket.Approved() {
			return tools.GuardResult{
				Action:  tools.GuardDeny,
				Message: ticket.Observation(),
				Cause:   ticket.Err(),
				Finish:  finish,
			}, nil
		}
		return tools.GuardResult{Action: tools.GuardAllow, Finish: finish}, nil
	}
}

func (a *App) observeApproval(ev approval.Event) {
	outcome := approvalOutcome(ev)
	if _, err := a.Metrics.RecordApproval(outcome); err != nil {
		slog.Warn("record guard metrics failed", "scope", "approval", "error", err)
	}
	a.appendAudit(audit.Event{
		Type:      audit.TypeApproval,
		SessionID: ev.SessionID,
		TicketID:  ev.TicketID,
		Tool:      ev.ToolName,
		Result:    outcome,
		Reason:    ev.Reason,
	})
	slog.Info("approval decided",
		"tool", ev.ToolName,
		"ticket", ev.TicketID,
		"session_id", ev.SessionID,
		"outcome", outcome,
	)
}

func approvalOutcome(ev approval.Event) string {
	switch {
	case ev.State == approval.StateDenied:
		return "denied"
	case ev.Auto:
		return "auto_approved"
	case ev.Scope == approval.ScopeForSession:
		return "approved_session"
	default:
		return "approved_once"
	}
}

func (a *App) recordVerdict(ctx context.Context, command string, verdict shell.Verdict) {
	if _, err := a.Metrics.RecordVerdict(verdict.Allowed, string(verdict.Reason)); err != nil {
		slog.Warn("record guard metrics failed", "scope", "verdict", "error", err)
	}
	inv := tools.InvocationFromContext(ctx)
	result := "allowed"
	if !verdict.Allowed {
		result = "denied"
		slog.Info("command denied", "command", command, "reason", verdict.Reason, "path", verdict.Path)
	}
	detail := verdict.Path
	if detail == "" {
		detail = verdict.Detail
	}
	a.appendAudit(audit.Event{
		Type:      audit.TypeVerdict,
		SessionID: inv.SessionID,
		RequestID: inv.RequestID,
		Tool:      "shell",
		Command:   command,
		Result:    result,
		Reason:    string(verdict.Reason),
		Detail:    detail,
	})
}

func (a *App) recordResult(ctx context.Context, command string, res shell.Result) {
	inv := tools.InvocationFromContext(ctx)
	result := "exited"
	if res.TimedOut {
		result = "timeout"
	}
	exitCode := res.ExitCode
	a.appendAudit(audit.Event{
		Type:       audit.TypeExecution,
		SessionID:  inv.SessionID,
		RequestID:  inv.RequestID,
		Tool:       "shell",
		Command:    command,
		Result:     result,
		ExitCode:   &exitCode,
		DurationMs: res.Duration.Milliseconds(),
	})
}

func (a *App) appendAudit(ev audit.Event) {
	if err := a.Audit.Append(ev); err != nil {
		slog.Warn("append audit event failed", "type", ev.Type, "error", err)
	}
}

// summarize renders the arguments a human needs to decide on a call.
func summarize(name, argsJSON string) string {
	var args map[string]any
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return truncate(strings.TrimSpace(argsJSON))
	}
	switch name {
	case "shell":
		cmd, _ := args["command"].(string)
		if dir, _ := args["working_dir"].(string); dir != "" {
			return truncate(cmd + "  (in " + dir + ")")
		}
		return truncate(cmd)
	case "read_file", "write_file", "edit_file", "list_dir":
		if path, ok := args["path"].(string); ok {
			return name + " " + truncate(path)
		}
	case "search_files":
		if pattern, ok := args["pattern"].(string); ok {
			return "search " + truncate(pattern)
		}
	}
	if server, tool, ok := mcp.SplitToolName(name); ok {
		return truncate(server + "/" + tool + " " + strings.TrimSpace(argsJSON))
	}
	return truncate(strings.TrimSpace(argsJSON))
}

func truncate(s string) string {
	if len(s) <= maxSummaryLen {
		return s
	}
	return s[:maxSummaryLen] + "..."
}
