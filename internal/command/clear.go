package command

import (
	"context"
	"log/slog"
)

// ClearCommand implements /clear: history and session approvals are dropped.
type ClearCommand struct{}

func (c *ClearCommand) Name() string        { return "clear" }
func (c *ClearCommand) Description() string { return "Start over: clear history and session approvals" }

func (c *ClearCommand) Execute(_ context.Context, _ string, env Env) Result {
	if env.Session == nil {
		return Result{Content: "No active session."}
	}
	env.Session.Clear()
	slog.Info("session cleared via /clear", "session_id", env.Session.ID)
	return Result{Content: "Session cleared. Approvals were revoked."}
}
