package command

import (
	"context"
	"fmt"
	"strings"
)

// ApprovalsCommand implements /approvals and lists tools approved for the
// rest of the session.
type ApprovalsCommand struct{}

func (c *ApprovalsCommand) Name() string        { return "approvals" }
func (c *ApprovalsCommand) Description() string { return "List tools approved for this session" }

func (c *ApprovalsCommand) Execute(_ context.Context, _ string, env Env) Result {
	if env.Session == nil || env.Session.Approvals == nil {
		return Result{Content: "No active session."}
	}
	approved := env.Session.Approvals.Approved()
	if len(approved) == 0 {
		return Result{Content: "No session approvals yet."}
	}
	var sb strings.Builder
	sb.WriteString("**Approved for this session:**\n\n")
	for _, name := range approved {
		sb.WriteString(fmt.Sprintf("- `%s`\n", name))
	}
	return Result{Content: sb.String()}
}
