package command

import (
	"context"
	"fmt"
	"strings"
)

// HelpCommand implements /help. With an argument it describes one command.
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Description() string { return "List slash commands, or describe one: /help <name>" }

func (c *HelpCommand) Execute(_ context.Context, args string, env Env) Result {
	var cmds []Command
	if env.ListCommands != nil {
		cmds = env.ListCommands()
	}

	if name := strings.TrimPrefix(strings.TrimSpace(args), "/"); name != "" {
		for _, cmd := range cmds {
			if cmd.Name() == name {
				return Result{Content: fmt.Sprintf("`/%s`: %s", cmd.Name(), cmd.Description())}
			}
		}
		return Result{Content: fmt.Sprintf("Unknown command: /%s", name)}
	}

	var sb strings.Builder
	sb.WriteString("**Commands**\n\n")
	for _, cmd := range cmds {
		fmt.Fprintf(&sb, "- `/%s`: %s\n", cmd.Name(), cmd.Description())
	}
	sb.WriteString("\nTool calls that need approval prompt with `y` (once), `a` (this session) or `n` (deny).\n")
	sb.WriteString("Type `exit` or `quit` to leave.\n")
	return Result{Content: sb.String()}
}
