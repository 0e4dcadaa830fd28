package command

import "context"

// ExitCommand implements /exit.
type ExitCommand struct{}

func (c *ExitCommand) Name() string        { return "exit" }
func (c *ExitCommand) Description() string { return "Leave the chat" }

func (c *ExitCommand) Execute(_ context.Context, _ string, _ Env) Result {
	return Result{Content: "Bye.", Exit: true}
}
