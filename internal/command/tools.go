package command

import (
	"context"
	"fmt"
	"strings"
)

// ToolsCommand implements /tools and lists the tools the agent can call.
type ToolsCommand struct{}

func (c *ToolsCommand) Name() string        { return "tools" }
func (c *ToolsCommand) Description() string { return "List tools available to the agent" }

func (c *ToolsCommand) Execute(ctx context.Context, _ string, env Env) Result {
	if env.Tools == nil {
		return Result{Content: "No tools registered."}
	}
	infos, err := env.Tools.ToolInfos(ctx)
	if err != nil {
		return Result{Content: "Error: " + err.Error()}
	}
	if len(infos) == 0 {
		return Result{Content: "No tools registered."}
	}
	var sb strings.Builder
	sb.WriteString("**Tools:**\n\n")
	for _, info := range infos {
		desc := strings.TrimSpace(strings.SplitN(info.Desc, "\n", 2)[0])
		sb.WriteString(fmt.Sprintf("- `%s`: %s\n", info.Name, desc))
	}
	return Result{Content: sb.String()}
}
