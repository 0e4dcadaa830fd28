package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/eino-contrib/jsonschema"
)

const toolPrefix = "mcp."

const noOutput = "(no output)"

// ToolName returns the registry name of a remote tool: mcp.<server>.<tool>.
func ToolName(server, name string) string {
	return toolPrefix + strings.TrimSpace(server) + "." + strings.TrimSpace(name)
}

// SplitToolName reverses ToolName. Server names never contain dots, so the
// remote tool name may.
func SplitToolName(full string) (server, name string, ok bool) {
	rest, found := strings.CutPrefix(full, toolPrefix)
	if !found {
		return "", "", false
	}
	server, name, ok = strings.Cut(rest, ".")
	if !ok || server == "" || name == "" {
		return "", "", false
	}
	return server, name, true
}

// remoteTool exposes one discovered server tool to the registry. Calls go
// through the manager so a closed server fails cleanly.
type remoteTool struct {
	manager *Manager
	server  string
	name    string
	desc    string
	params  *schema.ParamsOneOf
}

func newToolAdapter(manager *Manager, server string, def ToolDefinition) remoteTool {
	name := strings.TrimSpace(def.Name)
	desc := strings.TrimSpace(def.Description)
	if desc == "" {
		desc = fmt.Sprintf("Remote tool %s from server %s", name, server)
	}
	return remoteTool{
		manager: manager,
		server:  strings.TrimSpace(server),
		name:    name,
		desc:    desc,
		params:  paramsFromSchema(def.InputSchema),
	}
}

// paramsFromSchema converts the server's input schema. A schema that does
// not decode leaves the tool without declared parameters.
func paramsFromSchema(raw json.RawMessage) *schema.ParamsOneOf {
	if len(raw) == 0 {
		return nil
	}
	js := &jsonschema.Schema{}
	if err := json.Unmarshal(raw, js); err != nil {
		return nil
	}
	return schema.NewParamsOneOfByJSONSchema(js)
}

func (t remoteTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name:        ToolName(t.server, t.name),
		Desc:        t.desc,
		ParamsOneOf: t.params,
		Extra: map[string]any{
			"provider": "mcp",
			"server":   t.server,
			"tool":     t.name,
		},
	}, nil
}

func (t remoteTool) InvokableRun(ctx context.Context, argsJSON string, opts ...tool.Option) (string, error) {
	if t.manager == nil {
		return "", fmt.Errorf("remote tool %s: server %s is not connected", t.name, t.server)
	}
	if strings.TrimSpace(argsJSON) == "" {
		argsJSON = "{}"
	}
	return t.manager.CallTool(ctx, t.server, t.name, argsJSON)
}

// normalizeToolResult turns whatever the client decoded into observation
// text. Empty results read as "(no output)".
func normalizeToolResult(v any) string {
	var text string
	switch value := v.(type) {
	case nil:
	case string:
		text = value
	case []byte:
		text = string(value)
	case fmt.Stringer:
		text = value.String()
	default:
		if data, err := json.Marshal(value); err == nil {
			text = string(data)
		} else {
			text = fmt.Sprint(value)
		}
	}
	text = strings.TrimSpace(text)
	if text == "" || text == "null" {
		return noOutput
	}
	return text
}
