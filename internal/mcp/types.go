package mcp

import (
	"context"
	"encoding/json"

	"github.com/MEKXH/farcode/internal/config"
)

// ToolDefinition describes a tool discovered from an MCP server.
type ToolDefinition struct {
	Name        string
	Description string
	// InputSchema is the raw JSON schema advertised by the server, if any.
	InputSchema json.RawMessage
}

// Client is the MCP client abstraction used by the manager.
type Client interface {
	ListTools(ctx context.Context) ([]ToolDefinition, error)
	CallTool(ctx context.Context, toolName, argsJSON string) (any, error)
	Close() error
}

// Connector launches a server and returns a client speaking to it.
type Connector interface {
	Connect(ctx context.Context, cfg config.MCPServerConfig) (Client, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, cfg config.MCPServerConfig) (Client, error)

func (f ConnectorFunc) Connect(ctx context.Context, cfg config.MCPServerConfig) (Client, error) {
	return f(ctx, cfg)
}

// ServerStatus represents current manager state for one configured server.
type ServerStatus struct {
	Name      string
	Command   string
	Connected bool
	Degraded  bool
	ToolCount int
	Message   string
}
