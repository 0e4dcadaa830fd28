package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MEKXH/farcode/internal/config"
	"github.com/MEKXH/farcode/internal/tools"
)

type serverState struct {
	cfg    config.MCPServerConfig
	client Client
	tools  []ToolDefinition
	status ServerStatus
}

// Manager owns the configured MCP servers of one settings snapshot. Servers
// are connected once; a server that fails stays degraded until the manager
// is replaced.
type Manager struct {
	mu             sync.RWMutex
	connector      Connector
	connectTimeout time.Duration
	order          []string
	servers        map[string]*serverState
}

// NewManager constructs a manager over the enabled servers, keeping their
// configured order.
func NewManager(servers []config.MCPServerConfig, connector Connector, connectTimeout time.Duration) *Manager {
	m := &Manager{
		connector:      connector,
		connectTimeout: connectTimeout,
		servers:        make(map[string]*serverState, len(servers)),
	}
	for _, cfg := range servers {
		if !config.IsMCPServerEnabled(cfg) {
			continue
		}
		if _, dup := m.servers[cfg.Name]; dup {
			continue
		}
		m.order = append(m.order, cfg.Name)
		m.servers[cfg.Name] = &serverState{
			cfg: cfg,
			status: ServerStatus{
				Name:    cfg.Name,
				Command: strings.TrimSpace(strings.Join(append([]string{cfg.Command}, cfg.Args...), " ")),
			},
		}
	}
	return m
}

// DefaultConnector returns the production stdio connector.
func DefaultConnector() Connector {
	return newStdioConnector()
}

// Len reports the number of enabled servers.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

// Connect launches each server and discovers its tools.
// Failures are tracked as degraded states and do not fail the entire manager.
func (m *Manager) Connect(ctx context.Context) error {
	for _, name := range m.serverNames() {
		if err := ctx.Err(); err != nil {
			return err
		}

		cfg, ok := m.serverConfig(name)
		if !ok {
			continue
		}

		client, discovered, err := m.connectAndDiscover(ctx, cfg)
		if err != nil {
			slog.Warn("mcp server unavailable", "server", name, "error", err)
			m.markDegraded(name, fmt.Sprintf("connect failed: %v", err))
			continue
		}
		slog.Debug("mcp server connected", "server", name, "tools", len(discovered))
		m.markConnected(name, client, discovered)
	}
	return nil
}

// Healthy reports how many servers connected successfully.
func (m *Manager) Healthy() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, state := range m.servers {
		if state.status.Connected {
			n++
		}
	}
	return n
}

// Tools returns adapters for every tool of every connected server.
func (m *Manager) Tools() []tools.Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]tools.Tool, 0)
	for _, serverName := range m.order {
		state := m.servers[serverName]
		if state == nil || state.status.Degraded || state.client == nil {
			continue
		}
		for _, td := range state.tools {
			if strings.TrimSpace(td.Name) == "" {
				continue
			}
			result = append(result, newToolAdapter(m, serverName, td))
		}
	}
	return result
}

// RegisterTools registers discovered MCP tools into the given registry.
func (m *Manager) RegisterTools(reg *tools.Registry) error {
	if reg == nil {
		return fmt.Errorf("registry is required")
	}
	for _, entry := range m.Tools() {
		if err := reg.Register(entry); err != nil {
			return err
		}
	}
	return nil
}

// CallTool routes a raw tool call to the selected MCP server client.
func (m *Manager) CallTool(ctx context.Context, serverName, toolName, argsJSON string) (string, error) {
	client, err := m.currentClient(serverName)
	if err != nil {
		return "", err
	}

	result, err := client.CallTool(ctx, toolName, argsJSON)
	if err != nil {
		return "", fmt.Errorf("mcp server %s: %w", serverName, err)
	}
	return normalizeToolResult(result), nil
}

// Statuses returns per-server connection/discovery status in configured order.
func (m *Manager) Statuses() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ServerStatus, 0, len(m.order))
	for _, name := range m.order {
		if state := m.servers[name]; state != nil {
			out = append(out, state.status)
		}
	}
	return out
}

// Close shuts down every launched server.
func (m *Manager) Close() error {
	m.mu.Lock()
	clients := make([]Client, 0, len(m.servers))
	for _, state := range m.servers {
		if state.client != nil {
			clients = append(clients, state.client)
			state.client = nil
			state.status.Connected = false
		}
	}
	m.mu.Unlock()

	var errs []error
	for _, c := range clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) currentClient(serverName string) (Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state := m.servers[serverName]
	if state == nil {
		return nil, fmt.Errorf("mcp server not found: %s", serverName)
	}
	if state.client == nil {
		msg := strings.TrimSpace(state.status.Message)
		if msg == "" {
			msg = "not connected"
		}
		return nil, fmt.Errorf("mcp server %s unavailable: %s", serverName, msg)
	}
	return state.client, nil
}

func (m *Manager) connectAndDiscover(ctx context.Context, cfg config.MCPServerConfig) (Client, []ToolDefinition, error) {
	if m.connector == nil {
		return nil, nil, fmt.Errorf("no connector configured")
	}
	if m.connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.connectTimeout)
		defer cancel()
	}

	client, err := m.connector.Connect(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	discovered, err := client.ListTools(ctx)
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("list tools failed: %w", err)
	}
	return client, discovered, nil
}

func (m *Manager) markConnected(name string, client Client, discovered []ToolDefinition) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.servers[name]
	if state == nil {
		return
	}

	state.client = client
	state.tools = append([]ToolDefinition(nil), discovered...)
	state.status.Connected = true
	state.status.Degraded = false
	state.status.ToolCount = len(discovered)
	state.status.Message = ""
}

func (m *Manager) markDegraded(name, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.servers[name]
	if state == nil {
		return
	}

	state.client = nil
	state.tools = nil
	state.status.Connected = false
	state.status.Degraded = true
	state.status.ToolCount = 0
	state.status.Message = strings.TrimSpace(msg)
}

func (m *Manager) serverNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

func (m *Manager) serverConfig(name string) (config.MCPServerConfig, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state := m.servers[name]
	if state == nil {
		return config.MCPServerConfig{}, false
	}
	return state.cfg, true
}
