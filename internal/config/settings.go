package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/MEKXH/farcode/internal/policy"
)

// SettingsPathEnv overrides the location of the MCP settings file.
const SettingsPathEnv = "FARCODE_SETTINGS_PATH"

// TransportStdio is the only supported MCP transport.
const TransportStdio = "stdio"

// MCPServerConfig describes one command-launched MCP server.
type MCPServerConfig struct {
	Name      string            `json:"name"`
	Transport string            `json:"transport"`
	Command   string            `json:"command"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Enabled   *bool             `json:"enabled,omitempty"`
}

// IsMCPServerEnabled reports whether a server should be connected.
// Servers without an explicit flag are enabled.
func IsMCPServerEnabled(server MCPServerConfig) bool {
	return server.Enabled == nil || *server.Enabled
}

// SettingsPath resolves the MCP settings file: the environment variable wins,
// then mcp.settings_path, then settings.json in the config directory.
func SettingsPath(cfg *Config) string {
	if env := strings.TrimSpace(os.Getenv(SettingsPathEnv)); env != "" {
		if expanded, err := policy.ExpandHome(env); err == nil {
			return expanded
		}
		return env
	}
	if cfg != nil {
		if p := strings.TrimSpace(cfg.MCP.SettingsPath); p != "" {
			if expanded, err := policy.ExpandHome(p); err == nil {
				return expanded
			}
			return p
		}
	}
	return filepath.Join(ConfigDir(), "settings.json")
}

// LoadMCPServers reads the mcpServers section of a settings file. Both the
// array form and the name-keyed object form are accepted; object order is
// preserved. A missing file yields no servers. Malformed entries are logged
// and skipped. Malformed JSON is returned as an error.
func LoadMCPServers(path string) ([]MCPServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read mcp settings: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var doc struct {
		MCPServers json.RawMessage `json:"mcpServers"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse mcp settings %s: %w", path, err)
	}

	raw := bytes.TrimSpace(doc.MCPServers)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var entries []namedEntry
	switch raw[0] {
	case '[':
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("parse mcp settings %s: %w", path, err)
		}
		for _, item := range list {
			entries = append(entries, namedEntry{raw: item})
		}
	case '{':
		entries, err = orderedEntries(raw)
		if err != nil {
			return nil, fmt.Errorf("parse mcp settings %s: %w", path, err)
		}
	default:
		slog.Warn("mcpServers must be an array or an object, ignoring", "path", path)
		return nil, nil
	}

	servers := make([]MCPServerConfig, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for i, entry := range entries {
		server, err := decodeServer(entry)
		if err != nil {
			slog.Warn("skipping invalid mcp server entry", "path", path, "index", i, "error", err)
			continue
		}
		if _, dup := seen[server.Name]; dup {
			slog.Warn("skipping duplicate mcp server", "path", path, "server", server.Name)
			continue
		}
		seen[server.Name] = struct{}{}
		servers = append(servers, server)
	}
	return servers, nil
}

type namedEntry struct {
	name string
	raw  json.RawMessage
}

func orderedEntries(raw json.RawMessage) ([]namedEntry, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	var out []namedEntry
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		out = append(out, namedEntry{name: key, raw: value})
	}
	return out, nil
}

func decodeServer(entry namedEntry) (MCPServerConfig, error) {
	var server MCPServerConfig
	raw := bytes.TrimSpace(entry.raw)
	if len(raw) == 0 || raw[0] != '{' {
		return server, errors.New("entry is not an object")
	}
	if err := json.Unmarshal(raw, &server); err != nil {
		return server, err
	}
	if entry.name != "" {
		server.Name = entry.name
	}
	server.Name = strings.TrimSpace(server.Name)
	server.Command = strings.TrimSpace(server.Command)
	server.Transport = strings.ToLower(strings.TrimSpace(server.Transport))
	if server.Transport == "" {
		server.Transport = TransportStdio
	}

	if server.Name == "" {
		return server, errors.New("missing name")
	}
	if strings.ContainsAny(server.Name, ". \t") {
		return server, fmt.Errorf("server name %q must not contain dots or whitespace", server.Name)
	}
	if server.Transport != TransportStdio {
		return server, fmt.Errorf("server %q: unsupported transport %q", server.Name, server.Transport)
	}
	if server.Command == "" {
		return server, fmt.Errorf("server %q: missing command", server.Name)
	}
	return server, nil
}
