package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/MEKXH/farcode/internal/config"
	"github.com/MEKXH/farcode/internal/tools"
	"github.com/fsnotify/fsnotify"
)

const defaultConnectTimeout = 10 * time.Second

// ErrRemoteUnavailable reports that no remote tool server could be reached.
var ErrRemoteUnavailable = errors.New("remote tools unavailable")

// Loader returns the current server list.
type Loader func() ([]config.MCPServerConfig, error)

// Bridge connects to the configured servers at most once and caches the
// outcome, failures included, until Reset.
type Bridge struct {
	load      Loader
	connector Connector
	timeout   time.Duration

	mu      sync.Mutex
	loaded  bool
	manager *Manager
	tools   []tools.Tool
	err     error
}

// NewBridge creates a bridge. A nil connector uses the stdio connector.
func NewBridge(load Loader, connector Connector, connectTimeout time.Duration) *Bridge {
	if connector == nil {
		connector = DefaultConnector()
	}
	return &Bridge{
		load:      load,
		connector: connector,
		timeout:   connectTimeout,
	}
}

// Tools returns the remote tools. The first call launches the servers;
// later calls return the cached result. When servers are configured but
// none can be started, the error wraps ErrRemoteUnavailable.
func (b *Bridge) Tools(ctx context.Context) ([]tools.Tool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.loaded {
		return append([]tools.Tool(nil), b.tools...), b.err
	}

	servers, err := b.loadServers()
	if err != nil {
		b.fail(err)
		return nil, b.err
	}

	m := NewManager(servers, b.connector, b.timeout)
	if m.Len() == 0 {
		b.loaded = true
		b.manager = m
		return nil, nil
	}

	if err := m.Connect(ctx); err != nil {
		// Cancellation is not a server failure; the next call retries.
		_ = m.Close()
		return nil, err
	}

	b.loaded = true
	b.manager = m
	if m.Healthy() == 0 {
		b.fail(fmt.Errorf("none of %d mcp server(s) could be started", m.Len()))
		return nil, b.err
	}

	b.tools = m.Tools()
	slog.Info("remote tools loaded", "servers", m.Healthy(), "tools", len(b.tools))
	return append([]tools.Tool(nil), b.tools...), nil
}

// ListRemoteTools connects to servers once and returns their tools. The
// launched servers stay up for the lifetime of the returned tools; use a
// Bridge when they must be stopped or reloaded.
func ListRemoteTools(ctx context.Context, servers []config.MCPServerConfig) ([]tools.Tool, error) {
	return listRemoteTools(ctx, servers, DefaultConnector())
}

func listRemoteTools(ctx context.Context, servers []config.MCPServerConfig, connector Connector) ([]tools.Tool, error) {
	b := NewBridge(func() ([]config.MCPServerConfig, error) { return servers, nil }, connector, defaultConnectTimeout)
	return b.Tools(ctx)
}

// Statuses reports the per-server state of the last load.
func (b *Bridge) Statuses() []ServerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.manager == nil {
		return nil
	}
	return b.manager.Statuses()
}

// Reset drops the cached result and stops launched servers so the next
// Tools call reloads the settings.
func (b *Bridge) Reset() {
	b.mu.Lock()
	m := b.manager
	b.loaded = false
	b.manager = nil
	b.tools = nil
	b.err = nil
	b.mu.Unlock()

	if m != nil {
		if err := m.Close(); err != nil {
			slog.Debug("closing mcp servers", "error", err)
		}
	}
}

// Close stops every launched server.
func (b *Bridge) Close() error {
	b.Reset()
	return nil
}

// Watch resets the bridge whenever the settings file at path changes. The
// parent directory is watched so editors that replace the file are seen.
// Watching stops when ctx is done.
func (b *Bridge) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create settings watcher: %w", err)
	}
	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
					!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
					continue
				}
				slog.Info("mcp settings changed, remote tools will reload", "path", target)
				b.Reset()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("settings watcher error", "error", err)
			}
		}
	}()
	return nil
}

func (b *Bridge) loadServers() ([]config.MCPServerConfig, error) {
	if b.load == nil {
		return nil, nil
	}
	return b.load()
}

// fail caches err as the bridge outcome and logs it once.
func (b *Bridge) fail(err error) {
	b.loaded = true
	b.tools = nil
	b.err = fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	slog.Warn("could not get remote tools", "error", err)
}
