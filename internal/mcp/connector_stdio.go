package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MEKXH/farcode/internal/config"
)

const (
	maxMessageBytes  = 16 << 20
	closeGracePeriod = 2 * time.Second
)

var errServerClosed = errors.New("mcp server closed its output")

type stdioConnector struct{}

func newStdioConnector() Connector {
	return stdioConnector{}
}

// Connect launches the server process and performs the initialize
// handshake. The process is not bound to ctx; it lives until Close.
func (c stdioConnector) Connect(ctx context.Context, cfg config.MCPServerConfig) (Client, error) {
	command := strings.TrimSpace(cfg.Command)
	if command == "" {
		return nil, fmt.Errorf("stdio transport requires command")
	}

	cmd := exec.Command(command, cfg.Args...)
	cmd.Env = mergeEnv(cfg.Env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start stdio server %q: %w", cfg.Name, err)
	}

	client := &stdioClient{
		serverName: cfg.Name,
		cmd:        cmd,
		stdin:      stdin,
		stderr:     newTailBuffer(4096),
		pending:    make(map[string]chan rpcMessage),
		readDone:   make(chan struct{}),
		exitDone:   make(chan struct{}),
	}

	stderrDone := make(chan struct{})
	go func() {
		// Drain stderr to avoid blocking and retain a bounded tail for diagnostics.
		_, _ = io.Copy(client.stderr, stderr)
		close(stderrDone)
	}()
	go client.readLoop(stdout)
	go func() {
		<-client.readDone
		<-stderrDone
		client.markExited(cmd.Wait())
	}()

	if err := initializeClient(ctx, client); err != nil {
		_ = client.Close()
		return nil, client.decorateError(err)
	}
	return client, nil
}

func mergeEnv(extra map[string]string) []string {
	base := os.Environ()
	if len(extra) == 0 {
		return base
	}

	merged := make(map[string]string, len(base)+len(extra))
	for _, item := range base {
		key, value, _ := strings.Cut(item, "=")
		merged[key] = value
	}
	for key, value := range extra {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		merged[trimmedKey] = value
	}

	out := make([]string, 0, len(merged))
	for key, value := range merged {
		out = append(out, key+"="+value)
	}
	return out
}

type stdioClient struct {
	serverName string
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	stderr     *tailBuffer

	writeMu sync.Mutex
	nextID  atomic.Int64

	pendingMu sync.Mutex
	pending   map[string]chan rpcMessage
	readDone  chan struct{}

	exitMu   sync.RWMutex
	exited   bool
	exitErr  error
	exitDone chan struct{}

	closeOnce sync.Once
}

func (c *stdioClient) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	result, err := c.invoke(ctx, "tools/list", map[string]any{})
	if err != nil {
		return nil, err
	}
	return decodeToolDefinitions(result)
}

func (c *stdioClient) CallTool(ctx context.Context, toolName, argsJSON string) (any, error) {
	args, err := parseToolArgs(compactJSONOrRaw(argsJSON))
	if err != nil {
		return nil, err
	}
	result, err := c.invoke(ctx, "tools/call", map[string]any{
		"name":      strings.TrimSpace(toolName),
		"arguments": args,
	})
	if err != nil {
		return nil, err
	}
	return decodeCallResult(result)
}

// Close ends the session: stdin is closed so the server can exit on its
// own, then the process is killed if it has not exited within the grace
// period.
func (c *stdioClient) Close() error {
	c.closeOnce.Do(func() {
		_ = c.stdin.Close()
		if c.waitForExit(closeGracePeriod) {
			return
		}
		if c.cmd.Process != nil {
			_ = c.cmd.Process.Kill()
		}
		c.waitForExit(500 * time.Millisecond)
	})
	return nil
}

func (c *stdioClient) invoke(ctx context.Context, method string, params any) (any, error) {
	if err := c.processExitError(); err != nil {
		return nil, c.decorateError(err)
	}

	id := c.nextID.Add(1)
	key := strconv.FormatInt(id, 10)
	reply := make(chan rpcMessage, 1)

	c.pendingMu.Lock()
	c.pending[key] = reply
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, key)
		c.pendingMu.Unlock()
	}()

	if err := c.send(map[string]any{
		"jsonrpc": jsonRPCVersion,
		"id":      id,
		"method":  method,
		"params":  params,
	}); err != nil {
		return nil, c.decorateError(err)
	}

	select {
	case msg := <-reply:
		if msg.Err != nil {
			return nil, msg.Err
		}
		return msg.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.readDone:
		return nil, c.decorateError(errServerClosed)
	}
}

func (c *stdioClient) notify(ctx context.Context, method string, params any) error {
	if err := c.processExitError(); err != nil {
		return c.decorateError(err)
	}
	return c.decorateError(c.send(map[string]any{
		"jsonrpc": jsonRPCVersion,
		"method":  method,
		"params":  params,
	}))
}

// send writes one message as a single newline-terminated line.
func (c *stdioClient) send(message any) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode json-rpc message: %w", err)
	}
	payload = append(payload, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.stdin.Write(payload); err != nil {
		return fmt.Errorf("write mcp message: %w", err)
	}
	return nil
}

func (c *stdioClient) readLoop(stdout io.Reader) {
	defer close(c.readDone)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		msg, err := decodeRPCMessage(line)
		if err != nil {
			slog.Debug("ignoring malformed mcp message", "server", c.serverName, "error", err)
			continue
		}
		switch {
		case msg.Method != "" && msg.hasID():
			c.answerServerRequest(msg)
		case msg.hasID():
			c.deliver(msg)
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Debug("mcp stdout reader stopped", "server", c.serverName, "error", err)
	}
}

func (c *stdioClient) deliver(msg rpcMessage) {
	key := normalizeRPCID(msg.ID)
	c.pendingMu.Lock()
	reply, ok := c.pending[key]
	c.pendingMu.Unlock()
	if !ok {
		return
	}
	select {
	case reply <- msg:
	default:
	}
}

// answerServerRequest replies to requests initiated by the server. Only
// ping is supported; anything else gets method-not-found.
func (c *stdioClient) answerServerRequest(msg rpcMessage) {
	response := map[string]any{
		"jsonrpc": jsonRPCVersion,
		"id":      msg.ID,
	}
	if msg.Method == "ping" {
		response["result"] = map[string]any{}
	} else {
		response["error"] = map[string]any{
			"code":    -32601,
			"message": "method not found: " + msg.Method,
		}
	}
	if err := c.send(response); err != nil {
		slog.Debug("failed to answer mcp server request", "server", c.serverName, "method", msg.Method, "error", err)
	}
}

func (c *stdioClient) markExited(err error) {
	c.exitMu.Lock()
	defer c.exitMu.Unlock()

	if c.exited {
		return
	}
	c.exited = true
	c.exitErr = err
	close(c.exitDone)
}

func (c *stdioClient) waitForExit(timeout time.Duration) bool {
	if timeout <= 0 {
		return false
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-c.exitDone:
		return true
	case <-timer.C:
		return false
	}
}

func (c *stdioClient) processExitError() error {
	c.exitMu.RLock()
	defer c.exitMu.RUnlock()

	if !c.exited {
		return nil
	}
	if c.exitErr == nil {
		return fmt.Errorf("mcp stdio server %q exited", c.serverName)
	}
	return fmt.Errorf("mcp stdio server %q exited: %w", c.serverName, c.exitErr)
}

func (c *stdioClient) decorateError(err error) error {
	if err == nil {
		return nil
	}

	stderrTail := strings.TrimSpace(c.stderr.String())
	if processErr := c.processExitError(); processErr != nil {
		if stderrTail != "" {
			return fmt.Errorf("%w; process=%v; stderr=%s", err, processErr, stderrTail)
		}
		return fmt.Errorf("%w; process=%v", err, processErr)
	}

	if stderrTail != "" {
		return fmt.Errorf("%w; stderr=%s", err, stderrTail)
	}
	return err
}

type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	if max <= 0 {
		max = 1024
	}
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if len(b.buf) > b.max {
		b.buf = append([]byte(nil), b.buf[len(b.buf)-b.max:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
