package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/MEKXH/farcode/internal/policy"
)

// TruncationMarker follows a stream that exceeded the capture limit.
const TruncationMarker = "\n... [output truncated for security]"

const defaultWaitDelay = 2 * time.Second

// Result is the captured outcome of one sandboxed run.
type Result struct {
	ExitCode        int
	Stdout          string
	Stderr          string
	StdoutTruncated bool
	StderrTruncated bool
	TimedOut        bool
	Duration        time.Duration
}

// Sandbox runs validated invocations with bounded time and output. It does
// not validate; callers must.
type Sandbox struct {
	timeout   time.Duration
	maxOutput int
	waitDelay time.Duration
}

// NewSandbox takes its limits from the policy.
func NewSandbox(p *policy.Policy) *Sandbox {
	return &Sandbox{
		timeout:   p.Timeout(),
		maxOutput: p.MaxOutputBytes(),
		waitDelay: defaultWaitDelay,
	}
}

// Timeout is the wall-clock limit applied to every run.
func (s *Sandbox) Timeout() time.Duration {
	return s.timeout
}

// Run executes inv directly, without a shell, in cwd. A process that cannot
// be started is an error; a non-zero exit or timeout is reported in Result.
func (s *Sandbox) Run(ctx context.Context, inv Invocation, cwd string) (Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	stdout := newCappedBuffer(s.maxOutput)
	stderr := newCappedBuffer(s.maxOutput)

	cmd := exec.CommandContext(runCtx, inv.Executable, inv.Args...)
	cmd.Dir = cwd
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = s.waitDelay
	configureProcessGroup(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start %s: %w", inv.Executable, err)
	}
	waitErr := cmd.Wait()
	if errors.Is(waitErr, exec.ErrWaitDelay) {
		slog.Debug("sandboxed command left processes holding its output", "command", inv.Executable)
	}
	if err := killProcessGroup(cmd); err != nil {
		slog.Warn("kill sandbox process group failed", "command", inv.Executable, "error", err)
	}

	res := Result{
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		StdoutTruncated: stdout.Truncated(),
		StderrTruncated: stderr.Truncated(),
		Duration:        time.Since(start),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		res.TimedOut = true
		res.ExitCode = -1
		slog.Warn("sandboxed command timed out", "command", inv.Executable, "timeout", s.timeout.String())
		return res, nil
	}
	if ctx.Err() != nil {
		res.ExitCode = -1
		return res, ctx.Err()
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) && !errors.Is(waitErr, exec.ErrWaitDelay) {
		return res, fmt.Errorf("wait %s: %w", inv.Executable, waitErr)
	}
	return res, nil
}

// cappedBuffer keeps at most max bytes and discards the rest.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	max       int
	truncated bool
}

func newCappedBuffer(max int) *cappedBuffer {
	return &cappedBuffer{max: max}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	remaining := b.max - b.buf.Len()
	switch {
	case len(p) <= remaining:
		b.buf.Write(p)
	case remaining > 0:
		b.buf.Write(p[:remaining])
		b.truncated = true
	case len(p) > 0:
		b.truncated = true
	}
	return len(p), nil
}

func (b *cappedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return b.buf.String() + TruncationMarker
	}
	return b.buf.String()
}
