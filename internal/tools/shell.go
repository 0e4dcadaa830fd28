package tools

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/MEKXH/farcode/internal/policy"
	"github.com/MEKXH/farcode/internal/shell"
	"github.com/cloudwego/eino/components/tool/utils"
)

// ShellInput parameters for the shell tool.
type ShellInput struct {
	Command    string `json:"command" jsonschema:"required,description=Command to run. One program and its arguments; pipes and redirection are not supported"`
	WorkingDir string `json:"working_dir" jsonschema:"description=Working directory inside the allowed roots"`
}

// ShellHooks let the caller observe validation and execution.
type ShellHooks struct {
	OnVerdict func(ctx context.Context, command string, verdict shell.Verdict)
	OnResult  func(ctx context.Context, command string, result shell.Result)
}

// SecureShell tokenizes, validates and sandboxes one command per call.
type SecureShell struct {
	validator *shell.Validator
	sandbox   *shell.Sandbox
	cwd       string
	hooks     ShellHooks
}

// NewSecureShell binds the shell tool to a validator and sandbox. cwd is the
// default working directory.
func NewSecureShell(validator *shell.Validator, sandbox *shell.Sandbox, cwd string, hooks ShellHooks) *SecureShell {
	return &SecureShell{validator: validator, sandbox: sandbox, cwd: cwd, hooks: hooks}
}

// Check tokenizes and validates raw without running it.
func (s *SecureShell) Check(ctx context.Context, raw, workingDir string) (shell.Invocation, string, shell.Verdict, error) {
	inv, err := shell.Tokenize(strings.TrimSpace(raw))
	if err != nil {
		verdict := shell.Verdict{Reason: shell.ReasonMalformedInvocation, Detail: err.Error()}
		s.reportVerdict(ctx, raw, verdict)
		return shell.Invocation{}, "", verdict, err
	}

	cwd := s.cwd
	if dir := strings.TrimSpace(workingDir); dir != "" {
		if filepath.IsAbs(dir) || cwd == "" {
			cwd = dir
		} else {
			cwd = policy.ResolveAgainst(cwd, dir)
		}
	}

	verdict := s.validator.Validate(inv, cwd)
	s.reportVerdict(ctx, raw, verdict)
	if !verdict.Allowed {
		return inv, cwd, verdict, verdict.Denial(s.validator.Policy())
	}
	return inv, cwd, verdict, nil
}

// Run validates and executes raw, returning the text the agent sees.
func (s *SecureShell) Run(ctx context.Context, raw, workingDir string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("empty command provided: %w", shell.ErrMalformedInvocation)
	}
	inv, cwd, _, err := s.Check(ctx, raw, workingDir)
	if err != nil {
		return "", err
	}

	res, err := s.sandbox.Run(ctx, inv, cwd)
	if err != nil {
		return "", fmt.Errorf("failed to execute command: %w", err)
	}
	if s.hooks.OnResult != nil {
		s.hooks.OnResult(ctx, raw, res)
	}
	if res.TimedOut {
		return "", &TimeoutError{Seconds: int(s.sandbox.Timeout().Seconds()), Result: res}
	}
	return FormatResult(res), nil
}

func (s *SecureShell) reportVerdict(ctx context.Context, raw string, verdict shell.Verdict) {
	if s.hooks.OnVerdict != nil {
		s.hooks.OnVerdict(ctx, raw, verdict)
	}
}

func (s *SecureShell) execute(ctx context.Context, input *ShellInput) (string, error) {
	return s.Run(ctx, input.Command, input.WorkingDir)
}

// Tool exposes the shell as the eino tool "shell".
func (s *SecureShell) Tool() (Tool, error) {
	return utils.InferTool("shell",
		"Run a single whitelisted command without a shell. Paths must stay inside the allowed directories.",
		s.execute)
}

// FormatResult renders a finished run. A zero exit returns stdout; anything
// else returns both streams.
func FormatResult(res shell.Result) string {
	if res.ExitCode == 0 {
		return res.Stdout
	}
	return fmt.Sprintf("Command failed with return code %d\nSTDOUT: %s\nSTDERR: %s", res.ExitCode, res.Stdout, res.Stderr)
}

// TimeoutError reports a command killed at the deadline. Result holds
// whatever output was captured before the kill.
type TimeoutError struct {
	Seconds int
	Result  shell.Result
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("Command exceeded timeout of %d seconds", e.Seconds)
	if e.Result.Stdout != "" || e.Result.Stderr != "" {
		msg += fmt.Sprintf("\nSTDOUT: %s\nSTDERR: %s", e.Result.Stdout, e.Result.Stderr)
	}
	return msg
}

func (e *TimeoutError) Unwrap() error { return shell.ErrExecutionTimeout }
