package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestRegistry_Execute_DeniedByGuard(t *testing.T) {
	reg := NewRegistry()
	mock := &namedTool{name: "guarded_tool"}
	if err := reg.Register(mock); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	var finished []bool
	reg.SetGuard(func(ctx context.Context, name, argsJSON string) (GuardResult, error) {
		return GuardResult{
			Action:  GuardDeny,
			Message: "blocked by approval",
			Finish:  func(executed bool) { finished = append(finished, executed) },
		}, nil
	})

	result, err := reg.Execute(context.Background(), "guarded_tool", `{}`)
	if err == nil {
		t.Fatal("expected deny error")
	}
	if result != "" {
		t.Fatalf("expected empty result, got %q", result)
	}
	if !strings.Contains(err.Error(), "blocked by approval") {
		t.Fatalf("expected deny message in error, got: %v", err)
	}
	if mock.runs != 0 {
		t.Fatalf("expected tool not to run, ran %d times", mock.runs)
	}
	if len(finished) != 1 || finished[0] {
		t.Fatalf("expected finish(false), got %v", finished)
	}
}

func TestRegistry_Execute_Allowed(t *testing.T) {
	reg := NewRegistry()
	mock := &namedTool{name: "guarded_tool"}
	if err := reg.Register(mock); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	var finished []bool
	reg.SetGuard(func(ctx context.Context, name, argsJSON string) (GuardResult, error) {
		return GuardResult{Action: GuardAllow, Finish: func(executed bool) { finished = append(finished, executed) }}, nil
	})

	result, err := reg.Execute(context.Background(), "guarded_tool", `{}`)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if result != "guarded_tool ran" {
		t.Fatalf("expected tool result, got: %q", result)
	}
	if mock.runs != 1 {
		t.Fatalf("expected tool to run once, ran %d times", mock.runs)
	}
	if len(finished) != 1 || !finished[0] {
		t.Fatalf("expected finish(true), got %v", finished)
	}
}

func TestRegistry_Execute_GuardErrorPropagates(t *testing.T) {
	reg := NewRegistry()
	mock := &namedTool{name: "guarded_tool"}
	if err := reg.Register(mock); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	reg.SetGuard(func(ctx context.Context, name, argsJSON string) (GuardResult, error) {
		return GuardResult{}, errors.New("guard backend unavailable")
	})

	result, err := reg.Execute(context.Background(), "guarded_tool", `{}`)
	if err == nil {
		t.Fatal("expected guard error")
	}
	if result != "" {
		t.Fatalf("expected empty result on guard error, got %q", result)
	}
	if !strings.Contains(err.Error(), "guard backend unavailable") {
		t.Fatalf("unexpected guard error: %v", err)
	}
	if mock.runs != 0 {
		t.Fatalf("expected tool not to run on guard error, ran %d times", mock.runs)
	}
}
