package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEditFileTool_ReplacesSingleMatch(t *testing.T) {
	access, root := newTestAccess(t)
	target := filepath.Join(root, "main.go")
	original := "package main\n\nfunc main() {\n\tprintln(\"hello\")\n}\n"
	if err := os.WriteFile(target, []byte(original), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	tool, err := NewEditFileTool(access)
	if err != nil {
		t.Fatalf("NewEditFileTool error: %v", err)
	}

	argsJSON := fmt.Sprintf(
		`{"path": %q, "old_text": %q, "new_text": %q}`,
		target,
		`println("hello")`,
		`println("hi")`,
	)
	if _, err := tool.InvokableRun(context.Background(), argsJSON); err != nil {
		t.Fatalf("InvokableRun error: %v", err)
	}

	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(got), `println("hi")`) || strings.Contains(string(got), `println("hello")`) {
		t.Fatalf("unexpected content: %s", string(got))
	}
	info, _ := os.Stat(target)
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected mode preserved, got %v", info.Mode().Perm())
	}
}

func TestEditFileTool_RejectsAmbiguousOrMissing(t *testing.T) {
	access, root := newTestAccess(t)
	target := filepath.Join(root, "dup.txt")
	os.WriteFile(target, []byte("x x"), 0o644)

	tool, _ := NewEditFileTool(access)
	cases := map[string]string{
		"multiple": fmt.Sprintf(`{"path": %q, "old_text": "x", "new_text": "y"}`, target),
		"missing":  fmt.Sprintf(`{"path": %q, "old_text": "z", "new_text": "y"}`, target),
		"empty":    fmt.Sprintf(`{"path": %q, "old_text": "", "new_text": "y"}`, target),
	}
	for name, args := range cases {
		if _, err := tool.InvokableRun(context.Background(), args); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	got, _ := os.ReadFile(target)
	if string(got) != "x x" {
		t.Fatalf("file changed: %q", got)
	}
}
