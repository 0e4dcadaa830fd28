package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MEKXH/farcode/internal/policy"
	"github.com/MEKXH/farcode/internal/shell"
)

func TestWriteFileTool(t *testing.T) {
	access, root := newTestAccess(t)
	tool, err := NewWriteFileTool(access)
	if err != nil {
		t.Fatalf("NewWriteFileTool error: %v", err)
	}

	targetFile := filepath.Join(root, "nested", "dir", "output.txt")
	content := "hello world\nsecond line"
	argsJSON := fmt.Sprintf(`{"path": %q, "content": %q}`, targetFile, content)

	result, err := tool.InvokableRun(context.Background(), argsJSON)
	if err != nil {
		t.Fatalf("InvokableRun error: %v", err)
	}
	if !strings.Contains(result, "successfully") {
		t.Errorf("expected success message, got: %s", result)
	}

	data, err := os.ReadFile(targetFile)
	if err != nil {
		t.Fatalf("failed to read written file: %v", err)
	}
	if string(data) != content {
		t.Errorf("expected file content %q, got %q", content, string(data))
	}
}

func TestWriteFileTool_RelativePath(t *testing.T) {
	access, root := newTestAccess(t)
	tool, _ := NewWriteFileTool(access)

	if _, err := tool.InvokableRun(context.Background(), `{"path": "rel.txt", "content": "x"}`); err != nil {
		t.Fatalf("InvokableRun error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "rel.txt")); err != nil {
		t.Fatalf("expected file under cwd: %v", err)
	}
}

func TestReadFileTool_OffsetLimit(t *testing.T) {
	access, root := newTestAccess(t)
	path := filepath.Join(root, "lines.txt")
	os.WriteFile(path, []byte("a\nb\nc\nd"), 0o644)

	tool, _ := NewReadFileTool(access)
	result, err := tool.InvokableRun(context.Background(), fmt.Sprintf(`{"path": %q, "offset": 1, "limit": 2}`, path))
	if err != nil {
		t.Fatalf("InvokableRun error: %v", err)
	}

	var out ReadFileOutput
	if err := json.Unmarshal([]byte(result), &out); err != nil {
		t.Fatalf("unmarshal: %v (%s)", err, result)
	}
	if out.Content != "b\nc" || out.TotalLines != 4 {
		t.Fatalf("unexpected output: %+v", out)
	}
}

func TestReadFileTool_TruncatesLargeFiles(t *testing.T) {
	v, root := newTestValidator(t, policy.Overrides{MaxOutputBytes: 8})
	path := filepath.Join(root, "big.txt")
	os.WriteFile(path, []byte("0123456789"), 0o644)

	tool, _ := NewReadFileTool(FileAccess{Validator: v, Cwd: root})
	result, err := tool.InvokableRun(context.Background(), fmt.Sprintf(`{"path": %q}`, path))
	if err != nil {
		t.Fatalf("InvokableRun error: %v", err)
	}
	var out ReadFileOutput
	if err := json.Unmarshal([]byte(result), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out.Truncated || out.Content != "01234567"+shell.TruncationMarker {
		t.Fatalf("unexpected output: %+v", out)
	}
}

func TestListDirTool(t *testing.T) {
	access, root := newTestAccess(t)
	os.WriteFile(filepath.Join(root, "file1.txt"), []byte("a"), 0o644)
	os.WriteFile(filepath.Join(root, "file2.txt"), []byte("b"), 0o644)
	os.WriteFile(filepath.Join(root, ".env"), []byte("KEY=1"), 0o644)
	os.Mkdir(filepath.Join(root, "subdir"), 0o755)

	tool, err := NewListDirTool(access)
	if err != nil {
		t.Fatalf("NewListDirTool error: %v", err)
	}

	result, err := tool.InvokableRun(context.Background(), `{}`)
	if err != nil {
		t.Fatalf("InvokableRun error: %v", err)
	}

	var entries []string
	if err := json.Unmarshal([]byte(result), &entries); err != nil {
		t.Fatalf("unmarshal: %v (%s)", err, result)
	}
	want := []string{"subdir/", "file1.txt", "file2.txt"}
	if strings.Join(entries, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, entries)
	}
}

func TestSearchFilesTool(t *testing.T) {
	access, root := newTestAccess(t)
	os.MkdirAll(filepath.Join(root, "pkg", "a"), 0o755)
	os.MkdirAll(filepath.Join(root, "secrets"), 0o755)
	os.WriteFile(filepath.Join(root, "main.go"), nil, 0o644)
	os.WriteFile(filepath.Join(root, "pkg", "a", "a.go"), nil, 0o644)
	os.WriteFile(filepath.Join(root, "pkg", "a", "a.txt"), nil, 0o644)
	os.WriteFile(filepath.Join(root, "secrets", "key.go"), nil, 0o644)

	tool, _ := NewSearchFilesTool(access)
	result, err := tool.InvokableRun(context.Background(), `{"pattern": "**/*.go"}`)
	if err != nil {
		t.Fatalf("InvokableRun error: %v", err)
	}

	var out SearchFilesOutput
	if err := json.Unmarshal([]byte(result), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got := strings.Join(out.Matches, ",")
	if !strings.Contains(got, filepath.Join(root, "main.go")) || !strings.Contains(got, filepath.Join(root, "pkg", "a", "a.go")) {
		t.Fatalf("missing matches: %v", out.Matches)
	}
	if strings.Contains(got, "a.txt") || strings.Contains(got, "key.go") {
		t.Fatalf("unexpected matches: %v", out.Matches)
	}
}

func TestSearchFilesTool_RejectsEscapingPattern(t *testing.T) {
	access, _ := newTestAccess(t)
	tool, _ := NewSearchFilesTool(access)

	for _, pattern := range []string{"../**", "/etc/*", "[", ""} {
		args := fmt.Sprintf(`{"pattern": %q}`, pattern)
		if _, err := tool.InvokableRun(context.Background(), args); err == nil {
			t.Fatalf("pattern %q: expected error", pattern)
		}
	}
}

func TestFileTools_DenyOutsideRoots(t *testing.T) {
	access, root := newTestAccess(t)
	outside := filepath.Join(root, "..", "outside.txt")

	cases := []struct {
		name  string
		build func(FileAccess) (Tool, error)
		args  string
	}{
		{"read", NewReadFileTool, fmt.Sprintf(`{"path": %q}`, outside)},
		{"write", NewWriteFileTool, fmt.Sprintf(`{"path": %q, "content": "x"}`, outside)},
		{"edit", NewEditFileTool, fmt.Sprintf(`{"path": %q, "old_text": "a", "new_text": "b"}`, outside)},
		{"list", NewListDirTool, fmt.Sprintf(`{"path": %q}`, filepath.Join(root, ".."))},
		{"search", NewSearchFilesTool, fmt.Sprintf(`{"pattern": "*", "path": %q}`, "/")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tool, err := tc.build(access)
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			_, err = tool.InvokableRun(context.Background(), tc.args)
			if !errors.Is(err, shell.ErrPathEscapesRoot) {
				t.Fatalf("expected ErrPathEscapesRoot, got %v", err)
			}
		})
	}
}

func TestFileTools_DenyProtectedPaths(t *testing.T) {
	access, root := newTestAccess(t)
	os.WriteFile(filepath.Join(root, ".env"), []byte("KEY=1"), 0o644)

	tool, _ := NewReadFileTool(access)
	_, err := tool.InvokableRun(context.Background(), `{"path": ".env"}`)
	if !errors.Is(err, shell.ErrProtectedPath) {
		t.Fatalf("expected ErrProtectedPath, got %v", err)
	}
}

func TestReadFile_SymlinkEscapeBlocked(t *testing.T) {
	access, root := newTestAccess(t)
	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("top-secret"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	linkPath := filepath.Join(root, "link-out")
	if err := os.Symlink(outside, linkPath); err != nil {
		t.Skipf("symlink not supported on this environment: %v", err)
	}

	tool, _ := NewReadFileTool(access)
	argsJSON := fmt.Sprintf(`{"path": %q}`, filepath.Join(linkPath, "secret.txt"))
	_, err := tool.InvokableRun(context.Background(), argsJSON)
	if !errors.Is(err, shell.ErrPathEscapesRoot) {
		t.Fatalf("expected ErrPathEscapesRoot, got: %v", err)
	}
}

func TestWriteFile_SymlinkEscapeBlocked(t *testing.T) {
	access, root := newTestAccess(t)
	outside := t.TempDir()

	linkPath := filepath.Join(root, "link-out")
	if err := os.Symlink(outside, linkPath); err != nil {
		t.Skipf("symlink not supported on this environment: %v", err)
	}

	tool, _ := NewWriteFileTool(access)
	argsJSON := fmt.Sprintf(`{"path": %q, "content": "malicious"}`, filepath.Join(linkPath, "evil.txt"))
	if _, err := tool.InvokableRun(context.Background(), argsJSON); err == nil {
		t.Fatal("expected error for symlink escape, got nil")
	}
	if _, err := os.Stat(filepath.Join(outside, "evil.txt")); !os.IsNotExist(err) {
		t.Fatalf("file was written outside the root: %v", err)
	}
}

func TestWriteFile_DanglingSymlinkBlocked(t *testing.T) {
	access, root := newTestAccess(t)
	outside := t.TempDir()
	target := filepath.Join(outside, "pwned.txt")

	if err := os.Symlink(target, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlink not supported on this environment: %v", err)
	}

	tool, _ := NewWriteFileTool(access)
	_, err := tool.InvokableRun(context.Background(), `{"path": "link", "content": "escaped"}`)
	if !errors.Is(err, shell.ErrPathEscapesRoot) {
		t.Fatalf("expected ErrPathEscapesRoot, got: %v", err)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatalf("file was written through the link: %v", err)
	}
}

func TestEditFile_SymlinkEscapeBlocked(t *testing.T) {
	access, root := newTestAccess(t)
	outside := t.TempDir()
	target := filepath.Join(outside, "config.txt")
	if err := os.WriteFile(target, []byte("mode=safe"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.Symlink(target, filepath.Join(root, "config.txt")); err != nil {
		t.Skipf("symlink not supported on this environment: %v", err)
	}

	tool, _ := NewEditFileTool(access)
	argsJSON := `{"path": "config.txt", "old_text": "safe", "new_text": "open"}`
	if _, err := tool.InvokableRun(context.Background(), argsJSON); !errors.Is(err, shell.ErrPathEscapesRoot) {
		t.Fatalf("expected ErrPathEscapesRoot, got: %v", err)
	}
	got, _ := os.ReadFile(target)
	if string(got) != "mode=safe" {
		t.Fatalf("target was modified: %q", got)
	}
}

func TestNewFileTools(t *testing.T) {
	access, _ := newTestAccess(t)
	list, err := NewFileTools(access)
	if err != nil {
		t.Fatalf("NewFileTools: %v", err)
	}
	var names []string
	for _, tool := range list {
		info, _ := tool.Info(context.Background())
		names = append(names, info.Name)
	}
	if got := strings.Join(names, ","); got != "read_file,write_file,edit_file,list_dir,search_files" {
		t.Fatalf("unexpected tools: %s", got)
	}
}
