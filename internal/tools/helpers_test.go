package tools

import (
	"path/filepath"
	"testing"

	"github.com/MEKXH/farcode/internal/policy"
	"github.com/MEKXH/farcode/internal/shell"
)

func newTestValidator(t *testing.T, o policy.Overrides) (*shell.Validator, string) {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("EvalSymlinks: %v", err)
	}
	if len(o.AllowedRoots) == 0 {
		o.AllowedRoots = []string{root}
	}
	p, err := policy.New(o)
	if err != nil {
		t.Fatalf("policy.New: %v", err)
	}
	return shell.NewValidator(p, nil), root
}

func newTestAccess(t *testing.T) (FileAccess, string) {
	t.Helper()
	v, root := newTestValidator(t, policy.Overrides{ProtectedPaths: []string{".env", "secrets/**"}})
	return FileAccess{Validator: v, Cwd: root}, root
}
