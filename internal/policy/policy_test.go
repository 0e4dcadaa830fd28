package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func canonicalTempDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("eval temp dir: %v", err)
	}
	return dir
}

func TestNew_Defaults(t *testing.T) {
	root := canonicalTempDir(t)
	p, err := New(Overrides{AllowedRoots: []string{root}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if p.Timeout() != 30*time.Second {
		t.Fatalf("expected default timeout 30s, got %s", p.Timeout())
	}
	if p.MaxOutputBytes() != 10000 {
		t.Fatalf("expected default max output 10000, got %d", p.MaxOutputBytes())
	}
	if !p.IsAllowed("ls") || !p.IsAllowed("git") {
		t.Fatal("expected ls and git in default whitelist")
	}
	if !p.IsDenied("rm") || !p.IsDenied("sudo") {
		t.Fatal("expected rm and sudo in default blacklist")
	}
	if p.IsAllowed("rm") {
		t.Fatal("rm must not be whitelisted by default")
	}
	roots := p.AllowedRoots()
	if len(roots) != 1 || roots[0] != root {
		t.Fatalf("expected roots [%s], got %v", root, roots)
	}
}

func TestNew_DefaultRootIsWorkingDirectory(t *testing.T) {
	root := canonicalTempDir(t)
	t.Chdir(root)

	p, err := New(Overrides{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	roots := p.AllowedRoots()
	if len(roots) != 1 || roots[0] != root {
		t.Fatalf("expected roots [%s], got %v", root, roots)
	}
}

func TestNew_OverridesReplaceDefaults(t *testing.T) {
	root := canonicalTempDir(t)
	p, err := New(Overrides{
		AllowedCommands: []string{"ls", " cat "},
		DeniedCommands:  []string{"curl"},
		AllowedRoots:    []string{root},
		TimeoutSeconds:  5,
		MaxOutputBytes:  64,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if got := p.AllowedCommands(); len(got) != 2 || got[0] != "cat" || got[1] != "ls" {
		t.Fatalf("unexpected allowed commands: %v", got)
	}
	if p.IsDenied("rm") {
		t.Fatal("override blacklist should replace defaults")
	}
	if !p.IsDenied("curl") {
		t.Fatal("expected curl denied")
	}
	if p.Timeout() != 5*time.Second || p.MaxOutputBytes() != 64 {
		t.Fatalf("unexpected limits: %s %d", p.Timeout(), p.MaxOutputBytes())
	}
}

func TestNew_RejectsInvalidInput(t *testing.T) {
	root := canonicalTempDir(t)
	file := filepath.Join(root, "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		in   Overrides
	}{
		{name: "negative timeout", in: Overrides{AllowedRoots: []string{root}, TimeoutSeconds: -1}},
		{name: "negative output", in: Overrides{AllowedRoots: []string{root}, MaxOutputBytes: -1}},
		{name: "missing root", in: Overrides{AllowedRoots: []string{filepath.Join(root, "nope")}}},
		{name: "file root", in: Overrides{AllowedRoots: []string{file}}},
		{name: "bad pattern", in: Overrides{AllowedRoots: []string{root}, ProtectedPaths: []string{"[unclosed"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.in); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestPolicy_AccessorsReturnCopies(t *testing.T) {
	root := canonicalTempDir(t)
	p, err := New(Overrides{AllowedRoots: []string{root}, ProtectedPaths: []string{"**/.env"}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	roots := p.AllowedRoots()
	roots[0] = "/"
	if p.AllowedRoots()[0] != root {
		t.Fatal("mutating returned roots changed the policy")
	}
	patterns := p.ProtectedPaths()
	patterns[0] = "x"
	if p.ProtectedPaths()[0] != "**/.env" {
		t.Fatal("mutating returned patterns changed the policy")
	}
}

func TestPolicy_Contains(t *testing.T) {
	root := canonicalTempDir(t)
	p, err := New(Overrides{AllowedRoots: []string{root}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, ok := p.Contains(root); !ok {
		t.Fatal("root itself should be contained")
	}
	if _, ok := p.Contains(filepath.Join(root, "a", "b")); !ok {
		t.Fatal("descendant should be contained")
	}
	if _, ok := p.Contains(root + "-sibling"); ok {
		t.Fatal("sibling sharing a prefix must not be contained")
	}
	if _, ok := p.Contains(filepath.Dir(root)); ok {
		t.Fatal("parent must not be contained")
	}
}

func TestPolicy_Protected(t *testing.T) {
	root := canonicalTempDir(t)
	p, err := New(Overrides{
		AllowedRoots:   []string{root},
		ProtectedPaths: []string{"**/.env", ".git/**", root + "/secrets/*"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		rel  string
		want bool
	}{
		{rel: ".env", want: true},
		{rel: "svc/.env", want: true},
		{rel: ".git/config", want: true},
		{rel: "secrets/key.pem", want: true},
		{rel: "src/main.go", want: false},
		{rel: "env", want: false},
	}
	for _, tt := range tests {
		_, got := p.Protected(filepath.Join(root, tt.rel))
		if got != tt.want {
			t.Fatalf("Protected(%q)=%v want %v", tt.rel, got, tt.want)
		}
	}
}

func TestOverrides_Merge(t *testing.T) {
	base := Overrides{AllowedCommands: []string{"ls"}, TimeoutSeconds: 10, MaxOutputBytes: 100}
	got := base.Merge(Overrides{DeniedCommands: []string{"rm"}, TimeoutSeconds: 3})

	if len(got.AllowedCommands) != 1 || got.AllowedCommands[0] != "ls" {
		t.Fatalf("allowed commands lost: %v", got.AllowedCommands)
	}
	if len(got.DeniedCommands) != 1 || got.TimeoutSeconds != 3 || got.MaxOutputBytes != 100 {
		t.Fatalf("unexpected merge result: %+v", got)
	}
}
