package shell

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/MEKXH/farcode/internal/policy"
)

func canonicalTempDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("eval temp dir: %v", err)
	}
	return dir
}

func newTestValidator(t *testing.T, o policy.Overrides) (*Validator, string) {
	t.Helper()
	root := canonicalTempDir(t)
	if err := os.MkdirAll(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if len(o.AllowedRoots) == 0 {
		o.AllowedRoots = []string{root}
	}
	p, err := policy.New(o)
	if err != nil {
		t.Fatalf("policy.New: %v", err)
	}
	return NewValidator(p, nil), root
}

func mustTokenize(t *testing.T, raw string) Invocation {
	t.Helper()
	inv, err := Tokenize(raw)
	if err != nil {
		t.Fatalf("Tokenize(%q): %v", raw, err)
	}
	return inv
}

func TestValidate_AllowsPathInsideRoot(t *testing.T) {
	v, root := newTestValidator(t, policy.Overrides{})

	verdict := v.Validate(Invocation{Executable: "ls", Args: []string{filepath.Join(root, "sub")}}, root)
	if !verdict.Allowed {
		t.Fatalf("expected allowed, got %+v", verdict)
	}
	if verdict.Err() != nil {
		t.Fatalf("allowed verdict should have nil error, got %v", verdict.Err())
	}
}

func TestValidate_DeniesPathOutsideRoot(t *testing.T) {
	v, root := newTestValidator(t, policy.Overrides{})
	etc, err := filepath.EvalSymlinks("/etc")
	if err != nil {
		t.Skipf("/etc unavailable: %v", err)
	}

	verdict := v.Validate(mustTokenize(t, "ls /etc"), root)
	if verdict.Allowed || verdict.Reason != ReasonPathEscapesRoot {
		t.Fatalf("expected PathEscapesRoot, got %+v", verdict)
	}
	if verdict.Path != etc {
		t.Fatalf("expected denied path %q, got %q", etc, verdict.Path)
	}
	if !errors.Is(verdict.Err(), ErrPathEscapesRoot) {
		t.Fatalf("expected ErrPathEscapesRoot, got %v", verdict.Err())
	}
}

func TestValidate_BlacklistWinsOverWhitelist(t *testing.T) {
	v, root := newTestValidator(t, policy.Overrides{
		AllowedCommands: []string{"ls", "rm"},
		DeniedCommands:  []string{"rm"},
	})

	for _, raw := range []string{"rm file.txt", "/bin/rm file.txt", "rm /etc/passwd"} {
		verdict := v.Validate(mustTokenize(t, raw), root)
		if verdict.Reason != ReasonBlacklisted {
			t.Fatalf("%q: expected Blacklisted, got %+v", raw, verdict)
		}
	}
}

func TestValidate_NotWhitelisted(t *testing.T) {
	v, root := newTestValidator(t, policy.Overrides{})

	tests := []string{"vim notes.txt", "./ls", "/bin/ls"}
	for _, raw := range tests {
		verdict := v.Validate(mustTokenize(t, raw), root)
		if verdict.Reason != ReasonNotWhitelisted {
			t.Fatalf("%q: expected NotWhitelisted, got %+v", raw, verdict)
		}
	}
}

func TestValidate_RelativePathsResolveAgainstCwd(t *testing.T) {
	v, root := newTestValidator(t, policy.Overrides{})
	sub := filepath.Join(root, "sub")

	if verdict := v.Validate(mustTokenize(t, "cat ../sub/file.txt"), sub); !verdict.Allowed {
		t.Fatalf("expected allowed, got %+v", verdict)
	}
	verdict := v.Validate(mustTokenize(t, "cat ../../escape.txt"), sub)
	if verdict.Reason != ReasonPathEscapesRoot {
		t.Fatalf("expected PathEscapesRoot, got %+v", verdict)
	}
}

func TestValidate_CwdOutsideRootDenied(t *testing.T) {
	v, _ := newTestValidator(t, policy.Overrides{})
	outside := canonicalTempDir(t)

	verdict := v.Validate(mustTokenize(t, "pwd"), outside)
	if verdict.Reason != ReasonPathEscapesRoot || verdict.Path != outside {
		t.Fatalf("expected cwd escape, got %+v", verdict)
	}
}

func TestValidate_NonexistentTargetUsesParent(t *testing.T) {
	v, root := newTestValidator(t, policy.Overrides{})

	if verdict := v.Validate(mustTokenize(t, "sort -o new/dir/out.txt in.txt"), root); !verdict.Allowed {
		t.Fatalf("expected allowed, got %+v", verdict)
	}
	verdict := v.Validate(mustTokenize(t, "sort -o /nonexistent-dir/out.txt in.txt"), root)
	if verdict.Reason != ReasonPathEscapesRoot {
		t.Fatalf("expected PathEscapesRoot, got %+v", verdict)
	}
}

func TestValidate_SymlinkEscapeDenied(t *testing.T) {
	v, root := newTestValidator(t, policy.Overrides{})
	outside := canonicalTempDir(t)
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	verdict := v.Validate(mustTokenize(t, "cat link/secret.txt"), root)
	if verdict.Reason != ReasonPathEscapesRoot {
		t.Fatalf("expected PathEscapesRoot, got %+v", verdict)
	}
}

func TestValidate_DanglingSymlinkDenied(t *testing.T) {
	v, root := newTestValidator(t, policy.Overrides{})
	outside := canonicalTempDir(t)
	target := filepath.Join(outside, "pwned.txt")
	if err := os.Symlink(target, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	for _, raw := range []string{"sort -o link sub", "cat link", "ls sub/../link"} {
		verdict := v.Validate(mustTokenize(t, raw), root)
		if verdict.Reason != ReasonPathEscapesRoot || verdict.Path != target {
			t.Fatalf("%q: expected PathEscapesRoot %s, got %+v", raw, target, verdict)
		}
	}
	if _, verdict := v.CheckPath("link", root); verdict.Allowed {
		t.Fatal("CheckPath must follow a dangling link")
	}
}

func TestValidate_GluedPatternFlagStillChecksFiles(t *testing.T) {
	v, root := newTestValidator(t, policy.Overrides{})
	outside := canonicalTempDir(t)
	secret := filepath.Join(outside, "passwd")
	if err := os.WriteFile(secret, []byte("root:x:0:0"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(secret, filepath.Join(root, "pw")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	for _, raw := range []string{"grep -e root pw", "grep -eroot pw", "grep -ieroot pw", "grep -ie root pw", "grep --regexp=root pw"} {
		verdict := v.Validate(mustTokenize(t, raw), root)
		if verdict.Reason != ReasonPathEscapesRoot {
			t.Fatalf("%q: expected PathEscapesRoot, got %+v", raw, verdict)
		}
	}
}

func TestValidate_FileURLs(t *testing.T) {
	v, root := newTestValidator(t, policy.Overrides{ProtectedPaths: []string{"**/.env"}})
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		raw    string
		reason Reason
	}{
		{raw: "curl file:///etc/passwd", reason: ReasonPathEscapesRoot},
		{raw: "curl FILE:///etc/passwd", reason: ReasonPathEscapesRoot},
		{raw: "curl file://localhost/etc/passwd", reason: ReasonPathEscapesRoot},
		{raw: "curl file:///%65tc/passwd", reason: ReasonPathEscapesRoot},
		{raw: "curl file://fileserver/share/x", reason: ReasonPathEscapesRoot},
		{raw: "curl '{file:///etc/passwd,https://example.com}'", reason: ReasonPathEscapesRoot},
		{raw: "wget file:///etc/passwd", reason: ReasonPathEscapesRoot},
		{raw: "git clone file:///etc/ x", reason: ReasonPathEscapesRoot},
		{raw: "curl file://" + root + "/.env?x=1", reason: ReasonProtectedPath},
		{raw: "curl file://" + root + "/a.txt", reason: ReasonNone},
		{raw: "curl https://example.com/file.txt", reason: ReasonNone},
	}
	for _, tt := range tests {
		verdict := v.Validate(mustTokenize(t, tt.raw), root)
		if verdict.Reason != tt.reason {
			t.Fatalf("%q: expected reason %q, got %+v", tt.raw, tt.reason, verdict)
		}
	}
}

func TestValidate_PathFlagsAndDeniedFlags(t *testing.T) {
	v, root := newTestValidator(t, policy.Overrides{})

	tests := []struct {
		raw    string
		reason Reason
	}{
		{raw: "git -C /etc status", reason: ReasonPathEscapesRoot},
		{raw: "git -C sub status", reason: ReasonNone},
		{raw: "git status", reason: ReasonNone},
		{raw: "git log origin/main", reason: ReasonNone},
		{raw: "git -c core.pager=sh log", reason: ReasonBlacklisted},
		{raw: "curl -o /tmp/x https://example.com", reason: ReasonPathEscapesRoot},
		{raw: "curl --output=/tmp/x https://example.com", reason: ReasonPathEscapesRoot},
		{raw: "curl https://example.com", reason: ReasonNone},
		{raw: "find . -name '*.go'", reason: ReasonNone},
		{raw: `find . -exec cat {} \;`, reason: ReasonBlacklisted},
		{raw: "find / -name passwd", reason: ReasonPathEscapesRoot},
		{raw: "grep -r foo .", reason: ReasonNone},
		{raw: "grep foo /etc/passwd", reason: ReasonPathEscapesRoot},
		{raw: "grep -e foo /etc/passwd", reason: ReasonPathEscapesRoot},
		{raw: "head -n 5 file.txt", reason: ReasonNone},
		{raw: "echo hello", reason: ReasonNone},
		{raw: "echo /etc/passwd", reason: ReasonPathEscapesRoot},
		{raw: "python -c 'import os'", reason: ReasonBlacklisted},
		{raw: "python -Bc 'import os'", reason: ReasonBlacklisted},
		{raw: "cat -- -n", reason: ReasonNone},
	}
	for _, tt := range tests {
		verdict := v.Validate(mustTokenize(t, tt.raw), root)
		if verdict.Reason != tt.reason {
			t.Fatalf("%q: expected reason %q, got %+v", tt.raw, tt.reason, verdict)
		}
	}
}

func TestValidate_UnknownCommandTreatsArgsAsPaths(t *testing.T) {
	v, root := newTestValidator(t, policy.Overrides{AllowedCommands: []string{"mytool"}})

	if verdict := v.Validate(mustTokenize(t, "mytool -v data"), root); !verdict.Allowed {
		t.Fatalf("expected allowed, got %+v", verdict)
	}
	verdict := v.Validate(mustTokenize(t, "mytool --in /etc/hosts"), root)
	if verdict.Reason != ReasonPathEscapesRoot {
		t.Fatalf("expected PathEscapesRoot, got %+v", verdict)
	}
}

func TestValidate_ProtectedPath(t *testing.T) {
	v, root := newTestValidator(t, policy.Overrides{ProtectedPaths: []string{"**/.env"}})

	verdict := v.Validate(mustTokenize(t, "cat sub/.env"), root)
	if verdict.Reason != ReasonProtectedPath {
		t.Fatalf("expected ProtectedPath, got %+v", verdict)
	}
	if !errors.Is(verdict.Err(), ErrProtectedPath) {
		t.Fatalf("expected ErrProtectedPath, got %v", verdict.Err())
	}
}

func TestCommandSpec_PathArgs(t *testing.T) {
	specs := DefaultCommandSpecs()
	tests := []struct {
		exe  string
		args []string
		want []string
	}{
		{exe: "grep", args: []string{"-n", "pattern", "a.txt", "b.txt"}, want: []string{"a.txt", "b.txt"}},
		{exe: "grep", args: []string{"-e", "pattern", "a.txt"}, want: []string{"a.txt"}},
		{exe: "git", args: []string{"add", "file.go"}, want: []string{"file.go"}},
		{exe: "git", args: []string{"-Csub", "status"}, want: []string{"sub"}},
		{exe: "head", args: []string{"-n", "3", "x"}, want: []string{"x"}},
		{exe: "ls", args: []string{"--", "-weird"}, want: []string{"-weird"}},
		{exe: "echo", args: []string{"plain", "./rel"}, want: []string{"./rel"}},
		{exe: "grep", args: []string{"-eroot", "pw"}, want: []string{"pw"}},
		{exe: "grep", args: []string{"-ie", "root", "pw"}, want: []string{"pw"}},
		{exe: "grep", args: []string{"-nieroot", "a.txt", "b.txt"}, want: []string{"a.txt", "b.txt"}},
		{exe: "sort", args: []string{"-ro", "out.txt", "in.txt"}, want: []string{"out.txt", "in.txt"}},
		{exe: "head", args: []string{"-n3", "x"}, want: []string{"x"}},
		{exe: "curl", args: []string{"-sS", "FILE:secret"}, want: []string{"FILE:secret"}},
	}
	for _, tt := range tests {
		got, denied := specs.Lookup(tt.exe).pathArgs(tt.args)
		if denied != "" {
			t.Fatalf("%s %q: unexpected denied flag %q", tt.exe, tt.args, denied)
		}
		if !slices.Equal(got, tt.want) {
			t.Fatalf("%s %q: paths=%q want %q", tt.exe, tt.args, got, tt.want)
		}
	}
}

func TestVerdict_Describe(t *testing.T) {
	v, root := newTestValidator(t, policy.Overrides{})
	verdict := v.Validate(mustTokenize(t, "rm x"), root)
	if got := verdict.Describe(v.Policy()); got != "Command 'rm' is forbidden for security reasons." {
		t.Fatalf("unexpected description: %q", got)
	}
}

func TestVerdictDenialUnwraps(t *testing.T) {
	v, root := newTestValidator(t, policy.Overrides{})
	verdict := v.Validate(Invocation{Executable: "rm", Args: []string{"-rf", "x"}}, root)
	err := verdict.Denial(v.Policy())
	if !errors.Is(err, ErrBlacklisted) {
		t.Fatalf("expected ErrBlacklisted, got %v", err)
	}
	if err.Error() != "Command 'rm' is forbidden for security reasons." {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if allowed().Denial(v.Policy()) != nil {
		t.Fatal("allowed verdict should have no denial")
	}
}
