package policy

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

const sep = string(filepath.Separator)

// ResolveAgainst makes path absolute relative to base without lexical
// cleaning, so ".." is applied after symlinks are resolved.
func ResolveAgainst(base, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return strings.TrimSuffix(base, sep) + sep + path
}

// maxSymlinkHops bounds link chains, matching the kernel's ELOOP limit.
const maxSymlinkHops = 40

// ErrSymlinkLoop reports a link chain longer than maxSymlinkHops.
var ErrSymlinkLoop = errors.New("too many levels of symbolic links")

// Canonicalize returns the absolute, symlink-free form of path. Every
// component is checked with Lstat, so a link is followed even when its target
// does not exist. Components that do not exist are appended lexically.
func Canonicalize(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	if !filepath.IsAbs(path) {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve working directory: %w", err)
		}
		path = ResolveAgainst(wd, path)
	}
	hops := 0
	return canonicalize(path, &hops)
}

func canonicalize(path string, hops *int) (string, error) {
	vol := filepath.VolumeName(path)
	resolved := vol + sep
	parts := strings.Split(path[len(vol):], sep)

	for i, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			resolved = filepath.Dir(resolved)
			continue
		}

		next := filepath.Join(resolved, part)
		info, err := os.Lstat(next)
		if err != nil {
			if isMissing(err) {
				return appendLexical(next, parts[i+1:]), nil
			}
			return "", err
		}
		if info.Mode()&fs.ModeSymlink == 0 {
			resolved = next
			continue
		}

		*hops++
		if *hops > maxSymlinkHops {
			return "", fmt.Errorf("%s: %w", path, ErrSymlinkLoop)
		}
		target, err := os.Readlink(next)
		if err != nil {
			return "", err
		}
		resolved, err = canonicalize(ResolveAgainst(resolved, target), hops)
		if err != nil {
			return "", err
		}
	}
	return resolved, nil
}

// appendLexical joins components that do not exist on disk, so they cannot be
// symlinks and ".." may be applied lexically.
func appendLexical(base string, rest []string) string {
	out := base
	for _, part := range rest {
		switch part {
		case "", ".":
		case "..":
			out = filepath.Dir(out)
		default:
			out = filepath.Join(out, part)
		}
	}
	return out
}

func isMissing(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}

// Within reports whether path equals root or is a descendant of it. Both must
// already be canonical.
func Within(path, root string) bool {
	if path == root {
		return true
	}
	if strings.HasSuffix(root, sep) {
		return strings.HasPrefix(path, root)
	}
	return strings.HasPrefix(path, root+sep)
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
