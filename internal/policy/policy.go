package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	DefaultTimeout        = 30 * time.Second
	DefaultMaxOutputBytes = 10000
)

// DefaultAllowedCommands is the whitelist used when no override is given.
var DefaultAllowedCommands = []string{
	"ls", "pwd", "echo", "cat", "head", "tail", "grep", "find", "wc", "sort",
	"uniq", "cut", "date", "whoami", "hostname", "ps", "top", "df", "du",
	"free", "uname", "which", "whereis", "git", "python", "pip", "conda",
	"node", "npm", "yarn", "docker", "kubectl", "aws", "gcloud", "curl",
	"wget", "netstat", "ifconfig", "ping",
}

// DefaultDeniedCommands is the blacklist used when no override is given.
var DefaultDeniedCommands = []string{
	"rm", "mv", "cp", "chmod", "chown", "mkdir", "touch", "dd", "mkfs",
	"mount", "umount", "losetup", "sudo", "su", "passwd", "usermod",
	"userdel", "groupadd", "groupdel", "shutdown", "halt", "reboot",
	"poweroff", "kill", "killall", "rmmod", "insmod", "modprobe", "shred",
	"sfdisk", "fdisk", "parted", "crontab", "at", "anacron", "chattr",
	"lsof", "nslookup", "dig", "traceroute", "tcpdump", "iptables",
	"firewall-cmd", "ufw",
}

// Overrides are user supplied policy values. Empty fields keep the defaults.
type Overrides struct {
	AllowedCommands []string `mapstructure:"allowed_commands" json:"allowed_commands,omitempty" yaml:"allowed_commands" toml:"allowed_commands"`
	DeniedCommands  []string `mapstructure:"denied_commands" json:"denied_commands,omitempty" yaml:"denied_commands" toml:"denied_commands"`
	AllowedRoots    []string `mapstructure:"allowed_roots" json:"allowed_roots,omitempty" yaml:"allowed_roots" toml:"allowed_roots"`
	ProtectedPaths  []string `mapstructure:"protected_paths" json:"protected_paths,omitempty" yaml:"protected_paths" toml:"protected_paths"`
	TimeoutSeconds  int      `mapstructure:"timeout_seconds" json:"timeout_seconds,omitempty" yaml:"timeout_seconds" toml:"timeout_seconds"`
	MaxOutputBytes  int      `mapstructure:"max_output_bytes" json:"max_output_bytes,omitempty" yaml:"max_output_bytes" toml:"max_output_bytes"`
}

// Merge layers other on top of o. Non-empty fields of other win.
func (o Overrides) Merge(other Overrides) Overrides {
	out := o
	if len(other.AllowedCommands) > 0 {
		out.AllowedCommands = other.AllowedCommands
	}
	if len(other.DeniedCommands) > 0 {
		out.DeniedCommands = other.DeniedCommands
	}
	if len(other.AllowedRoots) > 0 {
		out.AllowedRoots = other.AllowedRoots
	}
	if len(other.ProtectedPaths) > 0 {
		out.ProtectedPaths = other.ProtectedPaths
	}
	if other.TimeoutSeconds != 0 {
		out.TimeoutSeconds = other.TimeoutSeconds
	}
	if other.MaxOutputBytes != 0 {
		out.MaxOutputBytes = other.MaxOutputBytes
	}
	return out
}

// Policy is the immutable command and filesystem policy shared by the
// validator, the sandbox and the file tools.
type Policy struct {
	allowed        map[string]struct{}
	denied         map[string]struct{}
	roots          []string
	protected      []string
	timeout        time.Duration
	maxOutputBytes int
}

// New builds a policy from defaults merged with overrides. Allowed roots are
// canonicalized here and never again.
func New(o Overrides) (*Policy, error) {
	if o.TimeoutSeconds < 0 {
		return nil, fmt.Errorf("timeout_seconds must not be negative, got %d", o.TimeoutSeconds)
	}
	if o.MaxOutputBytes < 0 {
		return nil, fmt.Errorf("max_output_bytes must not be negative, got %d", o.MaxOutputBytes)
	}

	allowedList := o.AllowedCommands
	if len(allowedList) == 0 {
		allowedList = DefaultAllowedCommands
	}
	deniedList := o.DeniedCommands
	if len(deniedList) == 0 {
		deniedList = DefaultDeniedCommands
	}

	p := &Policy{
		allowed:        toSet(allowedList),
		denied:         toSet(deniedList),
		timeout:        DefaultTimeout,
		maxOutputBytes: DefaultMaxOutputBytes,
	}
	if o.TimeoutSeconds > 0 {
		p.timeout = time.Duration(o.TimeoutSeconds) * time.Second
	}
	if o.MaxOutputBytes > 0 {
		p.maxOutputBytes = o.MaxOutputBytes
	}

	rawRoots := o.AllowedRoots
	if len(rawRoots) == 0 {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		rawRoots = []string{wd}
	}
	for _, raw := range rawRoots {
		root, err := canonicalRoot(raw)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(p.roots, root) {
			p.roots = append(p.roots, root)
		}
	}

	for _, pattern := range o.ProtectedPaths {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid protected path pattern %q", pattern)
		}
		p.protected = append(p.protected, pattern)
	}

	return p, nil
}

func canonicalRoot(raw string) (string, error) {
	expanded, err := ExpandHome(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if expanded == "" {
		return "", fmt.Errorf("allowed root must not be empty")
	}
	root, err := Canonicalize(expanded)
	if err != nil {
		return "", fmt.Errorf("canonicalize allowed root %q: %w", raw, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return "", fmt.Errorf("allowed root %q: %w", raw, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("allowed root %q is not a directory", raw)
	}
	return root, nil
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		set[item] = struct{}{}
	}
	return set
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// IsAllowed reports whether name is whitelisted.
func (p *Policy) IsAllowed(name string) bool {
	_, ok := p.allowed[name]
	return ok
}

// IsDenied reports whether name is blacklisted.
func (p *Policy) IsDenied(name string) bool {
	_, ok := p.denied[name]
	return ok
}

// AllowedCommands returns the whitelist in sorted order.
func (p *Policy) AllowedCommands() []string { return sortedKeys(p.allowed) }

// DeniedCommands returns the blacklist in sorted order.
func (p *Policy) DeniedCommands() []string { return sortedKeys(p.denied) }

// AllowedRoots returns the canonical allowed roots.
func (p *Policy) AllowedRoots() []string { return slices.Clone(p.roots) }

// ProtectedPaths returns the protected path patterns.
func (p *Policy) ProtectedPaths() []string { return slices.Clone(p.protected) }

// Timeout is the wall-clock limit for one sandboxed command.
func (p *Policy) Timeout() time.Duration { return p.timeout }

// MaxOutputBytes is the per-stream capture limit.
func (p *Policy) MaxOutputBytes() int { return p.maxOutputBytes }

// Contains reports the allowed root that holds the canonical path, if any.
func (p *Policy) Contains(canonical string) (string, bool) {
	for _, root := range p.roots {
		if Within(canonical, root) {
			return root, true
		}
	}
	return "", false
}

// Protected reports the first protected pattern matching the canonical path.
// Absolute patterns match the full path; relative patterns match the path
// relative to each allowed root.
func (p *Policy) Protected(canonical string) (string, bool) {
	full := filepath.ToSlash(canonical)
	for _, pattern := range p.protected {
		if strings.HasPrefix(pattern, "/") {
			if ok, _ := doublestar.Match(pattern, full); ok {
				return pattern, true
			}
			continue
		}
		for _, root := range p.roots {
			if !Within(canonical, root) {
				continue
			}
			rel, err := filepath.Rel(root, canonical)
			if err != nil {
				continue
			}
			if ok, _ := doublestar.Match(pattern, filepath.ToSlash(rel)); ok {
				return pattern, true
			}
		}
	}
	return "", false
}
