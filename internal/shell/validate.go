package shell

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/MEKXH/farcode/internal/policy"
)

var (
	ErrNotWhitelisted   = errors.New("command not whitelisted")
	ErrBlacklisted      = errors.New("command blacklisted")
	ErrPathEscapesRoot  = errors.New("path escapes allowed roots")
	ErrProtectedPath    = errors.New("path is protected")
	ErrExecutionTimeout = errors.New("command exceeded timeout")
)

// Reason explains a denied verdict.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonNotWhitelisted      Reason = "not_whitelisted"
	ReasonBlacklisted         Reason = "blacklisted"
	ReasonPathEscapesRoot     Reason = "path_escapes_root"
	ReasonProtectedPath       Reason = "protected_path"
	ReasonMalformedInvocation Reason = "malformed_invocation"
)

// Err maps a reason to its sentinel error.
func (r Reason) Err() error {
	switch r {
	case ReasonNotWhitelisted:
		return ErrNotWhitelisted
	case ReasonBlacklisted:
		return ErrBlacklisted
	case ReasonPathEscapesRoot:
		return ErrPathEscapesRoot
	case ReasonProtectedPath:
		return ErrProtectedPath
	case ReasonMalformedInvocation:
		return ErrMalformedInvocation
	default:
		return nil
	}
}

// Verdict is the outcome of validating one invocation.
type Verdict struct {
	Allowed bool
	Reason  Reason
	// Path is the offending canonical path for path denials.
	Path string
	// Detail names the command or flag behind the denial.
	Detail string
}

// Err returns nil for allowed verdicts and a wrapped sentinel otherwise.
func (v Verdict) Err() error {
	if v.Allowed {
		return nil
	}
	base := v.Reason.Err()
	if base == nil {
		base = errors.New("denied")
	}
	switch {
	case v.Path != "":
		return fmt.Errorf("%w: %s", base, v.Path)
	case v.Detail != "":
		return fmt.Errorf("%w: %s", base, v.Detail)
	default:
		return base
	}
}

func allowed() Verdict { return Verdict{Allowed: true} }

func denied(reason Reason, path, detail string) Verdict {
	return Verdict{Reason: reason, Path: path, Detail: detail}
}

// Validator decides whether an invocation may run under a policy.
type Validator struct {
	policy *policy.Policy
	specs  CommandSpecs
}

// NewValidator binds a validator to an immutable policy. Nil specs use
// DefaultCommandSpecs.
func NewValidator(p *policy.Policy, specs CommandSpecs) *Validator {
	if specs == nil {
		specs = DefaultCommandSpecs()
	}
	return &Validator{policy: p, specs: specs}
}

// Policy returns the bound policy.
func (v *Validator) Policy() *policy.Policy {
	return v.policy
}

// Validate checks inv against the policy. The first failing rule wins:
// blacklist, whitelist, then path confinement of every path-bearing argument.
func (v *Validator) Validate(inv Invocation, cwd string) Verdict {
	exe := inv.Executable
	base := filepath.Base(exe)
	if exe == "" {
		return denied(ReasonMalformedInvocation, "", "empty executable")
	}

	if v.policy.IsDenied(exe) || v.policy.IsDenied(base) {
		return denied(ReasonBlacklisted, "", base)
	}
	if !v.policy.IsAllowed(exe) {
		return denied(ReasonNotWhitelisted, "", exe)
	}

	canonicalCwd, verdict := v.checkPath(cwd, "")
	if !verdict.Allowed {
		return verdict
	}

	spec := v.specs.Lookup(base)
	paths, deniedFlag := spec.pathArgs(inv.Args)
	if deniedFlag != "" {
		return denied(ReasonBlacklisted, "", base+" "+deniedFlag)
	}
	for _, arg := range paths {
		if arg == "" {
			continue
		}
		target, err := fileURLPath(arg)
		if err != nil {
			return denied(ReasonPathEscapesRoot, arg, err.Error())
		}
		if _, verdict := v.checkPath(target, canonicalCwd); !verdict.Allowed {
			return verdict
		}
	}
	return allowed()
}

// CheckPath confines a single path argument, resolved against cwd.
func (v *Validator) CheckPath(path, cwd string) (string, Verdict) {
	canonicalCwd, verdict := v.checkPath(cwd, "")
	if !verdict.Allowed {
		return "", verdict
	}
	return v.checkPath(path, canonicalCwd)
}

func (v *Validator) checkPath(path, base string) (string, Verdict) {
	expanded, err := policy.ExpandHome(path)
	if err != nil {
		return "", denied(ReasonPathEscapesRoot, path, err.Error())
	}
	candidate := expanded
	if base != "" {
		candidate = policy.ResolveAgainst(base, expanded)
	} else if !filepath.IsAbs(candidate) {
		return "", denied(ReasonPathEscapesRoot, path, "working directory must be absolute")
	}

	canonical, err := policy.Canonicalize(candidate)
	if err != nil {
		return "", denied(ReasonPathEscapesRoot, candidate, err.Error())
	}
	if _, ok := v.policy.Contains(canonical); !ok {
		return "", denied(ReasonPathEscapesRoot, canonical, "")
	}
	if pattern, ok := v.policy.Protected(canonical); ok {
		return "", denied(ReasonProtectedPath, canonical, pattern)
	}
	return canonical, allowed()
}

// Describe renders a denial for the agent.
func (v Verdict) Describe(p *policy.Policy) string {
	if v.Allowed {
		return "allowed"
	}
	switch v.Reason {
	case ReasonBlacklisted:
		return fmt.Sprintf("Command '%s' is forbidden for security reasons.", v.Detail)
	case ReasonNotWhitelisted:
		return fmt.Sprintf("Command '%s' is not in the allowed list. Allowed commands: %s",
			v.Detail, strings.Join(p.AllowedCommands(), ", "))
	case ReasonPathEscapesRoot:
		return fmt.Sprintf("Path '%s' is outside of allowed directories. Allowed paths: %s",
			v.Path, strings.Join(p.AllowedRoots(), ", "))
	case ReasonProtectedPath:
		return fmt.Sprintf("Path '%s' is protected by pattern '%s'.", v.Path, v.Detail)
	case ReasonMalformedInvocation:
		return fmt.Sprintf("Command rejected: %s", v.Detail)
	default:
		return "Command denied."
	}
}

// DenialError carries the rendered denial and unwraps to the reason sentinel.
type DenialError struct {
	Verdict Verdict
	Message string
}

func (e *DenialError) Error() string { return e.Message }

func (e *DenialError) Unwrap() error { return e.Verdict.Err() }

// Denial returns a *DenialError for a denying verdict and nil otherwise.
func (v Verdict) Denial(p *policy.Policy) error {
	if v.Allowed {
		return nil
	}
	return &DenialError{Verdict: v, Message: v.Describe(p)}
}
