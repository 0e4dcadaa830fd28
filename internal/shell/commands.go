package shell

import (
	"errors"
	"net/url"
	"strings"
)

// CommandSpec declares which arguments of a command name filesystem paths.
type CommandSpec struct {
	// PathsFrom is the first positional index (after subcommands) that is a
	// path. Negative disables positional paths.
	PathsFrom int
	// PathFlags take a path value, either "-o file" or "--output=file".
	PathFlags []string
	// ValueFlags take a non-path value that must be skipped.
	ValueFlags []string
	// PatternFlags supply the pattern themselves, so every positional
	// becomes a path (grep -e).
	PatternFlags []string
	// DeniedFlags hand control to another program and deny the invocation.
	DeniedFlags []string
	// Subcommands counts leading positional verbs (git status).
	Subcommands int
}

// CommandSpecs maps an executable base name to its declaration.
type CommandSpecs map[string]CommandSpec

// FallbackSpec treats every non-flag argument as a path.
var FallbackSpec = CommandSpec{PathsFrom: 0}

var noPositionalPaths = CommandSpec{PathsFrom: -1}

// DefaultCommandSpecs covers the default whitelist.
func DefaultCommandSpecs() CommandSpecs {
	return CommandSpecs{
		"ls": {
			PathsFrom:  0,
			ValueFlags: []string{"-I", "--ignore", "-w", "--width", "-T", "--tabsize", "--hide", "--block-size", "--format", "--sort", "--time", "--time-style", "--quoting-style", "--indicator-style"},
		},
		"pwd":      noPositionalPaths,
		"echo":     noPositionalPaths,
		"date":     {PathsFrom: -1, PathFlags: []string{"-f", "--file", "-r", "--reference"}, ValueFlags: []string{"-d", "--date", "-s", "--set"}},
		"whoami":   noPositionalPaths,
		"hostname": noPositionalPaths,
		"ps":       {PathsFrom: -1, ValueFlags: []string{"-p", "--pid", "-u", "--user", "-o", "-C", "--sort"}},
		"top":      {PathsFrom: -1, ValueFlags: []string{"-n", "-d", "-p", "-u", "-o"}},
		"free":     noPositionalPaths,
		"uname":    noPositionalPaths,
		"which":    noPositionalPaths,
		"whereis":  noPositionalPaths,
		"cat":      {PathsFrom: 0},
		"head":     {PathsFrom: 0, ValueFlags: []string{"-n", "--lines", "-c", "--bytes"}},
		"tail":     {PathsFrom: 0, ValueFlags: []string{"-n", "--lines", "-c", "--bytes", "-s", "--sleep-interval", "--pid"}},
		"wc":       {PathsFrom: 0, PathFlags: []string{"--files0-from"}},
		"sort": {
			PathsFrom:   0,
			PathFlags:   []string{"-o", "--output", "-T", "--temporary-directory", "--files0-from"},
			ValueFlags:  []string{"-k", "--key", "-t", "--field-separator", "-S", "--buffer-size", "--parallel"},
			DeniedFlags: []string{"--compress-program"},
		},
		"uniq": {PathsFrom: 0, ValueFlags: []string{"-f", "--skip-fields", "-s", "--skip-chars", "-w", "--check-chars"}},
		"cut":  {PathsFrom: 0, ValueFlags: []string{"-b", "--bytes", "-c", "--characters", "-d", "--delimiter", "-f", "--fields", "--output-delimiter"}},
		"grep": {
			PathsFrom:    1,
			PathFlags:    []string{"-f", "--file", "--exclude-from"},
			ValueFlags:   []string{"-m", "--max-count", "-A", "--after-context", "-B", "--before-context", "-C", "--context", "--include", "--exclude", "--exclude-dir", "--color", "--colour", "--label", "-d", "--directories", "-D", "--devices", "--binary-files"},
			PatternFlags: []string{"-e", "--regexp", "-f", "--file"},
		},
		"find": {
			PathsFrom:   0,
			PathFlags:   []string{"-newer", "-samefile", "-anewer", "-cnewer"},
			ValueFlags:  []string{"-name", "-iname", "-path", "-ipath", "-regex", "-iregex", "-type", "-size", "-mtime", "-mmin", "-atime", "-amin", "-ctime", "-cmin", "-user", "-group", "-perm", "-maxdepth", "-mindepth", "-printf", "-newermt", "-links", "-inum", "-uid", "-gid", "-wholename", "-iwholename", "-lname", "-ilname", "-regextype"},
			DeniedFlags: []string{"-exec", "-execdir", "-ok", "-okdir", "-delete", "-fprint", "-fprint0", "-fprintf", "-fls"},
		},
		"du": {PathsFrom: 0, PathFlags: []string{"--files0-from", "-X", "--exclude-from"}, ValueFlags: []string{"-d", "--max-depth", "-B", "--block-size", "-t", "--threshold", "--exclude", "--time-style"}},
		"df": {PathsFrom: 0, ValueFlags: []string{"-B", "--block-size", "-t", "--type", "-x", "--exclude-type", "--output"}},
		"git": {
			PathsFrom:   0,
			Subcommands: 1,
			PathFlags:   []string{"-C", "--git-dir", "--work-tree", "--output", "-o", "--file", "-F"},
			ValueFlags:  []string{"-m", "--message", "-b", "-B", "-n", "--max-count", "--author", "--since", "--until", "--format", "--pretty", "--grep", "-S", "-G", "--depth", "--branch", "--date", "-U", "--unified"},
			DeniedFlags: []string{"-c", "--config-env", "--exec-path", "--upload-pack", "--receive-pack", "--ext-diff"},
		},
		"python":  {PathsFrom: 0, ValueFlags: []string{"-m", "-W", "-X"}, DeniedFlags: []string{"-c"}},
		"node":    {PathsFrom: 0, ValueFlags: []string{"-r", "--require"}, DeniedFlags: []string{"-e", "--eval", "-p", "--print"}},
		"pip":     {PathsFrom: -1, Subcommands: 1, PathFlags: []string{"-r", "--requirement", "-c", "--constraint", "-t", "--target", "--log", "--cache-dir"}},
		"conda":   {PathsFrom: -1, Subcommands: 1, PathFlags: []string{"-p", "--prefix", "--file"}, ValueFlags: []string{"-n", "--name", "-c", "--channel"}},
		"npm":     {PathsFrom: -1, Subcommands: 1, PathFlags: []string{"--prefix", "-C", "--cache", "--userconfig"}},
		"yarn":    {PathsFrom: -1, Subcommands: 1, PathFlags: []string{"--cwd", "--modules-folder", "--cache-folder"}},
		"docker":  {PathsFrom: -1, Subcommands: 1, PathFlags: []string{"-f", "--file", "--config", "--env-file", "--iidfile", "--cidfile"}, ValueFlags: []string{"-t", "--tag", "--name", "-p", "--publish", "-e", "--env", "--format", "--filter"}, DeniedFlags: []string{"-v", "--volume", "--mount", "--privileged"}},
		"kubectl": {PathsFrom: -1, Subcommands: 1, PathFlags: []string{"-f", "--filename", "--kubeconfig", "-k", "--kustomize"}, ValueFlags: []string{"-n", "--namespace", "-o", "--output", "-l", "--selector", "--context", "-c", "--container"}},
		"aws":     {PathsFrom: -1, Subcommands: 2, PathFlags: []string{"--cli-input-json"}, ValueFlags: []string{"--region", "--profile", "--output", "--query"}},
		"gcloud":  {PathsFrom: -1, Subcommands: 2, PathFlags: []string{"--flags-file", "--configuration"}, ValueFlags: []string{"--project", "--region", "--zone", "--format", "--filter"}},
		"curl": {
			PathsFrom:  -1,
			PathFlags:  []string{"-o", "--output", "-K", "--config", "-T", "--upload-file", "-D", "--dump-header", "-c", "--cookie-jar", "-b", "--cookie", "--output-dir", "--cacert", "--cert", "--key", "--trace", "--trace-ascii", "--stderr"},
			ValueFlags: []string{"-X", "--request", "-H", "--header", "-d", "--data", "--data-raw", "--data-binary", "-u", "--user", "-A", "--user-agent", "-e", "--referer", "-m", "--max-time", "--connect-timeout", "-x", "--proxy", "-F", "--form", "-w", "--write-out"},
		},
		"wget": {
			PathsFrom:  -1,
			PathFlags:  []string{"-O", "--output-document", "-P", "--directory-prefix", "-o", "--output-file", "-a", "--append-output", "-i", "--input-file", "--load-cookies", "--save-cookies", "--config"},
			ValueFlags: []string{"-U", "--user-agent", "-t", "--tries", "-T", "--timeout", "--header", "--user", "--password"},
		},
		"netstat":  noPositionalPaths,
		"ifconfig": noPositionalPaths,
		"ping":     {PathsFrom: -1, ValueFlags: []string{"-c", "-i", "-W", "-w", "-s", "-t", "-I"}},
	}
}

// Lookup returns the declaration for an executable or FallbackSpec.
func (s CommandSpecs) Lookup(executable string) CommandSpec {
	if spec, ok := s[executable]; ok {
		return spec
	}
	return FallbackSpec
}

// pathArgs walks args per spec and returns every argument that names a path.
// It returns the offending flag when a denied flag is present.
func (spec CommandSpec) pathArgs(args []string) (paths []string, deniedFlag string) {
	patternGiven := false
	for _, arg := range args {
		if arg == "--" {
			break
		}
		name, _, _ := strings.Cut(arg, "=")
		if contains(spec.PatternFlags, name) {
			patternGiven = true
			break
		}
		if isShortCluster(arg) {
			if step := spec.walkShortCluster(arg); step.pattern {
				patternGiven = true
				break
			}
		}
	}
	pathsFrom := spec.PathsFrom
	if patternGiven && pathsFrom > 0 {
		pathsFrom = 0
	}

	subcommands := spec.Subcommands
	positional := 0
	endOfFlags := false

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if !endOfFlags && arg == "--" {
			endOfFlags = true
			continue
		}

		if !endOfFlags && len(arg) > 1 && strings.HasPrefix(arg, "-") {
			name, value, hasValue := strings.Cut(arg, "=")
			if contains(spec.DeniedFlags, name) {
				return nil, name
			}
			if attached, ok := attachedShortValue(arg, spec.PathFlags); ok {
				paths = append(paths, attached)
				continue
			}
			known := contains(spec.PathFlags, name) || contains(spec.ValueFlags, name) || contains(spec.PatternFlags, name)
			if !known {
				if flag, ok := attachedShortDenied(name, spec.DeniedFlags); ok {
					return nil, flag
				}
			}
			if hasValue && (known || strings.HasPrefix(arg, "--")) {
				if contains(spec.PathFlags, name) || looksLikePath(value) {
					paths = append(paths, value)
				}
				continue
			}
			if contains(spec.PathFlags, arg) {
				if i+1 < len(args) {
					i++
					paths = append(paths, args[i])
				}
				continue
			}
			if contains(spec.ValueFlags, arg) || contains(spec.PatternFlags, arg) {
				if i+1 < len(args) {
					i++
					if looksLikePath(args[i]) {
						paths = append(paths, args[i])
					}
				}
				continue
			}
			if isShortCluster(arg) {
				step := spec.walkShortCluster(arg)
				switch {
				case step.flag == "":
				case step.value != "":
					if step.path || looksLikePath(step.value) {
						paths = append(paths, step.value)
					}
				case i+1 < len(args):
					i++
					if step.path || looksLikePath(args[i]) {
						paths = append(paths, args[i])
					}
				}
				continue
			}
			if hasValue && looksLikePath(value) {
				paths = append(paths, value)
			}
			continue
		}

		if subcommands > 0 {
			subcommands--
			continue
		}
		if pathsFrom >= 0 && positional >= pathsFrom {
			paths = append(paths, arg)
		} else if looksLikePath(arg) {
			paths = append(paths, arg)
		}
		positional++
	}
	return paths, ""
}

// attachedShortValue handles "-Cdir" style short flags with glued values.
func attachedShortValue(arg string, flags []string) (string, bool) {
	if strings.HasPrefix(arg, "--") {
		return "", false
	}
	for _, flag := range flags {
		if len(flag) == 2 && strings.HasPrefix(arg, flag) && len(arg) > 2 {
			return arg[2:], true
		}
	}
	return "", false
}

// clusterStep is the first value-taking flag found in a short cluster.
type clusterStep struct {
	flag    string
	value   string
	path    bool
	pattern bool
}

func isShortCluster(arg string) bool {
	return len(arg) > 1 && arg[0] == '-' && arg[1] != '-'
}

// walkShortCluster reads "-nie" or "-eroot" the way getopt does: letters are
// boolean until one takes a value, which is the rest of the cluster or, when
// nothing follows, the next argument.
func (spec CommandSpec) walkShortCluster(arg string) clusterStep {
	var step clusterStep
	for i := 1; i < len(arg); i++ {
		flag := "-" + string(arg[i])
		isPath := contains(spec.PathFlags, flag)
		isPattern := contains(spec.PatternFlags, flag)
		if !isPath && !isPattern && !contains(spec.ValueFlags, flag) {
			continue
		}
		step.flag = flag
		step.value = arg[i+1:]
		step.path = isPath
		step.pattern = isPattern
		return step
	}
	return step
}

// attachedShortDenied catches a denied single-letter flag inside a cluster
// such as "-xc" or "-cfoo".
func attachedShortDenied(arg string, flags []string) (string, bool) {
	if strings.HasPrefix(arg, "--") {
		return "", false
	}
	for _, flag := range flags {
		if len(flag) == 2 && strings.ContainsRune(arg[1:], rune(flag[1])) {
			return flag, true
		}
	}
	return "", false
}

const fileScheme = "file:"

// fileURLPath maps a file: URL to the local path it names. Other arguments
// come back unchanged. A file URL that is embedded in a larger argument
// (curl globs) or names a remote host is rejected.
func fileURLPath(arg string) (string, error) {
	idx := strings.Index(strings.ToLower(arg), fileScheme)
	switch {
	case idx < 0:
		return arg, nil
	case idx > 0:
		return "", errors.New("embedded file URL")
	}

	rest := arg[len(fileScheme):]
	if end := strings.IndexAny(rest, "?#"); end >= 0 {
		rest = rest[:end]
	}
	if after, ok := strings.CutPrefix(rest, "//"); ok {
		host, p, _ := strings.Cut(after, "/")
		if host != "" && !strings.EqualFold(host, "localhost") {
			return "", errors.New("file URL with remote host " + host)
		}
		rest = "/" + p
	}
	decoded, err := url.PathUnescape(rest)
	if err != nil {
		return "", errors.New("malformed file URL")
	}
	if decoded == "" {
		decoded = "."
	}
	return decoded, nil
}

func looksLikePath(arg string) bool {
	return arg == "." || arg == ".." || arg == "~" ||
		strings.Contains(strings.ToLower(arg), fileScheme) ||
		strings.HasPrefix(arg, "/") ||
		strings.HasPrefix(arg, "~/") ||
		strings.HasPrefix(arg, "./") ||
		strings.HasPrefix(arg, "../") ||
		strings.Contains(arg, "/")
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}
