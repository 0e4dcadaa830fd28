package shell

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
	"mvdan.cc/sh/v3/syntax"
)

// ErrMalformedInvocation marks input the tokenizer refuses to analyze.
var ErrMalformedInvocation = errors.New("malformed invocation")

// Invocation is one executable with its literal arguments.
type Invocation struct {
	Executable string
	Args       []string
}

// Argv returns the executable followed by its arguments.
func (inv Invocation) Argv() []string {
	return append([]string{inv.Executable}, inv.Args...)
}

func (inv Invocation) String() string {
	return Join(inv)
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedInvocation, fmt.Sprintf(format, args...))
}

// Tokenize splits raw into an invocation using POSIX quoting rules. Anything
// that would make a shell do more than run one program with literal
// arguments is rejected.
func Tokenize(raw string) (Invocation, error) {
	if strings.TrimSpace(raw) == "" {
		return Invocation{}, malformed("empty command")
	}
	if strings.ContainsRune(raw, 0) {
		return Invocation{}, malformed("NUL byte in command")
	}

	parser := syntax.NewParser(syntax.KeepComments(true), syntax.Variant(syntax.LangBash))
	file, err := parser.Parse(strings.NewReader(raw), "")
	if err != nil {
		return Invocation{}, malformed("%v", err)
	}
	if len(file.Last) > 0 {
		return Invocation{}, malformed("comments are not allowed")
	}
	if len(file.Stmts) != 1 {
		return Invocation{}, malformed("expected exactly one command, got %d", len(file.Stmts))
	}

	stmt := file.Stmts[0]
	switch {
	case len(stmt.Comments) > 0:
		return Invocation{}, malformed("comments are not allowed")
	case stmt.Background:
		return Invocation{}, malformed("background execution is not allowed")
	case stmt.Coprocess:
		return Invocation{}, malformed("coprocesses are not allowed")
	case stmt.Negated:
		return Invocation{}, malformed("negation is not allowed")
	case stmt.Semicolon.IsValid():
		return Invocation{}, malformed("command separators are not allowed")
	case len(stmt.Redirs) > 0:
		return Invocation{}, malformed("redirections are not allowed")
	}

	call, ok := stmt.Cmd.(*syntax.CallExpr)
	if !ok {
		return Invocation{}, malformed("only simple commands are allowed, got %s", describeCommand(stmt.Cmd))
	}
	if len(call.Assigns) > 0 {
		return Invocation{}, malformed("variable assignments are not allowed")
	}
	if len(call.Args) == 0 {
		return Invocation{}, malformed("missing executable")
	}

	words := make([]string, 0, len(call.Args))
	for _, word := range call.Args {
		value, err := literalWord(word)
		if err != nil {
			return Invocation{}, err
		}
		words = append(words, value)
	}

	exe := words[0]
	if exe == "" {
		return Invocation{}, malformed("empty executable name")
	}
	if norm.NFKC.String(exe) != exe {
		return Invocation{}, malformed("executable name %q is not in normalized form", exe)
	}

	return Invocation{Executable: exe, Args: words[1:]}, nil
}

func describeCommand(cmd syntax.Command) string {
	switch cmd.(type) {
	case *syntax.BinaryCmd:
		return "a pipeline or command list"
	case *syntax.Subshell:
		return "a subshell"
	case *syntax.Block:
		return "a block"
	case nil:
		return "nothing"
	default:
		return fmt.Sprintf("%T", cmd)
	}
}

func literalWord(word *syntax.Word) (string, error) {
	var sb strings.Builder
	for _, part := range word.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			value, err := unescapeUnquoted(p.Value)
			if err != nil {
				return "", err
			}
			sb.WriteString(value)
		case *syntax.SglQuoted:
			if p.Dollar {
				return "", malformed("ANSI-C quoting is not allowed")
			}
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			if p.Dollar {
				return "", malformed("locale quoting is not allowed")
			}
			for _, inner := range p.Parts {
				lit, ok := inner.(*syntax.Lit)
				if !ok {
					return "", malformed("expansion inside double quotes is not allowed")
				}
				value, err := unescapeDoubleQuoted(lit.Value)
				if err != nil {
					return "", err
				}
				sb.WriteString(value)
			}
		case *syntax.CmdSubst:
			return "", malformed("command substitution is not allowed")
		case *syntax.ParamExp:
			return "", malformed("variable expansion is not allowed")
		case *syntax.ProcSubst:
			return "", malformed("process substitution is not allowed")
		case *syntax.ArithmExp:
			return "", malformed("arithmetic expansion is not allowed")
		default:
			return "", malformed("unsupported word part %T", part)
		}
	}
	return sb.String(), nil
}

func unescapeUnquoted(raw string) (string, error) {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch c {
		case '\\':
			if i+1 >= len(raw) {
				return "", malformed("trailing backslash")
			}
			i++
			if raw[i] == '\n' {
				return "", malformed("line continuation is not allowed")
			}
			sb.WriteByte(raw[i])
		case '\n', '\r':
			return "", malformed("unquoted newline is not allowed")
		case '$', '`':
			return "", malformed("unquoted %q is not allowed", c)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String(), nil
}

func unescapeDoubleQuoted(raw string) (string, error) {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch c {
		case '\\':
			if i+1 < len(raw) {
				switch raw[i+1] {
				case '$', '`', '"', '\\':
					i++
					sb.WriteByte(raw[i])
					continue
				case '\n':
					return "", malformed("line continuation is not allowed")
				}
			}
			sb.WriteByte(c)
		case '$', '`':
			return "", malformed("%q inside double quotes is not allowed", c)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String(), nil
}

var bareWord = regexp.MustCompile(`^[A-Za-z0-9_@%+:,./-]+$`)

// Join renders an invocation so that Tokenize(Join(inv)) yields inv again.
func Join(inv Invocation) string {
	argv := inv.Argv()
	quoted := make([]string, len(argv))
	for i, word := range argv {
		if i == 0 && isReservedWord(word) {
			quoted[i] = "'" + word + "'"
			continue
		}
		quoted[i] = quote(word)
	}
	return strings.Join(quoted, " ")
}

func isReservedWord(word string) bool {
	switch word {
	case "declare", "local", "export", "readonly", "typeset", "nameref", "let":
		return true
	}
	return syntax.IsKeyword(word)
}

func quote(word string) string {
	if word == "" {
		return "''"
	}
	if bareWord.MatchString(word) {
		return word
	}
	return "'" + strings.ReplaceAll(word, "'", `'\''`) + "'"
}
