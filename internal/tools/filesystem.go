package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/MEKXH/farcode/internal/shell"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/cloudwego/eino/components/tool/utils"
)

const maxSearchResults = 200

// FileAccess confines file tools to the validator's allowed roots. Relative
// paths resolve against Cwd.
type FileAccess struct {
	Validator *shell.Validator
	Cwd       string
}

func (a FileAccess) resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("path is required")
	}
	canonical, verdict := a.Validator.CheckPath(path, a.Cwd)
	if !verdict.Allowed {
		return "", verdict.Denial(a.Validator.Policy())
	}
	return canonical, nil
}

func (a FileAccess) allowed(canonical string) bool {
	p := a.Validator.Policy()
	if _, ok := p.Contains(canonical); !ok {
		return false
	}
	_, protected := p.Protected(canonical)
	return !protected
}

func (a FileAccess) maxBytes() int {
	return a.Validator.Policy().MaxOutputBytes()
}

// NewFileTools builds every file tool over the same access rules.
func NewFileTools(access FileAccess) ([]Tool, error) {
	builders := []func(FileAccess) (Tool, error){
		NewReadFileTool,
		NewWriteFileTool,
		NewEditFileTool,
		NewListDirTool,
		NewSearchFilesTool,
	}
	out := make([]Tool, 0, len(builders))
	for _, build := range builders {
		t, err := build(access)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// ReadFileInput parameters for read_file tool
type ReadFileInput struct {
	Path   string `json:"path" jsonschema:"required,description=Path to the file"`
	Offset int    `json:"offset" jsonschema:"description=Starting line number (0-based)"`
	Limit  int    `json:"limit" jsonschema:"description=Maximum number of lines to read"`
}

// ReadFileOutput result of read_file tool
type ReadFileOutput struct {
	Content    string `json:"content"`
	TotalLines int    `json:"total_lines"`
	Truncated  bool   `json:"truncated,omitempty"`
}

type readFileToolImpl struct {
	access FileAccess
}

func (t *readFileToolImpl) execute(ctx context.Context, input *ReadFileInput) (*ReadFileOutput, error) {
	path, err := t.access.resolve(input.Path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(string(data), "\n")
	totalLines := len(lines)

	if input.Offset > 0 {
		if input.Offset >= len(lines) {
			lines = []string{}
		} else {
			lines = lines[input.Offset:]
		}
	}
	if input.Limit > 0 && input.Limit < len(lines) {
		lines = lines[:input.Limit]
	}

	content := strings.Join(lines, "\n")
	out := &ReadFileOutput{TotalLines: totalLines}
	if limit := t.access.maxBytes(); limit > 0 && len(content) > limit {
		content = content[:limit] + shell.TruncationMarker
		out.Truncated = true
	}
	out.Content = content
	return out, nil
}

// NewReadFileTool creates the read_file tool
func NewReadFileTool(access FileAccess) (Tool, error) {
	impl := &readFileToolImpl{access: access}
	return utils.InferTool("read_file", "Read the contents of a file inside the allowed directories", impl.execute)
}

// WriteFileInput parameters for write_file tool
type WriteFileInput struct {
	Path    string `json:"path" jsonschema:"required,description=Path to the file"`
	Content string `json:"content" jsonschema:"required,description=Content to write"`
}

type writeFileToolImpl struct {
	access FileAccess
}

func (t *writeFileToolImpl) execute(ctx context.Context, input *WriteFileInput) (string, error) {
	path, err := t.access.resolve(input.Path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(input.Content), 0o644); err != nil {
		return "", err
	}
	return fmt.Sprintf("File written successfully: %s (%d bytes)", path, len(input.Content)), nil
}

// NewWriteFileTool creates the write_file tool
func NewWriteFileTool(access FileAccess) (Tool, error) {
	impl := &writeFileToolImpl{access: access}
	return utils.InferTool("write_file", "Write content to a file, creating parent directories", impl.execute)
}

// ListDirInput parameters for list_dir tool
type ListDirInput struct {
	Path string `json:"path" jsonschema:"description=Directory to list. Defaults to the working directory"`
}

type listDirToolImpl struct {
	access FileAccess
}

func (t *listDirToolImpl) execute(ctx context.Context, input *ListDirInput) ([]string, error) {
	target := input.Path
	if strings.TrimSpace(target) == "" {
		target = "."
	}
	dir, err := t.access.resolve(target)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var dirs, files []string
	for _, entry := range entries {
		if _, protected := t.access.Validator.Policy().Protected(filepath.Join(dir, entry.Name())); protected {
			continue
		}
		if entry.IsDir() {
			dirs = append(dirs, entry.Name()+"/")
		} else {
			files = append(files, entry.Name())
		}
	}
	return append(dirs, files...), nil
}

// NewListDirTool creates the list_dir tool
func NewListDirTool(access FileAccess) (Tool, error) {
	impl := &listDirToolImpl{access: access}
	return utils.InferTool("list_dir", "List a directory, directories first", impl.execute)
}

// SearchFilesInput parameters for search_files tool
type SearchFilesInput struct {
	Pattern string `json:"pattern" jsonschema:"required,description=Glob such as **/*.go relative to path"`
	Path    string `json:"path" jsonschema:"description=Directory to search from. Defaults to the working directory"`
}

// SearchFilesOutput result of search_files tool
type SearchFilesOutput struct {
	Matches   []string `json:"matches"`
	Truncated bool     `json:"truncated,omitempty"`
}

type searchFilesToolImpl struct {
	access FileAccess
}

func (t *searchFilesToolImpl) execute(ctx context.Context, input *SearchFilesInput) (*SearchFilesOutput, error) {
	pattern := strings.TrimSpace(input.Pattern)
	if pattern == "" || !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid glob pattern %q", input.Pattern)
	}
	if filepath.IsAbs(pattern) || strings.HasPrefix(pattern, "..") {
		return nil, fmt.Errorf("pattern must be relative to the search directory")
	}

	target := input.Path
	if strings.TrimSpace(target) == "" {
		target = "."
	}
	base, err := t.access.resolve(target)
	if err != nil {
		return nil, err
	}

	out := &SearchFilesOutput{Matches: []string{}}
	err = doublestar.GlobWalk(os.DirFS(base), pattern, func(rel string, d fs.DirEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		full := filepath.Join(base, filepath.FromSlash(rel))
		resolved, err := filepath.EvalSymlinks(full)
		if err != nil || !t.access.allowed(resolved) {
			return nil
		}
		if len(out.Matches) == maxSearchResults {
			out.Truncated = true
			return doublestar.SkipDir
		}
		out.Matches = append(out.Matches, full)
		return nil
	})
	if err != nil && !errors.Is(err, doublestar.SkipDir) {
		return nil, err
	}
	return out, nil
}

// NewSearchFilesTool creates the search_files tool
func NewSearchFilesTool(access FileAccess) (Tool, error) {
	impl := &searchFilesToolImpl{access: access}
	return utils.InferTool("search_files", "Find files matching a glob inside the allowed directories", impl.execute)
}
