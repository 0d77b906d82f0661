package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/calder-ai/calder/internal/llm"
)

// Workspace-rooted file tools. Relative paths resolve against the workspace
// root; when restricted, canonicalized paths must stay inside it, which
// closes the symlink escape.

type readFileArgs struct {
	Path string `json:"path" jsonschema:"description=Path to the file to read,required"`
}

type writeFileArgs struct {
	Path    string `json:"path" jsonschema:"description=Path to the file to write,required"`
	Content string `json:"content" jsonschema:"description=Full content to write,required"`
}

type editFileArgs struct {
	Path    string `json:"path" jsonschema:"description=Path to the file to edit,required"`
	Find    string `json:"find" jsonschema:"description=Exact text to replace; must occur exactly once,required"`
	Replace string `json:"replace" jsonschema:"description=Replacement text,required"`
}

type listDirArgs struct {
	Path string `json:"path" jsonschema:"description=Directory to list; defaults to the workspace root"`
}

const maxReadBytes = 256 * 1024

// FileTools bundles the workspace file capabilities so they share one
// path policy.
type FileTools struct {
	workspace string
	restrict  bool
	allowed   []string // extra prefixes readable despite restriction
}

func NewFileTools(workspace string, restrict bool) *FileTools {
	return &FileTools{workspace: workspace, restrict: restrict}
}

// AllowPaths adds prefixes readable outside the workspace, such as the
// skills directory.
func (f *FileTools) AllowPaths(prefixes ...string) {
	f.allowed = append(f.allowed, prefixes...)
}

// RegisterAll adds read_file, write_file, edit_file and list_dir.
func (f *FileTools) RegisterAll(r *Registry) {
	r.Register(&Func{
		Def: llm.ToolDefinition{
			Name:        "read_file",
			Description: "Read the contents of a file",
			Parameters:  SchemaFor(readFileArgs{}),
		},
		Run: f.readFile,
	})
	r.Register(&Func{
		Def: llm.ToolDefinition{
			Name:        "write_file",
			Description: "Write content to a file, creating parent directories as needed",
			Parameters:  SchemaFor(writeFileArgs{}),
		},
		Run: f.writeFile,
	})
	r.Register(&Func{
		Def: llm.ToolDefinition{
			Name:        "edit_file",
			Description: "Replace an exact text occurrence in a file",
			Parameters:  SchemaFor(editFileArgs{}),
		},
		Run: f.editFile,
	})
	r.Register(&Func{
		Def: llm.ToolDefinition{
			Name:        "list_dir",
			Description: "List the entries of a directory",
			Parameters:  SchemaFor(listDirArgs{}),
		},
		Run: f.listDir,
	})
}

func (f *FileTools) readFile(ctx context.Context, args map[string]any) Result {
	path := String(args, "path")
	if path == "" {
		return Failure(FailureExecutionFailed, "path is required")
	}
	resolved, err := f.resolve(path, true)
	if err != nil {
		return ExecutionError(err)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return ExecutionError(fmt.Errorf("read file: %w", err))
	}
	if len(data) > maxReadBytes {
		return Successf("%s\n[truncated at %d bytes]", data[:maxReadBytes], maxReadBytes)
	}
	return Success(string(data))
}

func (f *FileTools) writeFile(ctx context.Context, args map[string]any) Result {
	path := String(args, "path")
	if path == "" {
		return Failure(FailureExecutionFailed, "path is required")
	}
	resolved, err := f.resolve(path, false)
	if err != nil {
		return ExecutionError(err)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return ExecutionError(fmt.Errorf("create parent dir: %w", err))
	}
	content := String(args, "content")
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return ExecutionError(fmt.Errorf("write file: %w", err))
	}
	return Successf("wrote %d bytes to %s", len(content), path)
}

func (f *FileTools) editFile(ctx context.Context, args map[string]any) Result {
	path := String(args, "path")
	find := String(args, "find")
	if path == "" || find == "" {
		return Failure(FailureExecutionFailed, "path and find are required")
	}
	resolved, err := f.resolve(path, false)
	if err != nil {
		return ExecutionError(err)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return ExecutionError(fmt.Errorf("read file: %w", err))
	}
	content := string(data)
	switch n := strings.Count(content, find); {
	case n == 0:
		return Failure(FailureExecutionFailed, "find text not present in file")
	case n > 1:
		return Failure(FailureExecutionFailed, fmt.Sprintf("find text occurs %d times; must be unique", n))
	}
	content = strings.Replace(content, find, String(args, "replace"), 1)
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return ExecutionError(fmt.Errorf("write file: %w", err))
	}
	return Successf("edited %s", path)
}

func (f *FileTools) listDir(ctx context.Context, args map[string]any) Result {
	path := String(args, "path")
	if path == "" {
		path = "."
	}
	resolved, err := f.resolve(path, true)
	if err != nil {
		return ExecutionError(err)
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return ExecutionError(fmt.Errorf("list dir: %w", err))
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return Success("(empty directory)")
	}
	return Success(strings.Join(names, "\n"))
}

// resolve maps a tool path onto the filesystem and enforces the workspace
// boundary. Reads may also touch the extra allowed prefixes.
func (f *FileTools) resolve(path string, read bool) (string, error) {
	var resolved string
	if filepath.IsAbs(path) {
		resolved = filepath.Clean(path)
	} else {
		resolved = filepath.Clean(filepath.Join(f.workspace, path))
	}
	if !f.restrict {
		return resolved, nil
	}

	wsReal := canonicalize(f.workspace)
	real := canonicalize(resolved)
	if isPathInside(real, wsReal) {
		return real, nil
	}
	if read {
		for _, prefix := range f.allowed {
			if isPathInside(real, canonicalize(prefix)) {
				return real, nil
			}
		}
	}
	return "", fmt.Errorf("access denied: %s is outside the workspace", path)
}

// canonicalize resolves symlinks through the deepest existing ancestor so
// that dangling targets still compare against the real workspace path.
func canonicalize(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		return real
	}
	dir, base := filepath.Dir(abs), filepath.Base(abs)
	if realDir, err := filepath.EvalSymlinks(dir); err == nil {
		return filepath.Join(realDir, base)
	}
	return abs
}

func isPathInside(child, parent string) bool {
	if child == parent {
		return true
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}
