// Package fsys provides the built-in "filesystem" tool: file
// operations within a sandboxed workspace directory.
package fsys

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	armada "github.com/armadahq/armada"
)

const maxContent = 8000

// Tool provides file operations restricted to a workspace directory.
type Tool struct {
	workspace string
}

var _ armada.Tool = (*Tool)(nil)

// New creates the filesystem tool restricted to workspace.
func New(workspace string) *Tool {
	return &Tool{workspace: workspace}
}

func (t *Tool) Name() string { return "filesystem" }

func (t *Tool) Description() string {
	return "Operate on files inside the workspace: read, write, append, list, exists, delete. Reads are truncated to 8000 chars; writes create parent directories."
}

func (t *Tool) Schema() map[string]armada.Field {
	return map[string]armada.Field{
		// action is one of read, write, append, list, exists, delete.
		"action":  {Required: true, Type: "string", MaxLength: 16},
		"path":    {Required: true, Type: "string", MaxLength: 1024},
		"content": {Type: "string"},
	}
}

func (t *Tool) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	action, _ := input["action"].(string)
	path, _ := input["path"].(string)

	resolved, err := t.resolvePath(path)
	if err != nil {
		return nil, err
	}

	switch action {
	case "read":
		return t.read(resolved)
	case "write":
		content, _ := input["content"].(string)
		return t.write(resolved, content, false)
	case "append":
		content, _ := input["content"].(string)
		return t.write(resolved, content, true)
	case "list":
		return t.list(resolved)
	case "exists":
		_, err := os.Stat(resolved)
		return map[string]any{"exists": err == nil}, nil
	case "delete":
		if err := os.Remove(resolved); err != nil {
			return nil, fmt.Errorf("delete error: %w", err)
		}
		return map[string]any{"deleted": path}, nil
	}
	return nil, fmt.Errorf("unknown filesystem action: %s", action)
}

func (t *Tool) resolvePath(path string) (string, error) {
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("absolute paths not allowed: %s", path)
	}
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("path traversal not allowed: %s", path)
	}
	resolved := filepath.Join(t.workspace, path)
	if !strings.HasPrefix(resolved, t.workspace) {
		return "", fmt.Errorf("path escapes workspace: %s", path)
	}
	return resolved, nil
}

func (t *Tool) read(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read error: %w", err)
	}
	content := string(data)
	if len(content) > maxContent {
		content = content[:maxContent] + "\n... (truncated)"
	}
	return map[string]any{"content": content}, nil
}

func (t *Tool) write(path, content string, app bool) (map[string]any, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("mkdir error: %w", err)
	}
	if app {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("append error: %w", err)
		}
		defer f.Close()
		if _, err := f.WriteString(content); err != nil {
			return nil, fmt.Errorf("append error: %w", err)
		}
	} else if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return nil, fmt.Errorf("write error: %w", err)
	}
	return map[string]any{"written": len(content), "path": filepath.Base(path)}, nil
}

func (t *Tool) list(path string) (map[string]any, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("list error: %w", err)
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
	return map[string]any{"entries": names, "count": len(names)}, nil
}
