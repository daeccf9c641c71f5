package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// maxReadBytes bounds how much of a file the read tool loads. The
// dispatcher applies the family output cap on top of this.
const maxReadBytes = 256 * 1024

// ReadFileTool returns file contents.
type ReadFileTool struct {
	cwd string
}

func NewReadFileTool(cwd string) *ReadFileTool { return &ReadFileTool{cwd: cwd} }

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read the contents of a text file."
}

func (t *ReadFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to the file (relative to the working directory or absolute)",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Example() string { return `{"path": "src/main.go"}` }

func (t *ReadFileTool) Family() Family { return FamilyGeneral }

func (t *ReadFileTool) Execute(_ context.Context, args map[string]any) (string, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return "", err
	}
	full := resolvePath(t.cwd, path)

	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if isBinary(data) {
		return "", fmt.Errorf("%s looks like a binary file", path)
	}

	content := string(data)
	if len(content) > maxReadBytes {
		content = content[:maxReadBytes] +
			fmt.Sprintf("\n... (truncated, file is %d bytes)", len(data))
	}
	return content, nil
}

// WriteFileTool creates or overwrites a file.
type WriteFileTool struct {
	cwd string
}

func NewWriteFileTool(cwd string) *WriteFileTool { return &WriteFileTool{cwd: cwd} }

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Description() string {
	return "Write content to a file, creating it and any parent directories if needed."
}

func (t *WriteFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to the file to write",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Full content to write",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Example() string {
	return `{"path": "notes.txt", "content": "hello\n"}`
}

func (t *WriteFileTool) Family() Family { return FamilyGeneral }

func (t *WriteFileTool) Execute(_ context.Context, args map[string]any) (string, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return "", err
	}
	content, ok := args["content"].(string)
	if !ok {
		return "", fmt.Errorf("content must be a string")
	}

	full := resolvePath(t.cwd, path)
	if dir := filepath.Dir(full); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(content), path), nil
}

// EditFileTool replaces one exact occurrence of a string in a file.
type EditFileTool struct {
	cwd string
}

func NewEditFileTool(cwd string) *EditFileTool { return &EditFileTool{cwd: cwd} }

func (t *EditFileTool) Name() string { return "edit_file" }

func (t *EditFileTool) Description() string {
	return "Edit a file by replacing an exact string. The old text must appear exactly once."
}

func (t *EditFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to the file to edit",
			},
			"old_text": map[string]any{
				"type":        "string",
				"description": "Exact text to replace, including indentation",
			},
			"new_text": map[string]any{
				"type":        "string",
				"description": "Replacement text",
			},
		},
		"required": []string{"path", "old_text", "new_text"},
	}
}

func (t *EditFileTool) Example() string {
	return `{"path": "main.go", "old_text": "count := 0", "new_text": "count := 1"}`
}

func (t *EditFileTool) Family() Family { return FamilyGeneral }

func (t *EditFileTool) Execute(_ context.Context, args map[string]any) (string, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return "", err
	}
	oldText, err := stringArg(args, "old_text")
	if err != nil {
		return "", err
	}
	newText, ok := args["new_text"].(string)
	if !ok {
		return "", fmt.Errorf("new_text must be a string")
	}

	full := resolvePath(t.cwd, path)
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	content := string(data)

	switch n := strings.Count(content, oldText); n {
	case 0:
		return "", fmt.Errorf("old_text not found in %s", path)
	case 1:
	default:
		return "", fmt.Errorf("old_text appears %d times in %s, include more surrounding context to make it unique", n, path)
	}

	edited := strings.Replace(content, oldText, newText, 1)
	if err := os.WriteFile(full, []byte(edited), 0644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}

	line := 1 + strings.Count(content[:strings.Index(content, oldText)], "\n")
	return fmt.Sprintf("Edited %s at line %d", path, line), nil
}

func resolvePath(cwd, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(cwd, path)
}

// isBinary reports whether data contains NUL bytes in its first 8 KB.
func isBinary(data []byte) bool {
	if len(data) > 8192 {
		data = data[:8192]
	}
	for _, b := range data {
		if b == 0 {
			return true
		}
	}
	return false
}
