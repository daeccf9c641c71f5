package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	grepMaxMatches  = 200
	grepMaxFileSize = 1024 * 1024
)

var errMatchLimit = errors.New("match limit reached")

// GrepTool searches file contents with a regular expression.
type GrepTool struct {
	cwd string
}

func NewGrepTool(cwd string) *GrepTool { return &GrepTool{cwd: cwd} }

func (t *GrepTool) Name() string { return "grep" }

func (t *GrepTool) Description() string {
	return "Search file contents for a regular expression. Returns path:line: text matches."
}

func (t *GrepTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{
				"type":        "string",
				"description": "Regular expression to search for",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "Directory or file to search (default: working directory)",
			},
			"file_pattern": map[string]any{
				"type":        "string",
				"description": "Glob filter on file names, e.g. '*.go'",
			},
		},
		"required": []string{"pattern"},
	}
}

func (t *GrepTool) Example() string {
	return `{"pattern": "func main", "file_pattern": "*.go"}`
}

func (t *GrepTool) Family() Family { return FamilySearch }

func (t *GrepTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	pattern, err := stringArg(args, "pattern")
	if err != nil {
		return "", err
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("invalid pattern: %w", err)
	}

	root := t.cwd
	if p := optStringArg(args, "path"); p != "" {
		root = resolvePath(t.cwd, p)
	}
	glob := optStringArg(args, "file_pattern")

	var b strings.Builder
	matches := 0
	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if skipDir(d.Name()) && p != root {
				return fs.SkipDir
			}
			return nil
		}
		if glob != "" {
			if ok, _ := filepath.Match(glob, d.Name()); !ok {
				return nil
			}
		}
		if info, err := d.Info(); err != nil || info.Size() > grepMaxFileSize {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil || isBinary(data) {
			return nil
		}

		rel := p
		if r, err := filepath.Rel(t.cwd, p); err == nil {
			rel = r
		}
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				fmt.Fprintf(&b, "%s:%d: %s\n", rel, i+1, strings.TrimRight(line, "\r"))
				matches++
				if matches >= grepMaxMatches {
					return errMatchLimit
				}
			}
		}
		return nil
	})

	if walkErr != nil && !errors.Is(walkErr, errMatchLimit) {
		return "", fmt.Errorf("search %s: %w", root, walkErr)
	}
	if matches == 0 {
		return "No matches found", nil
	}
	if errors.Is(walkErr, errMatchLimit) {
		fmt.Fprintf(&b, "... (stopped at %d matches, refine the pattern)\n", grepMaxMatches)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// skipDir filters directories no search should descend into.
func skipDir(name string) bool {
	return name == ".git" || name == "node_modules" || name == "vendor"
}
