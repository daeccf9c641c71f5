package tools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

const searchMaxResults = 500

// SearchTool finds files by name, scanning top-level directories in
// parallel.
type SearchTool struct {
	cwd string
}

func NewSearchTool(cwd string) *SearchTool { return &SearchTool{cwd: cwd} }

func (t *SearchTool) Name() string { return "search" }

func (t *SearchTool) Description() string {
	return "Find files whose name contains the query (case-insensitive). Returns relative paths."
}

func (t *SearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Substring to match against file names",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "Directory to search under (default: working directory)",
			},
		},
		"required": []string{"query"},
	}
}

func (t *SearchTool) Example() string { return `{"query": "config"}` }

func (t *SearchTool) Family() Family { return FamilySearch }

func (t *SearchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	query, err := stringArg(args, "query")
	if err != nil {
		return "", err
	}
	needle := strings.ToLower(query)

	root := t.cwd
	if p := optStringArg(args, "path"); p != "" {
		root = resolvePath(t.cwd, p)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", root, err)
	}

	var (
		mu   sync.Mutex
		hits []string
	)
	add := func(paths []string) {
		mu.Lock()
		hits = append(hits, paths...)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	var top []string
	for _, e := range entries {
		if e.IsDir() {
			if skipDir(e.Name()) {
				continue
			}
			dir := filepath.Join(root, e.Name())
			g.Go(func() error {
				local, err := t.scanDir(gctx, dir, needle)
				if err != nil {
					return err
				}
				add(local)
				return nil
			})
		} else if strings.Contains(strings.ToLower(e.Name()), needle) {
			top = append(top, t.rel(filepath.Join(root, e.Name())))
		}
	}
	add(top)

	if err := g.Wait(); err != nil {
		return "", fmt.Errorf("search %s: %w", root, err)
	}

	if len(hits) == 0 {
		return "No files found", nil
	}
	sort.Strings(hits)
	truncated := false
	if len(hits) > searchMaxResults {
		hits = hits[:searchMaxResults]
		truncated = true
	}
	out := strings.Join(hits, "\n")
	if truncated {
		out += fmt.Sprintf("\n... (showing first %d results)", searchMaxResults)
	}
	return out, nil
}

func (t *SearchTool) scanDir(ctx context.Context, dir, needle string) ([]string, error) {
	var local []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if skipDir(d.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		if strings.Contains(strings.ToLower(d.Name()), needle) {
			local = append(local, t.rel(p))
		}
		return nil
	})
	return local, err
}

func (t *SearchTool) rel(p string) string {
	if r, err := filepath.Rel(t.cwd, p); err == nil {
		return r
	}
	return p
}
