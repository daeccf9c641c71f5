package session

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Info summarizes one stored session file.
type Info struct {
	ID         string    `json:"id"`
	Path       string    `json:"path"`
	Cwd        string    `json:"cwd"`
	Model      string    `json:"model"`
	CreatedAt  string    `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
	Entries    int       `json:"entries"`
}

// List returns the sessions stored under dir, most recently modified
// first. A missing directory lists as empty.
func List(dir string) ([]Info, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if err != nil {
		return nil, err
	}

	infos := make([]Info, 0, len(matches))
	for _, path := range matches {
		info, err := readInfo(path)
		if err != nil {
			slog.Debug("skipping unreadable session file", "path", path, "error", err)
			continue
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ModifiedAt.After(infos[j].ModifiedAt)
	})
	return infos, nil
}

func readInfo(path string) (Info, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return Info{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Info{}, err
	}

	var header *Header
	count := 0
	for _, line := range splitLines(data) {
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		if header == nil {
			h, err := decodeHeader(line)
			if err != nil {
				return Info{}, err
			}
			header = h
			continue
		}
		count++
	}
	if header == nil {
		return Info{}, fmt.Errorf("%s: empty session file", path)
	}

	return Info{
		ID:         header.ID,
		Path:       path,
		Cwd:        header.Cwd,
		Model:      header.Model,
		CreatedAt:  header.CreatedAt,
		ModifiedAt: stat.ModTime(),
		Entries:    count,
	}, nil
}
