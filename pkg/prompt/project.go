package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FrontMatter is the optional YAML header of a project instructions
// file, delimited by "---" lines.
type FrontMatter struct {
	Name          string   `yaml:"name"`
	Description   string   `yaml:"description"`
	RequiredTools []string `yaml:"required_tools"`
}

// ProjectInstructions is one parsed project instructions file.
type ProjectInstructions struct {
	FrontMatter
	Body string
	Path string
}

// projectFiles are tried in order; the first that exists wins, so a
// checked-in AGENTS.md shadows a legacy CLAUDE.md.
var projectFiles = []string{
	filepath.Join(".quill", "AGENTS.md"),
	"AGENTS.md",
	"CLAUDE.md",
}

// LoadProjectInstructions finds and parses the project instructions file
// under cwd. Returns nil without error when no file exists.
func LoadProjectInstructions(cwd string) (*ProjectInstructions, error) {
	for _, rel := range projectFiles {
		path := filepath.Join(cwd, rel)
		content, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		fm, body, err := SplitFrontMatter(string(content))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return &ProjectInstructions{FrontMatter: fm, Body: body, Path: path}, nil
	}
	return nil, nil
}

// SplitFrontMatter separates a leading YAML front-matter block from the
// document body. Documents without a block come back unchanged with a
// zero FrontMatter.
func SplitFrontMatter(doc string) (FrontMatter, string, error) {
	var fm FrontMatter

	first, rest, found := strings.Cut(doc, "\n")
	if !found || strings.TrimSpace(first) != "---" {
		return fm, doc, nil
	}
	block, body, found := cutDelimiterLine(rest)
	if !found {
		return fm, doc, nil
	}
	if err := yaml.Unmarshal([]byte(block), &fm); err != nil {
		return FrontMatter{}, doc, fmt.Errorf("front matter: %w", err)
	}
	return fm, body, nil
}

// cutDelimiterLine splits s at the first line that is exactly "---".
func cutDelimiterLine(s string) (before, after string, found bool) {
	offset := 0
	for {
		line := s[offset:]
		end := strings.Index(line, "\n")
		if end >= 0 {
			line = line[:end]
		}
		if strings.TrimSpace(line) == "---" {
			if end < 0 {
				return s[:offset], "", true
			}
			return s[:offset], s[offset+end+1:], true
		}
		if end < 0 {
			return "", "", false
		}
		offset += end + 1
	}
}
