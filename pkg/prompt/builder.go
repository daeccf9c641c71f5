// Package prompt assembles the instructions string sent with every turn:
// base identity, workspace facts, the tool inventory, and optional
// per-project instructions.
package prompt

import (
	"fmt"
	"reflect"
	"runtime"
	"strings"
)

// DefaultBase is the identity section used when the config does not
// override it.
const DefaultBase = `You are Quill, a coding agent that works in the user's terminal.
You complete tasks by calling tools and reporting results concisely.
Prefer acting over asking: read files and run commands to find answers.
When you finish, reply with a short summary of what you did.`

// ToolInfo is the slice of a tool the prompt needs.
type ToolInfo interface {
	Name() string
	Description() string
}

// Builder assembles the system instructions from ordered sections.
type Builder struct {
	base    string
	cwd     string
	tools   []ToolInfo
	project *ProjectInstructions
	extra   string
}

// NewBuilder creates a builder with the base identity and working
// directory.
func NewBuilder(base, cwd string) *Builder {
	return &Builder{base: base, cwd: cwd}
}

// SetTools records the tool inventory. Accepts []ToolInfo or any slice
// whose elements implement ToolInfo.
func (b *Builder) SetTools(tools any) *Builder {
	b.tools = convertTools(tools)
	return b
}

func convertTools(tools any) []ToolInfo {
	if tools == nil {
		return nil
	}
	v := reflect.ValueOf(tools)
	if v.Kind() != reflect.Slice {
		return nil
	}
	result := make([]ToolInfo, 0, v.Len())
	for i := 0; i < v.Len(); i++ {
		if tool, ok := v.Index(i).Interface().(ToolInfo); ok {
			result = append(result, tool)
		}
	}
	return result
}

// SetProject attaches parsed project instructions. Nil clears them.
func (b *Builder) SetProject(p *ProjectInstructions) *Builder {
	b.project = p
	return b
}

// SetExtra appends free-form instructions from the user's config.
func (b *Builder) SetExtra(text string) *Builder {
	b.extra = text
	return b
}

// RequiredTools returns the tools the project declares as mandatory for
// its tasks, in declaration order.
func (b *Builder) RequiredTools() []string {
	if b.project == nil {
		return nil
	}
	return b.project.RequiredTools
}

// Build generates the final instructions string.
func (b *Builder) Build() string {
	sections := []string{}

	if b.base != "" {
		sections = append(sections, b.base)
	}
	sections = append(sections, b.workspaceSection())
	if s := b.toolingSection(); s != "" {
		sections = append(sections, s)
	}
	if s := b.projectSection(); s != "" {
		sections = append(sections, s)
	}
	if strings.TrimSpace(b.extra) != "" {
		sections = append(sections, "## Additional Instructions\n"+strings.TrimSpace(b.extra))
	}

	return joinSections(sections)
}

func (b *Builder) workspaceSection() string {
	return fmt.Sprintf(`## Workspace
Working directory: %s
Platform: %s/%s
Treat the working directory as the workspace for file operations unless told otherwise.`,
		b.cwd, runtime.GOOS, runtime.GOARCH)
}

func (b *Builder) toolingSection() string {
	if len(b.tools) == 0 {
		return ""
	}

	lines := []string{
		"## Tooling",
		"You have access to the following tools:",
		"",
	}
	for _, tool := range b.tools {
		lines = append(lines, fmt.Sprintf("- %s: %s", tool.Name(), tool.Description()))
	}
	lines = append(lines, "", "Only use the tools listed above. Do not assume any other tool exists.")
	return strings.Join(lines, "\n")
}

func (b *Builder) projectSection() string {
	if b.project == nil || strings.TrimSpace(b.project.Body) == "" {
		return ""
	}
	title := "## Project Instructions"
	if b.project.Name != "" {
		title += ": " + b.project.Name
	}
	return title + "\n" + strings.TrimSpace(b.project.Body)
}

func joinSections(sections []string) string {
	out := make([]string, 0, len(sections))
	for _, s := range sections {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, "\n\n")
}
