package tools

import (
	"context"
	"fmt"

	"github.com/quilldev/quill/pkg/llm"
)

// Family groups tools that share an output budget. The dispatcher caps
// result size per family, not per tool.
type Family string

const (
	FamilyShell   Family = "shell"
	FamilyFetch   Family = "fetch"
	FamilySearch  Family = "search"
	FamilyGeneral Family = "general"
)

// Tool is one callable capability exposed to the model.
type Tool interface {
	// Name returns the tool name as advertised in requests.
	Name() string

	// Description returns a description of what the tool does.
	Description() string

	// Parameters returns the JSON Schema for the tool parameters.
	Parameters() map[string]any

	// Example returns a literal arguments payload that would be accepted.
	Example() string

	// Family returns the output-budget family this tool belongs to.
	Family() Family

	// Execute runs the tool with already-decoded arguments. A non-nil
	// error marks the invocation failed; tools that run an external
	// process report that process's failure in the output instead.
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// Registry holds tools in registration order.
type Registry struct {
	order []string
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Re-registering a name replaces the tool but keeps
// its original position.
func (r *Registry) Register(t Tool) {
	if _, seen := r.tools[t.Name()]; !seen {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// All returns the registered tools in registration order.
func (r *Registry) All() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Defs renders the registry as request tool definitions.
func (r *Registry) Defs() []llm.ToolDef {
	defs := make([]llm.ToolDef, 0, len(r.order))
	for _, t := range r.All() {
		defs = append(defs, llm.ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// DefaultRegistry builds the standard tool set rooted at cwd.
func DefaultRegistry(cwd string) *Registry {
	r := NewRegistry()
	r.Register(NewBashTool(cwd))
	r.Register(NewReadFileTool(cwd))
	r.Register(NewWriteFileTool(cwd))
	r.Register(NewEditFileTool(cwd))
	r.Register(NewGrepTool(cwd))
	r.Register(NewSearchTool(cwd))
	r.Register(NewFetchTool(nil))
	r.Register(NewTodoTool())
	r.Register(NewNoteTool())
	return r
}

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("%s must be a non-empty string", key)
	}
	return v, nil
}

func optStringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}
