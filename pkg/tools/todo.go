package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// TodoItem is one entry in the task list.
type TodoItem struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// TodoTool keeps an in-memory task list the model manages across turns.
type TodoTool struct {
	mu    sync.Mutex
	items []TodoItem
}

func NewTodoTool() *TodoTool { return &TodoTool{} }

func (t *TodoTool) Name() string { return "todo" }

func (t *TodoTool) Description() string {
	return "Manage the task list for the current run: set replaces the list, check marks an item done, list shows it."
}

func (t *TodoTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type":        "string",
				"enum":        []string{"set", "check", "list"},
				"description": "What to do with the list",
			},
			"items": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Task texts, for action=set",
			},
			"index": map[string]any{
				"type":        "number",
				"description": "1-based item number to mark done, for action=check",
			},
		},
		"required": []string{"action"},
	}
}

func (t *TodoTool) Example() string {
	return `{"action": "set", "items": ["read the failing test", "fix the parser"]}`
}

func (t *TodoTool) Family() Family { return FamilyGeneral }

func (t *TodoTool) Execute(_ context.Context, args map[string]any) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	action := optStringArg(args, "action")
	switch action {
	case "set":
		raw, ok := args["items"].([]any)
		if !ok {
			return "", fmt.Errorf("items must be an array of strings for action=set")
		}
		items := make([]TodoItem, 0, len(raw))
		for i, v := range raw {
			text, ok := v.(string)
			if !ok || text == "" {
				return "", fmt.Errorf("items[%d] must be a non-empty string", i)
			}
			items = append(items, TodoItem{Text: text})
		}
		t.items = items
	case "check":
		idx, ok := args["index"].(float64)
		if !ok {
			return "", fmt.Errorf("index must be a number for action=check")
		}
		i := int(idx) - 1
		if i < 0 || i >= len(t.items) {
			return "", fmt.Errorf("index %d out of range, list has %d items", int(idx), len(t.items))
		}
		t.items[i].Done = true
	case "list", "":
	default:
		return "", fmt.Errorf("unknown action %q, expected set, check, or list", action)
	}

	return t.renderLocked(), nil
}

// Items returns a copy of the current list.
func (t *TodoTool) Items() []TodoItem {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TodoItem, len(t.items))
	copy(out, t.items)
	return out
}

func (t *TodoTool) renderLocked() string {
	if len(t.items) == 0 {
		return "No todos."
	}
	var b strings.Builder
	for _, it := range t.items {
		mark := " "
		if it.Done {
			mark = "x"
		}
		fmt.Fprintf(&b, "- [%s] %s\n", mark, it.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}
