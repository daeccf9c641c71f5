package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// NoteTool is a scratchpad: the model appends findings and reads them
// back later in the run.
type NoteTool struct {
	mu    sync.Mutex
	notes []string
}

func NewNoteTool() *NoteTool { return &NoteTool{} }

func (t *NoteTool) Name() string { return "note" }

func (t *NoteTool) Description() string {
	return "Append a note to the scratchpad or read all notes back."
}

func (t *NoteTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type":        "string",
				"enum":        []string{"add", "read"},
				"description": "add appends a note, read returns all notes",
			},
			"text": map[string]any{
				"type":        "string",
				"description": "Note text, for action=add",
			},
		},
		"required": []string{"action"},
	}
}

func (t *NoteTool) Example() string {
	return `{"action": "add", "text": "the retry logic lives in pkg/agent/retry.go"}`
}

func (t *NoteTool) Family() Family { return FamilyGeneral }

func (t *NoteTool) Execute(_ context.Context, args map[string]any) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch action := optStringArg(args, "action"); action {
	case "add":
		text, err := stringArg(args, "text")
		if err != nil {
			return "", err
		}
		t.notes = append(t.notes, text)
		return fmt.Sprintf("Noted (%d total).", len(t.notes)), nil
	case "read", "":
		if len(t.notes) == 0 {
			return "No notes.", nil
		}
		var b strings.Builder
		for i, n := range t.notes {
			fmt.Fprintf(&b, "%d. %s\n", i+1, n)
		}
		return strings.TrimRight(b.String(), "\n"), nil
	default:
		return "", fmt.Errorf("unknown action %q, expected add or read", action)
	}
}
