package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Item kinds.
const (
	ItemMessage    = "message"
	ItemToolCall   = "tool_call"
	ItemToolResult = "tool_result"
	ItemReasoning  = "reasoning"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Item is one entry in a conversation: a chat message, a tool call emitted
// by the model, the answer to a tool call, or a model-internal reasoning
// trace. Kind selects which fields are meaningful; the rest stay zero.
//
// Arguments and Output are opaque-encoded (raw JSON text). They are decoded
// only at the dispatch boundary, never while items move through the loop.
type Item struct {
	Kind string

	// Transport fields assigned by the service. Stripped before an item is
	// re-sent so the service accepts it as fresh input.
	ID     string
	Status string

	// Kind == ItemMessage
	Role    string
	Content string

	// Kind == ItemToolCall / ItemToolResult. CallID correlates a call with
	// its result and is preserved across replay.
	CallID    string
	Name      string
	Arguments string

	// Kind == ItemToolResult
	Output string
	OK     bool

	// Kind == ItemReasoning
	Text string
}

// TextMessage builds a message item.
func TextMessage(role, content string) Item {
	return Item{Kind: ItemMessage, Role: role, Content: content}
}

// UserMessage builds a user message item.
func UserMessage(content string) Item { return TextMessage(RoleUser, content) }

// SystemMessage builds a system message item.
func SystemMessage(content string) Item { return TextMessage(RoleSystem, content) }

// AssistantMessage builds an assistant message item.
func AssistantMessage(content string) Item { return TextMessage(RoleAssistant, content) }

// NewToolCall builds a tool invocation item.
func NewToolCall(callID, name, arguments string) Item {
	return Item{Kind: ItemToolCall, CallID: callID, Name: name, Arguments: arguments}
}

// NewToolResult builds a tool result item. Output is the opaque-encoded
// payload handed back to the model.
func NewToolResult(callID, output string, ok bool) Item {
	return Item{Kind: ItemToolResult, CallID: callID, Output: output, OK: ok}
}

// NewReasoning builds a reasoning trace item.
func NewReasoning(text string) Item {
	return Item{Kind: ItemReasoning, Text: text}
}

// StripTransport returns a copy with service-assigned fields cleared.
func (it Item) StripTransport() Item {
	it.ID = ""
	it.Status = ""
	return it
}

// IsSystemMessage reports whether the item is a system-role message.
func (it Item) IsSystemMessage() bool {
	return it.Kind == ItemMessage && it.Role == RoleSystem
}

// Preview returns a short single-line description for logs.
func (it Item) Preview(limit int) string {
	var s string
	switch it.Kind {
	case ItemMessage:
		s = fmt.Sprintf("%s: %s", it.Role, it.Content)
	case ItemToolCall:
		s = fmt.Sprintf("call %s %s(%s)", it.CallID, it.Name, it.Arguments)
	case ItemToolResult:
		s = fmt.Sprintf("result %s ok=%v: %s", it.CallID, it.OK, it.Output)
	case ItemReasoning:
		s = "reasoning: " + it.Text
	default:
		s = "unknown item"
	}
	s = strings.ReplaceAll(s, "\n", " ")
	if limit > 0 && len(s) > limit {
		s = s[:limit] + "..."
	}
	return s
}

// wireItem is the JSON shape shared by all item kinds. OK rides as a
// pointer so false survives the round trip for tool results.
type wireItem struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Status    string `json:"status,omitempty"`
	Role      string `json:"role,omitempty"`
	Content   string `json:"content,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Output    string `json:"output,omitempty"`
	OK        *bool  `json:"ok,omitempty"`
	Text      string `json:"text,omitempty"`
}

// MarshalJSON encodes the item with a type discriminator, emitting only the
// fields that belong to its kind.
func (it Item) MarshalJSON() ([]byte, error) {
	w := wireItem{Type: it.Kind, ID: it.ID, Status: it.Status}
	switch it.Kind {
	case ItemMessage:
		w.Role = it.Role
		w.Content = it.Content
	case ItemToolCall:
		w.CallID = it.CallID
		w.Name = it.Name
		w.Arguments = it.Arguments
	case ItemToolResult:
		w.CallID = it.CallID
		w.Output = it.Output
		ok := it.OK
		w.OK = &ok
	case ItemReasoning:
		w.Text = it.Text
	default:
		return nil, fmt.Errorf("marshal item: unknown kind %q", it.Kind)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes an item by its type discriminator. Unknown types
// decode into a zero-kind item the caller can skip.
func (it *Item) UnmarshalJSON(data []byte) error {
	var w wireItem
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*it = Item{Kind: w.Type, ID: w.ID, Status: w.Status}
	switch w.Type {
	case ItemMessage:
		it.Role = w.Role
		it.Content = w.Content
	case ItemToolCall:
		it.CallID = w.CallID
		it.Name = w.Name
		it.Arguments = w.Arguments
	case ItemToolResult:
		it.CallID = w.CallID
		it.Output = w.Output
		if w.OK != nil {
			it.OK = *w.OK
		}
	case ItemReasoning:
		it.Text = w.Text
	}
	return nil
}
