package llm

// Model identifies a completion model and where to reach it.
type Model struct {
	ID       string `json:"id"`       // e.g. "gpt-5.2-codex"
	Provider string `json:"provider"` // e.g. "openai"
	BaseURL  string `json:"baseUrl"`  // e.g. "https://api.openai.com/v1"
}

// Request is one streaming turn sent to the completion service.
//
// Store selects the backend memory mode: true asks the service to retain
// session state so only new items travel; false (stateless) means the full
// replayable history rides in Items every turn. PreviousTurnID continues a
// stored conversation.
type Request struct {
	Model          string    `json:"model"`
	Instructions   string    `json:"instructions,omitempty"`
	Items          []Item    `json:"input"`
	Tools          []ToolDef `json:"tools,omitempty"`
	ToolChoice     string    `json:"tool_choice,omitempty"`
	Reasoning      string    `json:"reasoning,omitempty"`
	Store          bool      `json:"store"`
	PreviousTurnID string    `json:"previous_turn_id,omitempty"`
	Stream         bool      `json:"stream"`
}

// ToolDef describes one callable tool in a request.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Usage is the token accounting the service reports per turn.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Event types emitted while a turn streams. EventError is synthesized
// locally for transport failures; it never appears on the wire.
const (
	EventItemDelta     = "item.delta"
	EventItemDone      = "item.done"
	EventTurnCompleted = "turn.completed"
	EventTurnFailed    = "turn.failed"
	EventError         = "error"
)

// Event is one parsed stream event.
type Event struct {
	Type    string `json:"type"`
	Item    *Item  `json:"item,omitempty"`
	Delta   string `json:"delta,omitempty"`
	TurnID  string `json:"turn_id,omitempty"`
	Status  string `json:"status,omitempty"`
	Usage   *Usage `json:"usage,omitempty"`
	Message string `json:"message,omitempty"`

	// Local transport error; only set when Type == EventError.
	Err error `json:"-"`
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	switch e.Type {
	case EventTurnCompleted, EventTurnFailed, EventError:
		return true
	}
	return false
}

// Turn is the final outcome of one streaming call.
type Turn struct {
	ID     string
	Status string
	Usage  Usage
	Err    error
}

// Turn statuses reported by the service.
const (
	TurnStatusCompleted = "completed"
	TurnStatusFailed    = "failed"
)
