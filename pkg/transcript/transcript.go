// Package transcript keeps the locally retained conversation history used
// when the completion backend holds no session state. Every turn's request
// replays this history in full, so what goes in here defines what the
// model remembers.
package transcript

import (
	"github.com/quilldev/quill/pkg/llm"
)

// Manager owns the ordered item history for one agent instance. Append is
// the only incremental mutator; items are never edited in place once
// retained. System messages and reasoning traces are filtered at the
// boundary: the model does not need to see injected system reminders or
// its own prior reasoning again.
type Manager struct {
	items []llm.Item
}

// New creates an empty transcript.
func New() *Manager {
	return &Manager{}
}

// NewWithItems creates a transcript seeded from a persisted session. The
// seed passes through the same filter as Append.
func NewWithItems(items []llm.Item) *Manager {
	m := New()
	m.Append(items...)
	return m
}

// Retainable reports whether an item belongs in the transcript.
func Retainable(it llm.Item) bool {
	switch it.Kind {
	case llm.ItemReasoning:
		return false
	case llm.ItemMessage:
		return it.Role != llm.RoleSystem
	}
	return true
}

// Append filters and retains items in order.
func (m *Manager) Append(items ...llm.Item) {
	for _, it := range items {
		if Retainable(it) {
			m.items = append(m.items, it)
		}
	}
}

// Len returns the number of retained items.
func (m *Manager) Len() int {
	return len(m.items)
}

// Items returns a copy of the retained history as stored.
func (m *Manager) Items() []llm.Item {
	out := make([]llm.Item, len(m.items))
	copy(out, m.items)
	return out
}

// Replayable returns the retained history with transport-only fields
// stripped, so the service accepts the items as fresh input.
func (m *Manager) Replayable() []llm.Item {
	out := make([]llm.Item, len(m.items))
	for i, it := range m.items {
		out[i] = it.StripTransport()
	}
	return out
}

// Rewrite replaces the retained history wholesale. Only the compaction
// path uses this; the replacement passes through the retention filter so
// the no-system/no-reasoning invariant survives.
func (m *Manager) Rewrite(items []llm.Item) {
	m.items = m.items[:0]
	m.Append(items...)
}

// Clear drops the retained history.
func (m *Manager) Clear() {
	m.items = nil
}
