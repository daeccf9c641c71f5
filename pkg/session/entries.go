package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/quilldev/quill/pkg/llm"
)

// CurrentVersion is written into every new session header.
const CurrentVersion = 1

// Line types in a session file.
const (
	EntryTypeSession    = "session"
	EntryTypeItem       = "item"
	EntryTypeCompaction = "compaction"
)

// Header is the first line of a session file.
type Header struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	ID        string `json:"id"`
	Cwd       string `json:"cwd"`
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
}

func newHeader(id, cwd, model string) Header {
	return Header{
		Type:      EntryTypeSession,
		Version:   CurrentVersion,
		ID:        id,
		Cwd:       cwd,
		Model:     model,
		CreatedAt: now(),
	}
}

// Entry is one line after the header: a delivered conversation item or a
// compaction marker.
type Entry struct {
	Type      string  `json:"type"`
	ID        string  `json:"id"`
	ParentID  *string `json:"parent_id,omitempty"`
	Timestamp string  `json:"ts"`

	// Type == EntryTypeItem
	Item *llm.Item `json:"item,omitempty"`

	// Type == EntryTypeCompaction
	Summary       string `json:"summary,omitempty"`
	FirstKeptItem string `json:"first_kept_item,omitempty"`
	TokensBefore  int    `json:"tokens_before,omitempty"`
	TokensAfter   int    `json:"tokens_after,omitempty"`
	Level         string `json:"level,omitempty"`
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func decodeHeader(line []byte) (*Header, error) {
	var h Header
	if err := json.Unmarshal(line, &h); err != nil {
		return nil, err
	}
	if h.Type != EntryTypeSession || h.ID == "" {
		return nil, errors.New("not a session header")
	}
	return &h, nil
}

// decodeEntry parses one non-header line. Duplicate header lines decode
// to nil so loaders can skip them.
func decodeEntry(line []byte) (*Entry, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return nil, err
	}
	switch probe.Type {
	case EntryTypeSession:
		return nil, nil
	case "":
		return nil, errors.New("missing type")
	}

	var e Entry
	if err := json.Unmarshal(line, &e); err != nil {
		return nil, err
	}
	if e.ID == "" {
		return nil, errors.New("missing entry id")
	}
	return &e, nil
}

// summaryItem reconstructs the synthetic assistant message a compaction
// marker stands for.
func summaryItem(level, summary string) llm.Item {
	return llm.AssistantMessage(fmt.Sprintf("[Conversation summary, compaction %s]\n\n%s", level, summary))
}

// replayItems rebuilds the conversation a resumed run starts from:
// everything when no compaction happened, otherwise the latest marker's
// summary followed by the items it kept and everything recorded after it.
func replayItems(entries []*Entry) []llm.Item {
	compactionIdx := -1
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Type == EntryTypeCompaction {
			compactionIdx = i
			break
		}
	}

	var items []llm.Item
	appendItem := func(e *Entry) {
		if e.Type == EntryTypeItem && e.Item != nil {
			items = append(items, *e.Item)
		}
	}

	if compactionIdx < 0 {
		for _, e := range entries {
			appendItem(e)
		}
		return items
	}

	marker := entries[compactionIdx]
	if marker.Summary != "" {
		items = append(items, summaryItem(marker.Level, marker.Summary))
	}
	if marker.FirstKeptItem != "" {
		found := false
		for i := 0; i < compactionIdx; i++ {
			if entries[i].ID == marker.FirstKeptItem {
				found = true
			}
			if found {
				appendItem(entries[i])
			}
		}
	}
	for i := compactionIdx + 1; i < len(entries); i++ {
		appendItem(entries[i])
	}
	return items
}
