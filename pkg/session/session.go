// Package session persists conversations as append-only JSONL files, one
// file per session. The first line is the session header; every line
// after it is a delivered conversation item or a compaction marker.
// Loading a file replays it into the item history a resumed run starts
// from.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/quilldev/quill/pkg/llm"
	"github.com/quilldev/quill/pkg/transcript"
)

// Session is one conversation backed by an append-only JSONL file. A
// session created with an empty directory keeps everything in memory.
type Session struct {
	mu      sync.Mutex
	path    string
	header  Header
	entries []*Entry
	byID    map[string]*Entry
	leaf    *string
	persist bool
	flushed bool
}

// New creates a session persisted under dir as <id>.jsonl. An empty dir
// creates an in-memory session.
func New(dir, model string) *Session {
	id := uuid.NewString()
	cwd, _ := os.Getwd()
	s := &Session{
		byID:    make(map[string]*Entry),
		header:  newHeader(id, cwd, model),
		persist: dir != "",
	}
	if dir != "" {
		s.path = filepath.Join(dir, id+".jsonl")
	}
	return s
}

// Load reads a session file. Undecodable trailing lines are skipped so a
// file torn by a crash still loads.
func Load(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	s := &Session{
		path:    path,
		byID:    make(map[string]*Entry),
		persist: true,
		flushed: true,
	}

	var header *Header
	for _, line := range splitLines(data) {
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		if header == nil {
			h, err := decodeHeader(line)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			header = h
			continue
		}
		entry, err := decodeEntry(line)
		if err != nil || entry == nil {
			continue
		}
		s.addEntry(entry)
	}
	if header == nil {
		return nil, fmt.Errorf("%s: empty session file", path)
	}
	s.header = *header
	return s, nil
}

// Open loads the session stored as <id>.jsonl under dir.
func Open(dir, id string) (*Session, error) {
	return Load(filepath.Join(dir, id+".jsonl"))
}

// DefaultDir returns the default sessions directory, ~/.quill/sessions.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".quill", "sessions"), nil
}

// ID returns the session's identifier.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.header.ID
}

// Path returns the backing file path, empty for in-memory sessions.
func (s *Session) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Header returns a copy of the session header.
func (s *Session) Header() Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.header
}

// Len returns the number of recorded entries, the header excluded.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Entries returns a copy of the recorded entries in order.
func (s *Session) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	return out
}

// Replay rebuilds the conversation items a resumed run starts from,
// honoring the latest compaction marker.
func (s *Session) Replay() []llm.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return replayItems(s.entries)
}

// AppendItem records one conversation item and persists it.
func (s *Session) AppendItem(it llm.Item) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := &Entry{
		Type:      EntryTypeItem,
		ID:        newEntryID(s.byID),
		ParentID:  s.leaf,
		Timestamp: now(),
		Item:      &it,
	}
	s.addEntry(entry)
	return entry.ID, s.persistEntry(entry)
}

// RecordCompaction appends a compaction marker. keptTail is how many of
// the newest conversation items survived the rewrite; the marker points
// at the first of them so replay can start there.
func (s *Session) RecordCompaction(summary string, keptTail, tokensBefore, tokensAfter int, level string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	firstKept := ""
	remaining := keptTail
	for i := len(s.entries) - 1; i >= 0 && remaining > 0; i-- {
		e := s.entries[i]
		if e.Type != EntryTypeItem || e.Item == nil || !transcript.Retainable(*e.Item) {
			continue
		}
		firstKept = e.ID
		remaining--
	}

	entry := &Entry{
		Type:          EntryTypeCompaction,
		ID:            newEntryID(s.byID),
		ParentID:      s.leaf,
		Timestamp:     now(),
		Summary:       summary,
		FirstKeptItem: firstKept,
		TokensBefore:  tokensBefore,
		TokensAfter:   tokensAfter,
		Level:         level,
	}
	s.addEntry(entry)
	return entry.ID, s.persistEntry(entry)
}

func (s *Session) addEntry(e *Entry) {
	s.entries = append(s.entries, e)
	s.byID[e.ID] = e
	s.leaf = &e.ID
}

func (s *Session) persistEntry(e *Entry) error {
	if !s.persist || s.path == "" {
		return nil
	}
	return s.withFileLock(func() error {
		return s.persistEntryLocked(e)
	})
}

// persistEntryLocked appends one encoded entry and syncs. A file that was
// never written, or was emptied behind our back, is rebuilt in full.
func (s *Session) persistEntryLocked(e *Entry) error {
	if !s.flushed {
		return s.rewriteFileLocked()
	}
	if info, err := os.Stat(s.path); err != nil || info.Size() == 0 {
		return s.rewriteFileLocked()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	file, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err := file.Write(data); err != nil {
		return err
	}
	return file.Sync()
}

// rewriteFileLocked writes the header and every entry to a temp file and
// renames it into place, so readers never see a half-written session.
func (s *Session) rewriteFileLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	tmp := fmt.Sprintf("%s.tmp-%d-%d", s.path, os.Getpid(), time.Now().UnixNano())
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		file.Close()
		os.Remove(tmp)
	}()

	enc := json.NewEncoder(file)
	if err := enc.Encode(s.header); err != nil {
		return err
	}
	for _, e := range s.entries {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	if err := file.Sync(); err != nil {
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	s.flushed = true
	return nil
}

// withFileLock serializes writers across processes with an flock on a
// sidecar lock file.
func (s *Session) withFileLock(run func() error) error {
	lockPath := s.path + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return err
	}
	lock, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return err
	}
	defer lock.Close()

	if err := syscall.Flock(int(lock.Fd()), syscall.LOCK_EX); err != nil {
		return err
	}
	defer syscall.Flock(int(lock.Fd()), syscall.LOCK_UN)
	return run()
}

func newEntryID(existing map[string]*Entry) string {
	for i := 0; i < 100; i++ {
		candidate := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		if _, ok := existing[candidate]; !ok {
			return candidate
		}
	}
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func splitLines(data []byte) [][]byte {
	lines := make([][]byte, 0)
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}
