package agent

import (
	"fmt"
	"strings"
	"sync"

	"github.com/quilldev/quill/pkg/llm"
)

// Enforcement tracks which tools a task declares as required and which
// have actually been dispatched. It is advisory: an unmet requirement
// produces a reminder message for the model, never a hard block.
type Enforcement struct {
	mu       sync.Mutex
	required []string
	used     map[string]int
	reminded bool
}

func NewEnforcement(required ...string) *Enforcement {
	e := &Enforcement{used: make(map[string]int)}
	e.Require(required...)
	return e
}

// Require adds tool names to the required set. Duplicates and empty
// names are ignored; registration order is preserved.
func (e *Enforcement) Require(names ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, name := range names {
		if name == "" || e.isRequiredLocked(name) {
			continue
		}
		e.required = append(e.required, name)
	}
}

func (e *Enforcement) isRequiredLocked(name string) bool {
	for _, r := range e.required {
		if r == name {
			return true
		}
	}
	return false
}

// Record notes one dispatch of name, successful or not.
func (e *Enforcement) Record(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.used[name]++
}

// Count returns how many times name has been dispatched this run.
func (e *Enforcement) Count(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.used[name]
}

// Unmet lists required tools that have not been dispatched yet, in
// registration order.
func (e *Enforcement) Unmet() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unmetLocked()
}

func (e *Enforcement) unmetLocked() []string {
	var out []string
	for _, name := range e.required {
		if e.used[name] == 0 {
			out = append(out, name)
		}
	}
	return out
}

// ResetRun clears usage counts and the reminder flag while keeping the
// required set. Called at the start of every run.
func (e *Enforcement) ResetRun() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.used = make(map[string]int)
	e.reminded = false
}

// Reminder returns a system message naming the unmet requirements. It
// fires at most once per run so an ignoring model is nudged, not nagged.
func (e *Enforcement) Reminder() (llm.Item, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.reminded {
		return llm.Item{}, false
	}
	unmet := e.unmetLocked()
	if len(unmet) == 0 {
		return llm.Item{}, false
	}
	e.reminded = true
	text := fmt.Sprintf("Reminder: this task requires using the following tool(s) before finishing: %s.",
		strings.Join(unmet, ", "))
	return llm.SystemMessage(text), true
}
