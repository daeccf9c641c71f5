package agent

import (
	"sort"
	"sync"
	"time"

	"github.com/quilldev/quill/pkg/compact"
	"github.com/quilldev/quill/pkg/llm"
)

// ToolStat aggregates the dispatches of one tool.
type ToolStat struct {
	Name      string        `json:"name"`
	Calls     int64         `json:"calls"`
	Errors    int64         `json:"errors"`
	TotalTime time.Duration `json:"total_time_ns"`
}

// MetricsSnapshot is a point-in-time copy of the counters, safe to
// marshal or print while runs continue.
type MetricsSnapshot struct {
	RunsStarted      int64            `json:"runs_started"`
	RunsCompleted    int64            `json:"runs_completed"`
	RunsCancelled    int64            `json:"runs_cancelled"`
	RunsFailed       int64            `json:"runs_failed"`
	TurnsStarted     int64            `json:"turns_started"`
	TurnsCompleted   int64            `json:"turns_completed"`
	RetriesTransient int64            `json:"retries_transient"`
	RetriesRateLimit int64            `json:"retries_rate_limit"`
	InputTokens      int64            `json:"input_tokens"`
	OutputTokens     int64            `json:"output_tokens"`
	Compactions      map[string]int64 `json:"compactions,omitempty"`
	Tools            []ToolStat       `json:"tools,omitempty"`
}

// Metrics counts runner activity. All methods are safe for concurrent
// use and are no-ops on a nil receiver.
type Metrics struct {
	mu               sync.RWMutex
	runsStarted      int64
	runsCompleted    int64
	runsCancelled    int64
	runsFailed       int64
	turnsStarted     int64
	turnsCompleted   int64
	retriesTransient int64
	retriesRateLimit int64
	inputTokens      int64
	outputTokens     int64
	compactions      map[string]int64
	tools            map[string]*ToolStat
}

func NewMetrics() *Metrics {
	return &Metrics{
		compactions: make(map[string]int64),
		tools:       make(map[string]*ToolStat),
	}
}

func (m *Metrics) RecordRunStart() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runsStarted++
}

func (m *Metrics) RecordRunEnd(state State) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	switch state {
	case StateCompleted:
		m.runsCompleted++
	case StateCancelled:
		m.runsCancelled++
	default:
		m.runsFailed++
	}
}

func (m *Metrics) RecordTurnStart() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turnsStarted++
}

func (m *Metrics) RecordTurnCompleted(u llm.Usage) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turnsCompleted++
	m.inputTokens += int64(u.InputTokens)
	m.outputTokens += int64(u.OutputTokens)
}

func (m *Metrics) RecordRetry(kind string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if kind == RetryRateLimit {
		m.retriesRateLimit++
	} else {
		m.retriesTransient++
	}
}

func (m *Metrics) RecordToolDispatch(name string, d time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.tools[name]
	if st == nil {
		st = &ToolStat{Name: name}
		m.tools[name] = st
	}
	st.Calls++
	if failed {
		st.Errors++
	}
	st.TotalTime += d
}

func (m *Metrics) RecordCompaction(level compact.Level) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compactions[level.String()]++
}

// Snapshot copies the counters. Tools are sorted by name so output is
// stable.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := MetricsSnapshot{
		RunsStarted:      m.runsStarted,
		RunsCompleted:    m.runsCompleted,
		RunsCancelled:    m.runsCancelled,
		RunsFailed:       m.runsFailed,
		TurnsStarted:     m.turnsStarted,
		TurnsCompleted:   m.turnsCompleted,
		RetriesTransient: m.retriesTransient,
		RetriesRateLimit: m.retriesRateLimit,
		InputTokens:      m.inputTokens,
		OutputTokens:     m.outputTokens,
	}
	if len(m.compactions) > 0 {
		snap.Compactions = make(map[string]int64, len(m.compactions))
		for k, v := range m.compactions {
			snap.Compactions[k] = v
		}
	}
	for _, st := range m.tools {
		snap.Tools = append(snap.Tools, *st)
	}
	sort.Slice(snap.Tools, func(i, j int) bool { return snap.Tools[i].Name < snap.Tools[j].Name })
	return snap
}
