package agent

import (
	"testing"
	"time"

	"github.com/quilldev/quill/pkg/compact"
	"github.com/quilldev/quill/pkg/llm"
)

func TestMetricsCountsRuns(t *testing.T) {
	m := NewMetrics()
	m.RecordRunStart()
	m.RecordRunEnd(StateCompleted)
	m.RecordRunStart()
	m.RecordRunEnd(StateCancelled)
	m.RecordRunStart()
	m.RecordRunEnd(StateFatal)

	snap := m.Snapshot()
	if snap.RunsStarted != 3 {
		t.Errorf("RunsStarted = %d, want 3", snap.RunsStarted)
	}
	if snap.RunsCompleted != 1 || snap.RunsCancelled != 1 || snap.RunsFailed != 1 {
		t.Errorf("run outcomes = %d/%d/%d, want 1/1/1",
			snap.RunsCompleted, snap.RunsCancelled, snap.RunsFailed)
	}
}

func TestMetricsAccumulatesTokens(t *testing.T) {
	m := NewMetrics()
	m.RecordTurnStart()
	m.RecordTurnCompleted(llm.Usage{InputTokens: 100, OutputTokens: 20})
	m.RecordTurnStart()
	m.RecordTurnCompleted(llm.Usage{InputTokens: 150, OutputTokens: 30})

	snap := m.Snapshot()
	if snap.TurnsStarted != 2 || snap.TurnsCompleted != 2 {
		t.Errorf("turns = %d/%d, want 2/2", snap.TurnsStarted, snap.TurnsCompleted)
	}
	if snap.InputTokens != 250 {
		t.Errorf("InputTokens = %d, want 250", snap.InputTokens)
	}
	if snap.OutputTokens != 50 {
		t.Errorf("OutputTokens = %d, want 50", snap.OutputTokens)
	}
}

func TestMetricsRetriesByKind(t *testing.T) {
	m := NewMetrics()
	m.RecordRetry(RetryTransient)
	m.RecordRetry(RetryRateLimit)
	m.RecordRetry(RetryRateLimit)

	snap := m.Snapshot()
	if snap.RetriesTransient != 1 {
		t.Errorf("RetriesTransient = %d, want 1", snap.RetriesTransient)
	}
	if snap.RetriesRateLimit != 2 {
		t.Errorf("RetriesRateLimit = %d, want 2", snap.RetriesRateLimit)
	}
}

func TestMetricsToolStatsSorted(t *testing.T) {
	m := NewMetrics()
	m.RecordToolDispatch("grep", 2*time.Millisecond, false)
	m.RecordToolDispatch("bash", 5*time.Millisecond, false)
	m.RecordToolDispatch("bash", 3*time.Millisecond, true)

	snap := m.Snapshot()
	if len(snap.Tools) != 2 {
		t.Fatalf("len(Tools) = %d, want 2", len(snap.Tools))
	}
	if snap.Tools[0].Name != "bash" || snap.Tools[1].Name != "grep" {
		t.Errorf("tool order = %s, %s; want bash, grep", snap.Tools[0].Name, snap.Tools[1].Name)
	}
	bash := snap.Tools[0]
	if bash.Calls != 2 || bash.Errors != 1 {
		t.Errorf("bash calls/errors = %d/%d, want 2/1", bash.Calls, bash.Errors)
	}
	if bash.TotalTime != 8*time.Millisecond {
		t.Errorf("bash total time = %v, want 8ms", bash.TotalTime)
	}
}

func TestMetricsCompactionsByLevel(t *testing.T) {
	m := NewMetrics()
	m.RecordCompaction(compact.LevelLight)
	m.RecordCompaction(compact.LevelLight)
	m.RecordCompaction(compact.LevelHeavy)

	snap := m.Snapshot()
	if snap.Compactions["light"] != 2 {
		t.Errorf("Compactions[light] = %d, want 2", snap.Compactions["light"])
	}
	if snap.Compactions["heavy"] != 1 {
		t.Errorf("Compactions[heavy] = %d, want 1", snap.Compactions["heavy"])
	}
}

func TestMetricsNilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordRunStart()
	m.RecordRunEnd(StateCompleted)
	m.RecordTurnStart()
	m.RecordTurnCompleted(llm.Usage{})
	m.RecordRetry(RetryTransient)
	m.RecordToolDispatch("bash", time.Millisecond, false)
	m.RecordCompaction(compact.LevelLight)

	if snap := m.Snapshot(); snap.RunsStarted != 0 {
		t.Errorf("nil snapshot RunsStarted = %d, want 0", snap.RunsStarted)
	}
}
