package compact

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/quilldev/quill/pkg/llm"
)

func TestEstimateSavingsIsPure(t *testing.T) {
	items := messages(30, 400)
	snapshot := make([]llm.Item, len(items))
	copy(snapshot, items)

	engine := New("test-model", 4300, &fakeSummarizer{text: "never called"})

	first := engine.EstimateSavings(items, LevelLight)
	second := engine.EstimateSavings(items, LevelLight)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("repeated estimates differ (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(snapshot, items); diff != "" {
		t.Fatalf("estimation mutated its input (-before +after):\n%s", diff)
	}
}

func TestEstimateSavingsAssumedSummarySizes(t *testing.T) {
	items := messages(30, 400)
	engine := New("test-model", 4300, &fakeSummarizer{text: "never called"})

	light := engine.EstimateSavings(items, LevelLight)
	if light.SummaryTokens != assumedSummaryTokensNormal {
		t.Errorf("light assumed summary = %d, want %d", light.SummaryTokens, assumedSummaryTokensNormal)
	}

	heavy := engine.EstimateSavings(items, LevelHeavy)
	if heavy.SummaryTokens != assumedSummaryTokensAggressive {
		t.Errorf("heavy assumed summary = %d, want %d", heavy.SummaryTokens, assumedSummaryTokensAggressive)
	}

	if heavy.Saved <= light.Saved {
		t.Errorf("heavy should save more than light: heavy %d light %d", heavy.Saved, light.Saved)
	}
}

func TestEstimateSavingsNothingToSummarize(t *testing.T) {
	items := messages(3, 40)
	engine := New("test-model", 100000, &fakeSummarizer{text: "never called"})

	got := engine.EstimateSavings(items, LevelLight)
	if got.SummaryTokens != 0 {
		t.Errorf("no summarized items must assume no summary, got %d tokens", got.SummaryTokens)
	}
	if got.Saved != 0 {
		t.Errorf("nothing partitioned out, saved = %d", got.Saved)
	}
	if got.TokensAfter != got.TokensBefore {
		t.Errorf("tokens changed without a partition: %d -> %d", got.TokensBefore, got.TokensAfter)
	}
}
