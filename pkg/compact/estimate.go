package compact

import "github.com/quilldev/quill/pkg/llm"

// Assumed summary sizes for estimation, in tokens. The aggressive
// register is hard-capped at a few sentences; the thorough one runs
// longer.
const (
	assumedSummaryTokensAggressive = 200
	assumedSummaryTokensNormal     = 500
)

// Savings is a preview of what compacting at a level would achieve,
// computed without calling the summarizer.
type Savings struct {
	Level         Level
	TokensBefore  int
	TokensAfter   int // estimated: kept items plus an assumed summary
	Saved         int
	SummaryTokens int // the assumed summary size used
	Partition     Partition
}

// EstimateSavings runs the same partitioning as a real pass and adds a
// fixed assumed summary size to the kept-item count. It never calls the
// summarizer and never mutates items.
func (e *Engine) EstimateSavings(items []llm.Item, level Level) Savings {
	part := PartitionItems(items, level)

	before := e.estimator.Count(items)
	after := e.estimator.Count(part.Kept)

	summaryTokens := 0
	if len(part.Summarized) > 0 {
		if ConfigFor(level).AggressiveSummary {
			summaryTokens = assumedSummaryTokensAggressive
		} else {
			summaryTokens = assumedSummaryTokensNormal
		}
		after += summaryTokens
	}

	saved := before - after
	if saved < 0 {
		saved = 0
	}

	return Savings{
		Level:         level,
		TokensBefore:  before,
		TokensAfter:   after,
		Saved:         saved,
		SummaryTokens: summaryTokens,
		Partition:     part,
	}
}
