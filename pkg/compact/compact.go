// Package compact shrinks a conversation that is approaching its model's
// context window. Severity scales with usage: light compaction keeps a
// generous recent window and summarizes the rest, critical compaction
// keeps almost nothing. The engine is pure bookkeeping plus one external
// summarization call; when that call fails the engine degrades to plain
// truncation instead of failing the run.
package compact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quilldev/quill/pkg/llm"
	"github.com/quilldev/quill/pkg/tokens"
)

// ErrNothingToCompact is returned by CompactAtLevel when the recipe
// changes nothing, e.g. the conversation is already short enough.
var ErrNothingToCompact = errors.New("nothing to compact")

// Summarizer produces one textual summary of a span of conversation
// items. aggressive selects the terse register used at higher levels.
type Summarizer interface {
	Summarize(ctx context.Context, items []llm.Item, aggressive bool) (string, error)
}

// Engine applies progressive compaction for one model.
type Engine struct {
	model      string
	window     int
	estimator  tokens.Estimator
	summarizer Summarizer
}

// New creates an engine. contextWindow is the model's token budget;
// summarizer may be nil, in which case every pass degrades to truncation.
func New(model string, contextWindow int, summarizer Summarizer) *Engine {
	return &Engine{
		model:      model,
		window:     contextWindow,
		estimator:  tokens.ForModel(model),
		summarizer: summarizer,
	}
}

// Stats reports estimated usage for items against the engine's window.
func (e *Engine) Stats(items []llm.Item) tokens.Stats {
	return e.estimator.Stats(items, e.window)
}

// ShouldCompact reports the level the current usage calls for.
func (e *Engine) ShouldCompact(items []llm.Item) (Level, bool) {
	level := SelectLevel(e.Stats(items).PercentUsed)
	return level, level > LevelNone
}

// Result is the outcome of one Compact call, possibly covering several
// recursive passes.
type Result struct {
	Items         []llm.Item
	Applied       bool
	Level         Level // highest level applied
	Passes        int
	Summary       string // last generated summary text, empty when degraded
	Summarized    int    // message items folded into summaries
	DroppedTools  int
	DroppedSystem int
	TokensBefore  int
	TokensAfter   int
	Degraded      bool // summarizer failed at least once; truncation used
}

// Compact selects a level from current usage and applies it, then
// re-applies at the next level up while usage stays above 90% and the
// level has room to grow. The strictly increasing level bounds the
// recursion at Critical.
func (e *Engine) Compact(ctx context.Context, items []llm.Item) (Result, error) {
	before := e.estimator.Count(items)
	res := Result{Items: items, TokensBefore: before, TokensAfter: before}

	level := SelectLevel(tokens.StatsForCount(before, e.window).PercentUsed)
	if level == LevelNone {
		return res, nil
	}

	cur := items
	for {
		pass := e.compactOnce(ctx, cur, level)
		cur = pass.items
		res.Applied = true
		res.Level = level
		res.Passes++
		res.Summary = pass.summary
		res.Summarized += pass.summarized
		res.DroppedTools += pass.droppedTools
		res.DroppedSystem += pass.droppedSystem
		res.Degraded = res.Degraded || pass.degraded

		res.TokensAfter = e.estimator.Count(cur)
		percent := tokens.StatsForCount(res.TokensAfter, e.window).PercentUsed
		if percent <= 90 || level >= LevelCritical {
			break
		}
		level++
	}

	res.Items = cur
	slog.Info("compaction applied",
		"level", res.Level.String(),
		"passes", res.Passes,
		"tokensBefore", res.TokensBefore,
		"tokensAfter", res.TokensAfter,
		"summarized", res.Summarized,
		"degraded", res.Degraded)
	return res, nil
}

// CompactAtLevel applies exactly one pass at the given level, without
// threshold checks or recursion. Used by the forced compaction path.
func (e *Engine) CompactAtLevel(ctx context.Context, items []llm.Item, level Level) (Result, error) {
	before := e.estimator.Count(items)
	res := Result{Items: items, TokensBefore: before, TokensAfter: before}
	if level == LevelNone {
		return res, ErrNothingToCompact
	}

	part := PartitionItems(items, level)
	if len(part.Summarized) == 0 && len(part.DroppedToolItems) == 0 && len(part.DroppedSystem) == 0 {
		return res, ErrNothingToCompact
	}

	pass := e.compactOnce(ctx, items, level)
	res.Items = pass.items
	res.Applied = true
	res.Level = level
	res.Passes = 1
	res.Summary = pass.summary
	res.Summarized = pass.summarized
	res.DroppedTools = pass.droppedTools
	res.DroppedSystem = pass.droppedSystem
	res.Degraded = pass.degraded
	res.TokensAfter = e.estimator.Count(res.Items)
	return res, nil
}

type passResult struct {
	items         []llm.Item
	summary       string
	summarized    int
	droppedTools  int
	droppedSystem int
	degraded      bool
}

// compactOnce applies one level's recipe to items. It never fails: a
// summarizer error degrades the pass to plain truncation.
func (e *Engine) compactOnce(ctx context.Context, items []llm.Item, level Level) passResult {
	cfg := ConfigFor(level)
	part := PartitionItems(items, level)

	out := passResult{
		summarized:    len(part.Summarized),
		droppedTools:  len(part.DroppedToolItems),
		droppedSystem: len(part.DroppedSystem),
	}

	if len(part.Summarized) == 0 {
		out.items = part.Kept
		return out
	}

	summary := ""
	if e.summarizer != nil {
		text, err := e.summarizer.Summarize(ctx, part.Summarized, cfg.AggressiveSummary)
		if err != nil || strings.TrimSpace(text) == "" {
			slog.Warn("summarizer failed, falling back to truncation", "level", level.String(), "error", err)
			out.degraded = true
		} else {
			summary = strings.TrimSpace(text)
		}
	} else {
		out.degraded = true
	}

	if summary == "" {
		out.items = part.Kept
		return out
	}

	withSummary := make([]llm.Item, 0, len(part.Kept)+1)
	withSummary = append(withSummary, summaryMessage(level, summary, out.summarized, out.droppedTools, out.droppedSystem))
	withSummary = append(withSummary, part.Kept...)

	// The whole point is shrinking; if the summary somehow costs more
	// than what it replaced, truncation wins.
	if e.estimator.Count(withSummary) > e.estimator.Count(items) {
		out.degraded = true
		out.items = part.Kept
		return out
	}

	out.summary = summary
	out.items = withSummary
	return out
}

// summaryMessage builds the single synthetic assistant message that
// replaces the summarized span.
func summaryMessage(level Level, summary string, summarized, droppedTools, droppedSystem int) llm.Item {
	var dropped []string
	dropped = append(dropped, fmt.Sprintf("%d older messages summarized", summarized))
	if droppedTools > 0 {
		dropped = append(dropped, fmt.Sprintf("%d tool items dropped", droppedTools))
	}
	if droppedSystem > 0 {
		dropped = append(dropped, fmt.Sprintf("%d system messages dropped", droppedSystem))
	}

	content := fmt.Sprintf("[Conversation summary, compaction %s]\n\n%s\n\n[%s]",
		level.String(), summary, strings.Join(dropped, "; "))
	return llm.AssistantMessage(content)
}

// Partition is the deterministic split of a conversation under one
// level's recipe. Building it consumes nothing: the same input and level
// always produce the same partition.
type Partition struct {
	// Kept survives verbatim, original order preserved.
	Kept []llm.Item
	// Summarized is the span of message items the summary will cover.
	Summarized []llm.Item
	// DroppedToolItems are tool calls/results removed outright.
	DroppedToolItems []llm.Item
	// DroppedSystem are system messages removed outright.
	DroppedSystem []llm.Item
}

// PartitionItems classifies every item under the level's recipe.
//
// Message items: once the conversation holds more messages than
// SummarizeOlderThan, everything older than the KeepRecent window is
// summarized; below that length nothing is.
//
// Tool items travel as call/result pairs. Pairs are dropped wholesale
// when the recipe says so, otherwise only the most recent KeepRecent/2
// pairs survive. Reasoning items pass through untouched; filtering those
// is the transcript boundary's job, not compaction's.
func PartitionItems(items []llm.Item, level Level) Partition {
	cfg := ConfigFor(level)

	type decision int
	const (
		keep decision = iota
		summarize
		dropTool
		dropSystem
	)
	decisions := make([]decision, len(items))

	// Pass 1: messages.
	var msgIdx []int
	for i, it := range items {
		if it.Kind == llm.ItemMessage && it.Role != llm.RoleSystem {
			msgIdx = append(msgIdx, i)
		}
	}
	summarizeCount := 0
	if len(msgIdx) > cfg.SummarizeOlderThan {
		summarizeCount = len(msgIdx) - cfg.KeepRecent
	}
	for n, i := range msgIdx {
		if n < summarizeCount {
			decisions[i] = summarize
		}
	}

	// Pass 2: tool pairs, keyed by call id, ordered by first appearance.
	type pair struct{ indexes []int }
	var pairOrder []string
	pairs := make(map[string]*pair)
	for i, it := range items {
		if it.Kind != llm.ItemToolCall && it.Kind != llm.ItemToolResult {
			continue
		}
		key := it.CallID
		if key == "" {
			key = fmt.Sprintf("_anon_%d", i)
		}
		p, ok := pairs[key]
		if !ok {
			p = &pair{}
			pairs[key] = p
			pairOrder = append(pairOrder, key)
		}
		p.indexes = append(p.indexes, i)
	}

	keepPairs := cfg.KeepRecent / 2
	if cfg.DropToolOutputs {
		keepPairs = 0
	}
	dropUntil := len(pairOrder) - keepPairs
	for n, key := range pairOrder {
		if n < dropUntil {
			for _, i := range pairs[key].indexes {
				decisions[i] = dropTool
			}
		}
	}

	// Pass 3: system messages.
	if cfg.DropSystemMessages {
		for i, it := range items {
			if it.IsSystemMessage() {
				decisions[i] = dropSystem
			}
		}
	}

	var part Partition
	for i, it := range items {
		switch decisions[i] {
		case keep:
			part.Kept = append(part.Kept, it)
		case summarize:
			part.Summarized = append(part.Summarized, it)
		case dropTool:
			part.DroppedToolItems = append(part.DroppedToolItems, it)
		case dropSystem:
			part.DroppedSystem = append(part.DroppedSystem, it)
		}
	}
	return part
}
