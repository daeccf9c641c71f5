// Package tokens estimates context-window consumption for conversation
// items. Estimates are deliberately cheap: a characters-per-token ratio
// calibrated per model family plus a fixed per-item framing overhead. The
// service reports exact usage after each turn; these numbers only need to
// be good enough to drive compaction decisions between turns.
package tokens

import (
	"math"
	"strings"

	"github.com/quilldev/quill/pkg/llm"
)

const (
	// DefaultCharsPerToken is the fallback ratio for unrecognized models.
	// English prose over common BPE vocabularies lands near 4 characters
	// per token.
	DefaultCharsPerToken = 4.0

	// messageOverhead approximates role and framing tokens per message.
	messageOverhead = 4

	// toolItemOverhead approximates the protocol framing around a tool
	// call or result, which is heavier than plain message framing.
	toolItemOverhead = 8
)

type family struct {
	needles       []string
	charsPerToken float64
}

// Ratios are coarse per-vocabulary calibrations, not tokenizer
// reimplementations. Order matters: first match wins.
var families = []family{
	{needles: []string{"claude"}, charsPerToken: 3.5},
	{needles: []string{"gpt", "o1", "o3", "o4", "codex", "davinci"}, charsPerToken: 4.0},
	{needles: []string{"gemini"}, charsPerToken: 4.0},
	{needles: []string{"llama", "mistral", "mixtral", "qwen", "deepseek", "glm"}, charsPerToken: 3.6},
}

// Estimator counts tokens at one model family's ratio.
type Estimator struct {
	charsPerToken float64
}

// ForModel selects an estimator by matching the model name against known
// families, falling back to DefaultCharsPerToken.
func ForModel(model string) Estimator {
	m := strings.ToLower(model)
	for _, f := range families {
		for _, needle := range f.needles {
			if strings.Contains(m, needle) {
				return Estimator{charsPerToken: f.charsPerToken}
			}
		}
	}
	return Estimator{charsPerToken: DefaultCharsPerToken}
}

// CountText estimates tokens for a plain string.
func (e Estimator) CountText(s string) int {
	if s == "" {
		return 0
	}
	ratio := e.charsPerToken
	if ratio <= 0 {
		ratio = DefaultCharsPerToken
	}
	return int(math.Ceil(float64(len(s)) / ratio))
}

// CountItem estimates tokens for one conversation item, including its
// framing overhead.
func (e Estimator) CountItem(it llm.Item) int {
	switch it.Kind {
	case llm.ItemMessage:
		return e.CountText(it.Content) + messageOverhead
	case llm.ItemToolCall:
		return e.CountText(it.Name) + e.CountText(it.Arguments) + toolItemOverhead
	case llm.ItemToolResult:
		return e.CountText(it.Output) + toolItemOverhead
	case llm.ItemReasoning:
		return e.CountText(it.Text) + messageOverhead
	}
	return 0
}

// Count estimates tokens for a sequence of items.
func (e Estimator) Count(items []llm.Item) int {
	total := 0
	for _, it := range items {
		total += e.CountItem(it)
	}
	return total
}

// Count estimates tokens for items under the named model.
func Count(items []llm.Item, model string) int {
	return ForModel(model).Count(items)
}

// Stats is the derived usage picture for a context window of max tokens.
// PercentUsed and PercentRemaining always sum to 100.
type Stats struct {
	Used             int     `json:"used"`
	Max              int     `json:"max"`
	Remaining        int     `json:"remaining"`
	PercentUsed      float64 `json:"percentUsed"`
	PercentRemaining float64 `json:"percentRemaining"`
}

// StatsFor derives usage statistics for items under the named model.
// Derived on demand, never cached: the transcript may have changed since
// the last call.
func StatsFor(items []llm.Item, model string, max int) Stats {
	return ForModel(model).Stats(items, max)
}

// Stats derives usage statistics against a context window of max tokens.
func (e Estimator) Stats(items []llm.Item, max int) Stats {
	return StatsForCount(e.Count(items), max)
}

// StatsForCount derives usage statistics from an already-known token
// count, e.g. the service-reported usage of the last turn.
func StatsForCount(used, max int) Stats {
	s := Stats{Used: used, Max: max}
	if max <= 0 {
		return s
	}
	s.Remaining = max - used
	if s.Remaining < 0 {
		s.Remaining = 0
	}
	s.PercentUsed = float64(used) / float64(max) * 100
	if s.PercentUsed > 100 {
		s.PercentUsed = 100
	}
	s.PercentRemaining = 100 - s.PercentUsed
	return s
}
