package compact

// Level is how aggressively the conversation gets compacted. Levels are
// ordered; recursion only ever moves upward.
type Level int

const (
	LevelNone Level = iota
	LevelLight
	LevelMedium
	LevelHeavy
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelLight:
		return "light"
	case LevelMedium:
		return "medium"
	case LevelHeavy:
		return "heavy"
	case LevelCritical:
		return "critical"
	}
	return "unknown"
}

// SelectLevel maps a usage percentage to a compaction level. Pure; the
// thresholds are fixed.
func SelectLevel(percentUsed float64) Level {
	switch {
	case percentUsed < 70:
		return LevelNone
	case percentUsed < 80:
		return LevelLight
	case percentUsed < 90:
		return LevelMedium
	case percentUsed < 95:
		return LevelHeavy
	default:
		return LevelCritical
	}
}

// LevelConfig is the per-level compaction recipe.
type LevelConfig struct {
	// KeepRecent is how many of the newest message items survive
	// verbatim.
	KeepRecent int
	// SummarizeOlderThan is the conversation length that triggers
	// summarization: once there are more message items than this, every
	// message older than the KeepRecent window folds into the summary.
	SummarizeOlderThan int
	// DropToolOutputs drops all tool call/result pairs instead of
	// keeping a small recent window of them.
	DropToolOutputs bool
	// DropSystemMessages strips system messages from the result.
	DropSystemMessages bool
	// AggressiveSummary selects the terse summarization register.
	AggressiveSummary bool
}

var levelConfigs = map[Level]LevelConfig{
	LevelLight:    {KeepRecent: 10, SummarizeOlderThan: 20},
	LevelMedium:   {KeepRecent: 6, SummarizeOlderThan: 10, DropToolOutputs: true, AggressiveSummary: true},
	LevelHeavy:    {KeepRecent: 4, SummarizeOlderThan: 6, DropToolOutputs: true, DropSystemMessages: true, AggressiveSummary: true},
	LevelCritical: {KeepRecent: 2, SummarizeOlderThan: 3, DropToolOutputs: true, DropSystemMessages: true, AggressiveSummary: true},
}

// ConfigFor returns the fixed recipe for a level. LevelNone returns the
// zero config; callers check the level before applying.
func ConfigFor(level Level) LevelConfig {
	return levelConfigs[level]
}
