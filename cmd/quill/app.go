package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"log/slog"

	"github.com/quilldev/quill/pkg/agent"
	"github.com/quilldev/quill/pkg/compact"
	"github.com/quilldev/quill/pkg/config"
	"github.com/quilldev/quill/pkg/llm"
	"github.com/quilldev/quill/pkg/logger"
	"github.com/quilldev/quill/pkg/prompt"
	"github.com/quilldev/quill/pkg/session"
	"github.com/quilldev/quill/pkg/tools"
)

// app bundles everything one agent invocation needs: resolved config,
// the runner, and the session file the conversation is recorded into.
type app struct {
	cfg       *config.Config
	spec      config.ModelSpec
	client    *llm.Client
	registry  *tools.Registry
	metrics   *agent.Metrics
	runner    *agent.Runner
	sess      *session.Session
	compactor *compact.Engine
	closeLog  func() error
}

// appOptions selects per-command behavior at wiring time.
type appOptions struct {
	// resumeID loads an existing session and seeds the transcript from
	// its replay before the first turn.
	resumeID string
	// stateless forces full-history replay regardless of config.
	stateless bool
	// callbacks receive run activity; session recording is layered on
	// top of whatever the command installs here.
	callbacks agent.Callbacks
}

// newApp resolves config, model, credentials, tools, and the prompt, and
// assembles the runner. The caller must invoke close() when done.
func newApp(opts appOptions) (*app, error) {
	cfgPath := flagConfig
	if cfgPath == "" {
		var err error
		cfgPath, err = config.DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if flagModel != "" {
		cfg.Model = flagModel
	}

	logOpts := logger.Options{Stderr: false}
	if cfg.Log != nil {
		logOpts.Level = cfg.Log.Level
		logOpts.File = cfg.Log.File
		logOpts.Stderr = cfg.Log.Stderr
	}
	if flagLogLevel != "" {
		logOpts.Level = flagLogLevel
	}
	_, closeLog, err := logger.Setup(logOpts)
	if err != nil {
		return nil, err
	}

	registry, err := config.LoadRegistry()
	if err != nil {
		return nil, err
	}
	spec, ok := registry.Lookup(cfg.Model)
	if !ok {
		return nil, fmt.Errorf("unknown model %q; run `quill models` to list known models", cfg.Model)
	}

	apiKey, err := config.ResolveAPIKey(spec.Provider)
	if err != nil {
		return nil, err
	}
	client := llm.NewClient(spec.LLMModel(), apiKey)
	slog.Info("model resolved", "id", spec.ID, "provider", spec.Provider, "baseURL", spec.BaseURL)

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}

	toolReg := buildTools(cfg, cwd)

	project, err := prompt.LoadProjectInstructions(cwd)
	if err != nil {
		slog.Warn("project instructions ignored", "error", err)
		project = nil
	}
	builder := prompt.NewBuilder(prompt.DefaultBase, cwd).
		SetTools(toolReg.All()).
		SetProject(project).
		SetExtra(cfg.Instructions)
	instructions := builder.Build()

	stateless := cfg.Stateless || opts.stateless || opts.resumeID != ""

	var compactor *compact.Engine
	window := spec.ContextWindow
	if cfg.Compaction != nil && cfg.Compaction.Window > 0 {
		window = cfg.Compaction.Window
	}
	compactionOff := cfg.Compaction != nil && cfg.Compaction.Disabled
	if stateless && !compactionOff && window > 0 {
		compactor = compact.New(spec.ID, window, compact.NewLLMSummarizer(client, ""))
	}

	reasoning := ""
	if spec.Reasoning {
		reasoning = cfg.Reasoning
	}

	a := &app{
		cfg:       cfg,
		spec:      spec,
		client:    client,
		registry:  toolReg,
		metrics:   agent.NewMetrics(),
		compactor: compactor,
		closeLog:  closeLog,
	}

	sess, replay, err := a.openSession(opts.resumeID, spec.ID)
	if err != nil {
		closeLog()
		return nil, err
	}
	a.sess = sess

	cb := opts.callbacks
	if sess != nil {
		userOnItem := cb.OnItem
		cb.OnItem = func(it llm.Item) {
			if _, err := sess.AppendItem(it); err != nil {
				slog.Warn("session write failed", "error", err)
			}
			if userOnItem != nil {
				userOnItem(it)
			}
		}
		userOnCompaction := cb.OnCompaction
		cb.OnCompaction = func(res compact.Result) {
			keptTail := len(res.Items)
			if res.Summary != "" {
				keptTail--
			}
			if _, err := sess.RecordCompaction(res.Summary, keptTail, res.TokensBefore, res.TokensAfter, res.Level.String()); err != nil {
				slog.Warn("session compaction marker failed", "error", err)
			}
			if userOnCompaction != nil {
				userOnCompaction(res)
			}
		}
	}

	a.runner = agent.New(agent.Config{
		Client:       client,
		Tools:        toolReg,
		Instructions: instructions,
		Stateless:    stateless,
		Reasoning:    reasoning,
		Compactor:    compactor,
		Metrics:      a.metrics,
	}, cb)
	a.runner.Enforcement().Require(builder.RequiredTools()...)

	if len(replay) > 0 {
		a.runner.Transcript().Append(replay...)
		slog.Info("session resumed", "id", sess.ID(), "items", len(replay))
	}
	return a, nil
}

// openSession opens the resumed session or creates a fresh one. Returns a
// nil session when recording is disabled.
func (a *app) openSession(resumeID, model string) (*session.Session, []llm.Item, error) {
	disabled := a.cfg.Session != nil && a.cfg.Session.Disabled
	if disabled && resumeID == "" {
		return nil, nil, nil
	}

	dir := ""
	if a.cfg.Session != nil {
		dir = a.cfg.Session.Dir
	}
	if dir == "" {
		var err error
		dir, err = session.DefaultDir()
		if err != nil {
			return nil, nil, fmt.Errorf("resolve sessions directory: %w", err)
		}
	}

	if resumeID != "" {
		sess, err := session.Open(dir, resumeID)
		if err != nil {
			return nil, nil, fmt.Errorf("resume session %s: %w", resumeID, err)
		}
		return sess, sess.Replay(), nil
	}
	return session.New(dir, model), nil, nil
}

// forceCompact compacts the conversation immediately, without waiting
// for a usage threshold. Severity still follows current usage; below
// every threshold the gentlest recipe applies.
func (a *app) forceCompact(ctx context.Context) error {
	if a.compactor == nil {
		return errors.New("compaction is unavailable: the conversation is stored server-side, or compaction is disabled")
	}
	items := a.runner.Transcript().Items()
	level, _ := a.compactor.ShouldCompact(items)
	if level == compact.LevelNone {
		level = compact.LevelLight
	}
	res, err := a.compactor.CompactAtLevel(ctx, items, level)
	if err != nil {
		if errors.Is(err, compact.ErrNothingToCompact) {
			return errors.New("nothing to compact yet")
		}
		return fmt.Errorf("compact: %w", err)
	}
	a.runner.Transcript().Rewrite(res.Items)
	a.metrics.RecordCompaction(res.Level)
	if a.sess != nil {
		keptTail := len(res.Items)
		if res.Summary != "" {
			keptTail--
		}
		if _, err := a.sess.RecordCompaction(res.Summary, keptTail, res.TokensBefore, res.TokensAfter, res.Level.String()); err != nil {
			slog.Warn("session compaction marker failed", "error", err)
		}
	}
	fmt.Fprintf(os.Stderr, "(compacted at %s: %d -> %d tokens)\n", res.Level, res.TokensBefore, res.TokensAfter)
	return nil
}

func (a *app) close() {
	if a.closeLog != nil {
		a.closeLog()
	}
}

// buildTools assembles the default tool set minus anything the config
// disables, applying the configured bash timeout.
func buildTools(cfg *config.Config, cwd string) *tools.Registry {
	full := tools.DefaultRegistry(cwd)
	if cfg.Tools == nil {
		return full
	}

	disabled := make(map[string]bool, len(cfg.Tools.Disabled))
	for _, name := range cfg.Tools.Disabled {
		disabled[strings.TrimSpace(name)] = true
	}

	reg := full
	if len(disabled) > 0 {
		reg = tools.NewRegistry()
		for _, t := range full.All() {
			if !disabled[t.Name()] {
				reg.Register(t)
			}
		}
	}

	if cfg.Tools.BashTimeoutSeconds > 0 {
		if t, ok := reg.Get("bash"); ok {
			if bash, ok := t.(*tools.BashTool); ok {
				bash.SetTimeout(time.Duration(cfg.Tools.BashTimeoutSeconds) * time.Second)
			}
		}
	}
	return reg
}

// explainRunError turns a terminal run error into the message shown to
// the user. Retries have already been exhausted by the time one of these
// surfaces.
func explainRunError(err error) string {
	switch {
	case llm.IsContextLengthExceeded(err):
		return "The conversation no longer fits the model's context window. " +
			"Start a new session, or switch to a model with a larger context window (see `quill models`)."
	case llm.IsRateLimit(err):
		return fmt.Sprintf("The provider is rate-limiting requests and retries were exhausted. "+
			"Wait a moment and try again. (%v)", err)
	case llm.IsInvalidRequest(err):
		return fmt.Sprintf("The provider rejected the request: %v", err)
	default:
		return fmt.Sprintf("The request failed after retries: %v. Please try again.", err)
	}
}
