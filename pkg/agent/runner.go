package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quilldev/quill/pkg/compact"
	"github.com/quilldev/quill/pkg/llm"
	"github.com/quilldev/quill/pkg/tools"
	"github.com/quilldev/quill/pkg/transcript"
)

// State is the runner's lifecycle phase. One run moves
// Idle -> Sending -> Streaming -> Dispatching and loops back to Sending
// until a turn arrives with no tool calls (Completed), the caller cancels
// (Cancelled), or an unrecoverable error surfaces (Fatal).
type State string

const (
	StateIdle        State = "idle"
	StateSending     State = "sending"
	StateStreaming   State = "streaming"
	StateDispatching State = "dispatching"
	StateCompleted   State = "completed"
	StateCancelled   State = "cancelled"
	StateFatal       State = "fatal"
)

var (
	// ErrTerminated is returned by Run after Terminate.
	ErrTerminated = errors.New("runner terminated")
	// ErrBusy is returned by Run while another run is active.
	ErrBusy = errors.New("a run is already active")
)

// Callbacks deliver run activity to the embedding surface. All fields
// are optional. Callbacks are invoked from the runner's goroutines and
// must not block for long.
type Callbacks struct {
	// OnItem receives each conversation item once it is committed:
	// streamed items after their grace delay, tool results as they are
	// produced.
	OnItem func(llm.Item)
	// OnDelta receives incremental assistant text as it streams.
	OnDelta func(string)
	// OnState observes lifecycle transitions.
	OnState func(State)
	// OnLoading brackets the whole run: true before the first request,
	// false after the final item has been delivered.
	OnLoading func(bool)
	// OnCompaction fires after the conversation has been rewritten to
	// reclaim context space.
	OnCompaction func(compact.Result)
}

// Config assembles a Runner.
type Config struct {
	Client       *llm.Client
	Tools        *tools.Registry
	Instructions string
	// Stateless replays the full conversation every turn instead of
	// continuing a server-stored session.
	Stateless bool
	// Reasoning selects the model's reasoning effort, when supported.
	Reasoning string
	Retry     RetryConfig
	// GraceDelay is how long streamed items are held before delivery.
	// Zero means DefaultGraceDelay.
	GraceDelay time.Duration
	// Compactor, when set, shrinks the conversation before a turn that
	// would run the context window too full. Stateless mode only.
	Compactor *compact.Engine
	Metrics   *Metrics
}

// Result summarizes one finished run.
type Result struct {
	State  State
	TurnID string
	Turns  int
	Usage  llm.Usage
	// Items are the conversation items delivered to the caller during
	// this run, in delivery order.
	Items []llm.Item
}

// FinalText returns the text of the last assistant message, empty when
// the run produced none.
func (r *Result) FinalText() string {
	for i := len(r.Items) - 1; i >= 0; i-- {
		it := r.Items[i]
		if it.Kind == llm.ItemMessage && it.Role == llm.RoleAssistant {
			return it.Content
		}
	}
	return ""
}

// Runner drives the request -> stream -> dispatch loop for one
// conversation. One run is active at a time; Cancel aborts it and
// Terminate retires the instance. All methods are safe for concurrent
// use.
type Runner struct {
	cfg        Config
	cb         Callbacks
	dispatcher *Dispatcher

	enforcement *Enforcement
	transcript  *transcript.Manager

	mu         sync.Mutex
	state      State
	generation int64
	running    bool
	terminated bool
	cancelled  bool
	cancelRun  context.CancelFunc
	stager     *stager
	lastTurnID string

	// seenItems holds the service-assigned IDs of items already staged
	// for delivery this run. A retried attempt re-streams the failed
	// turn's items; the set keeps the caller from seeing them twice.
	seenItems map[string]bool

	// cancelMu is held across Cancel's sweep-and-deliver phase so the
	// run epilogue can wait for in-flight synthetic results before it
	// clears the loading state.
	cancelMu sync.Mutex

	// pendingAborts are tool calls streamed but not yet answered. Every
	// entry is answered exactly once: by its dispatch result, or by a
	// synthetic failure when the run is cancelled or dies first.
	pendingAborts []llm.Item

	// holdover carries synthetic answers for a previous run's aborted
	// calls into the next run's opening request.
	holdover       []llm.Item
	holdoverRecord []llm.Item

	emitMu   sync.Mutex
	runItems []llm.Item
}

// New builds a Runner. The registry may be nil for a tool-less agent.
func New(cfg Config, cb Callbacks) *Runner {
	if cfg.Tools == nil {
		cfg.Tools = tools.NewRegistry()
	}
	if cfg.GraceDelay <= 0 {
		cfg.GraceDelay = DefaultGraceDelay
	}
	cfg.Retry = cfg.Retry.withDefaults()

	r := &Runner{
		cfg:         cfg,
		cb:          cb,
		state:       StateIdle,
		enforcement: NewEnforcement(),
		transcript:  transcript.New(),
	}
	r.dispatcher = NewDispatcher(cfg.Tools, r.enforcement, cfg.Metrics)
	return r
}

// Transcript exposes the conversation record, for session persistence
// and resume.
func (r *Runner) Transcript() *transcript.Manager { return r.transcript }

// Enforcement exposes the required-tool tracker.
func (r *Runner) Enforcement() *Enforcement { return r.enforcement }

// State returns the current lifecycle phase.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// LastTurnID returns the most recent completed turn's ID, for stored
// session continuation.
func (r *Runner) LastTurnID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastTurnID
}

// SetLastTurnID seeds the continuation point when resuming a stored
// session.
func (r *Runner) SetLastTurnID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastTurnID = id
}

// PendingAbortCount reports how many streamed tool calls are still
// awaiting an answer.
func (r *Runner) PendingAbortCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pendingAborts)
}

// Run executes one user request to completion: send, stream, dispatch
// tool calls, repeat until the model stops calling tools. Cancellation
// is not an error; the returned Result reports StateCancelled and err is
// nil. Only one run may be active per Runner.
func (r *Runner) Run(ctx context.Context, input []llm.Item) (*Result, error) {
	r.mu.Lock()
	if r.terminated {
		r.mu.Unlock()
		return nil, ErrTerminated
	}
	if r.running {
		r.mu.Unlock()
		return nil, ErrBusy
	}
	r.running = true
	r.cancelled = false
	r.generation++
	gen := r.generation
	r.seenItems = make(map[string]bool)

	runCtx, cancelFn := context.WithCancel(ctx)
	r.cancelRun = cancelFn

	// A previous run that died with unanswered calls left them here;
	// answer them on the wire before anything else.
	r.sweepAbortsLocked()
	holdover := r.holdover
	holdoverRecord := r.holdoverRecord
	r.holdover = nil
	r.holdoverRecord = nil

	st := newStager(r.cfg.GraceDelay, func(it llm.Item) {
		if r.currentGeneration() == gen {
			r.emit(it)
		}
	})
	r.stager = st
	r.mu.Unlock()

	r.emitMu.Lock()
	r.runItems = nil
	r.emitMu.Unlock()

	r.enforcement.ResetRun()
	r.cfg.Metrics.RecordRunStart()
	r.setLoading(true)

	res, err := r.loop(runCtx, gen, holdover, holdoverRecord, input)

	st.Close()
	cancelFn()
	r.mu.Lock()
	r.running = false
	r.cancelRun = nil
	r.stager = nil
	r.mu.Unlock()

	// A Cancel that raced the stream's exit may still be delivering its
	// synthetic results; wait it out so they land before loading clears.
	r.cancelMu.Lock()
	r.cancelMu.Unlock()

	r.emitMu.Lock()
	res.Items = append([]llm.Item(nil), r.runItems...)
	r.emitMu.Unlock()

	r.cfg.Metrics.RecordRunEnd(res.State)
	r.setLoading(false)
	return res, err
}

// Cancel aborts the active run. Pending tool calls are answered with
// synthetic failed results, delivered before the run's loading state
// clears. Safe to call when idle.
func (r *Runner) Cancel() {
	r.cancelMu.Lock()
	defer r.cancelMu.Unlock()

	r.mu.Lock()
	r.cancelled = true
	r.generation++
	synthetic := r.sweepAbortsLocked()
	st := r.stager
	cancelFn := r.cancelRun
	r.cancelRun = nil
	r.mu.Unlock()

	if st != nil {
		st.Cancel()
	}
	for _, it := range synthetic {
		r.emit(it)
	}
	if cancelFn != nil {
		cancelFn()
	}
}

// Terminate cancels any active run and retires the instance; Run returns
// ErrTerminated afterwards.
func (r *Runner) Terminate() {
	r.mu.Lock()
	r.terminated = true
	r.mu.Unlock()
	r.Cancel()
}

// sweepAbortsLocked answers every pending call with a synthetic failed
// result and queues the answers for the next request. Returns the
// synthetic results for delivery. Caller holds r.mu.
func (r *Runner) sweepAbortsLocked() []llm.Item {
	if len(r.pendingAborts) == 0 {
		return nil
	}
	synthetic := make([]llm.Item, 0, len(r.pendingAborts))
	for _, call := range r.pendingAborts {
		res := llm.NewToolResult(call.CallID, "cancelled", false)
		synthetic = append(synthetic, res)
		if r.cfg.Stateless {
			// Stateless replay needs the call alongside its answer or
			// the service rejects the orphaned result.
			r.holdover = append(r.holdover, call.StripTransport(), res)
		} else {
			r.holdover = append(r.holdover, res)
		}
		r.holdoverRecord = append(r.holdoverRecord, call.StripTransport(), res)
	}
	r.pendingAborts = nil
	return synthetic
}

func (r *Runner) loop(ctx context.Context, gen int64, holdover, holdoverRecord, input []llm.Item) (*Result, error) {
	res := &Result{State: StateFatal}
	defs := r.cfg.Tools.Defs()

	pendingNew := make([]llm.Item, 0, len(holdover)+len(input))
	pendingNew = append(pendingNew, holdover...)
	pendingNew = append(pendingNew, input...)
	inputPersisted := false

	for {
		if ctx.Err() != nil || r.isCancelled() {
			res.State = StateCancelled
			r.setState(StateCancelled)
			return res, nil
		}

		r.maybeCompact(ctx, pendingNew)

		req := llm.Request{
			Instructions: r.cfg.Instructions,
			Items:        pendingNew,
			Tools:        defs,
			Reasoning:    r.cfg.Reasoning,
			Store:        !r.cfg.Stateless,
			Stream:       true,
		}
		if r.cfg.Stateless {
			req.Items = append(r.transcript.Replayable(), pendingNew...)
		} else {
			req.PreviousTurnID = r.LastTurnID()
		}

		r.setState(StateSending)
		r.cfg.Metrics.RecordTurnStart()
		turn, received, err := r.streamTurn(ctx, gen, req)
		if err != nil {
			if ctx.Err() != nil || r.isCancelled() || errors.Is(err, context.Canceled) {
				res.State = StateCancelled
				r.setState(StateCancelled)
				return res, nil
			}
			res.State = StateFatal
			r.setState(StateFatal)
			slog.Error("run failed", "turns", res.Turns, "error", err)
			return res, err
		}

		res.Turns++
		res.TurnID = turn.ID
		res.Usage.InputTokens += turn.Usage.InputTokens
		res.Usage.OutputTokens += turn.Usage.OutputTokens
		res.Usage.TotalTokens += turn.Usage.TotalTokens
		r.setLastTurnID(turn.ID)
		r.cfg.Metrics.RecordTurnCompleted(turn.Usage)

		calls := itemsOfKind(received, llm.ItemToolCall)
		var results []llm.Item
		if len(calls) > 0 {
			// Streamed items are final now; commit them so calls reach
			// the caller before their results do.
			r.stagerFlush()
			r.setState(StateDispatching)
			results = r.dispatchBatch(ctx, gen, calls)
		}

		var record []llm.Item
		if !inputPersisted {
			record = append(record, holdoverRecord...)
			record = append(record, input...)
			inputPersisted = true
		}
		record = append(record, turnRecord(received, results)...)
		r.transcript.Append(record...)

		if len(calls) == 0 {
			r.stagerFlush()
			if ctx.Err() != nil || r.isCancelled() {
				res.State = StateCancelled
				r.setState(StateCancelled)
				return res, nil
			}
			res.State = StateCompleted
			r.setState(StateCompleted)
			return res, nil
		}

		if r.cfg.Stateless {
			// The answered pairs replay from the transcript next turn.
			pendingNew = pendingNew[:0]
		} else {
			pendingNew = results
		}
		if reminder, ok := r.enforcement.Reminder(); ok {
			pendingNew = append(pendingNew, reminder)
		}
	}
}

// maybeCompact shrinks the conversation when the next request would run
// the context window too full. Stateless only: a server-stored session
// cannot be rewritten from here.
func (r *Runner) maybeCompact(ctx context.Context, pendingNew []llm.Item) {
	if !r.cfg.Stateless || r.cfg.Compactor == nil {
		return
	}
	view := append(r.transcript.Replayable(), pendingNew...)
	if _, need := r.cfg.Compactor.ShouldCompact(view); !need {
		return
	}
	cres, err := r.cfg.Compactor.Compact(ctx, r.transcript.Items())
	if err != nil {
		slog.Warn("compaction failed, continuing uncompacted", "error", err)
		return
	}
	if !cres.Applied {
		return
	}
	r.transcript.Rewrite(cres.Items)
	r.cfg.Metrics.RecordCompaction(cres.Level)
	slog.Info("conversation compacted",
		"level", cres.Level.String(),
		"passes", cres.Passes,
		"tokens_before", cres.TokensBefore,
		"tokens_after", cres.TokensAfter,
		"degraded", cres.Degraded)
	if r.cb.OnCompaction != nil {
		r.cb.OnCompaction(cres)
	}
}

// streamTurn sends one request, retrying per policy. The payload is
// byte-identical across attempts.
func (r *Runner) streamTurn(ctx context.Context, gen int64, req llm.Request) (llm.Turn, []llm.Item, error) {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.Retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay, kind := r.cfg.Retry.Delay(lastErr, attempt-1)
			r.cfg.Metrics.RecordRetry(kind)
			slog.Warn("retrying turn",
				"attempt", attempt,
				"max_attempts", r.cfg.Retry.MaxAttempts,
				"kind", kind,
				"delay", delay,
				"error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return llm.Turn{}, nil, ctx.Err()
			}
		}

		turn, received, err := r.streamOnce(ctx, gen, req)
		if err == nil {
			return turn, received, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return llm.Turn{}, nil, ctx.Err()
		}
		if !Retryable(err) {
			return llm.Turn{}, nil, err
		}
	}
	return llm.Turn{}, nil, fmt.Errorf("turn failed after %d attempts: %w", r.cfg.Retry.MaxAttempts, lastErr)
}

func (r *Runner) streamOnce(ctx context.Context, gen int64, req llm.Request) (llm.Turn, []llm.Item, error) {
	// A fresh attempt observes its tool calls from scratch.
	r.resetAborts(gen)

	stream := r.cfg.Client.Stream(ctx, req)
	r.setState(StateStreaming)

	var received []llm.Item
	for ir := range stream.Iterator(ctx) {
		ev := ir.Value
		if r.currentGeneration() != gen {
			return llm.Turn{}, nil, context.Canceled
		}
		switch ev.Type {
		case llm.EventItemDelta:
			if r.cb.OnDelta != nil && ev.Delta != "" {
				r.cb.OnDelta(ev.Delta)
			}
		case llm.EventItemDone:
			if ev.Item == nil || ev.Item.Kind == "" {
				continue
			}
			it := *ev.Item
			if it.Kind == llm.ItemToolCall && it.CallID == "" {
				// Some providers omit the call id; synthesize one so the
				// call/result pairing invariant holds.
				it.CallID = "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
			}
			received = append(received, it)
			if it.Kind == llm.ItemToolCall {
				r.addAbort(gen, it)
			}
			// A retried attempt re-streams whatever the failed one already
			// produced; items the caller has seen are not staged again.
			if !r.markDelivered(gen, it.ID) {
				r.stagerStage(it)
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return llm.Turn{}, nil, err
	}

	var turn llm.Turn
	select {
	case turn = <-stream.Result():
	case <-ctx.Done():
		return llm.Turn{}, nil, ctx.Err()
	}
	if turn.Err != nil {
		return llm.Turn{}, nil, turn.Err
	}
	if turn.Status != llm.TurnStatusCompleted {
		return llm.Turn{}, nil, &llm.APIError{Message: "turn ended with status " + turn.Status}
	}
	return turn, received, nil
}

// dispatchBatch executes streamed tool calls in order. Each call is
// answered exactly once: the dispatcher's result is delivered only if
// this goroutine claims the pending entry before a concurrent cancel
// does.
func (r *Runner) dispatchBatch(ctx context.Context, gen int64, calls []llm.Item) []llm.Item {
	results := make([]llm.Item, 0, len(calls))
	for _, call := range calls {
		result := r.dispatcher.Dispatch(ctx, call)
		if !r.claimAbort(gen, call.CallID) {
			continue
		}
		r.emit(result)
		results = append(results, result)
	}
	return results
}

func (r *Runner) addAbort(gen int64, call llm.Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.generation != gen {
		return
	}
	for _, p := range r.pendingAborts {
		if p.CallID == call.CallID {
			return
		}
	}
	r.pendingAborts = append(r.pendingAborts, call)
}

func (r *Runner) claimAbort(gen int64, callID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.generation != gen {
		return false
	}
	for i, p := range r.pendingAborts {
		if p.CallID == callID {
			r.pendingAborts = append(r.pendingAborts[:i], r.pendingAborts[i+1:]...)
			return true
		}
	}
	return false
}

// markDelivered records a service-assigned item ID for this run and
// reports whether it was already recorded. Items without an ID cannot
// be matched across attempts and always deliver.
func (r *Runner) markDelivered(gen int64, id string) bool {
	if id == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.generation != gen {
		return true
	}
	if r.seenItems[id] {
		return true
	}
	r.seenItems[id] = true
	return false
}

func (r *Runner) resetAborts(gen int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.generation == gen {
		r.pendingAborts = nil
	}
}

func (r *Runner) currentGeneration() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generation
}

func (r *Runner) isCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

func (r *Runner) setLastTurnID(id string) {
	if id == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastTurnID = id
}

func (r *Runner) stagerStage(it llm.Item) {
	r.mu.Lock()
	st := r.stager
	r.mu.Unlock()
	if st != nil {
		st.Stage(it)
	}
}

func (r *Runner) stagerFlush() {
	r.mu.Lock()
	st := r.stager
	r.mu.Unlock()
	if st != nil {
		st.Flush()
	}
}

func (r *Runner) emit(it llm.Item) {
	r.emitMu.Lock()
	r.runItems = append(r.runItems, it)
	r.emitMu.Unlock()
	if r.cb.OnItem != nil {
		r.cb.OnItem(it)
	}
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	if r.state == s {
		r.mu.Unlock()
		return
	}
	r.state = s
	r.mu.Unlock()
	if r.cb.OnState != nil {
		r.cb.OnState(s)
	}
}

func (r *Runner) setLoading(v bool) {
	if r.cb.OnLoading != nil {
		r.cb.OnLoading(v)
	}
}

func itemsOfKind(items []llm.Item, kind string) []llm.Item {
	var out []llm.Item
	for _, it := range items {
		if it.Kind == kind {
			out = append(out, it)
		}
	}
	return out
}

// turnRecord builds the transcript entries for one turn: everything the
// model streamed, minus calls that never got an answer, plus the answers
// in dispatch order.
func turnRecord(received, results []llm.Item) []llm.Item {
	answered := make(map[string]bool, len(results))
	for _, res := range results {
		answered[res.CallID] = true
	}
	var out []llm.Item
	for _, it := range received {
		if it.Kind == llm.ItemToolCall && !answered[it.CallID] {
			continue
		}
		out = append(out, it)
	}
	out = append(out, results...)
	return out
}
