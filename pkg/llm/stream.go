package llm

import (
	"context"
	"sync"
)

// IterResult is a single iteration step: a value, or Done when the stream
// finished while the consumer was waiting.
type IterResult[T any] struct {
	Value T
	Done  bool
}

// EventStream is an async stream of T values ending in one final R.
// The producer calls Push for each event and End (or a terminal Push,
// per isComplete) exactly once; the consumer ranges over Iterator and can
// collect the outcome from Result.
type EventStream[T any, R any] struct {
	mu            sync.Mutex
	queue         []T
	waiting       []chan<- IterResult[T]
	done          bool
	finalResult   R
	finalResultCh chan R
	isComplete    func(T) bool
	extractResult func(T) R
}

// NewEventStream creates a stream. isComplete marks a pushed event as
// terminal; extractResult derives the final result from it.
func NewEventStream[T any, R any](
	isComplete func(T) bool,
	extractResult func(T) R,
) *EventStream[T, R] {
	return &EventStream[T, R]{
		finalResultCh: make(chan R, 1),
		isComplete:    isComplete,
		extractResult: extractResult,
	}
}

// Push delivers an event to the consumer, or queues it when nobody is
// waiting. Pushing a terminal event also completes the stream. Pushes
// after completion are dropped.
func (es *EventStream[T, R]) Push(event T) {
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.done {
		return
	}

	if es.isComplete(event) {
		es.done = true
		es.finalResult = es.extractResult(event)
		es.finalResultCh <- es.finalResult
	}

	if len(es.waiting) > 0 {
		waiter := es.waiting[0]
		es.waiting = es.waiting[1:]
		waiter <- IterResult[T]{Value: event}
	} else {
		es.queue = append(es.queue, event)
	}

	// A terminal push ends the stream; release anyone else still waiting.
	if es.done {
		for _, waiter := range es.waiting {
			waiter <- IterResult[T]{Done: true}
		}
		es.waiting = nil
	}
}

// End completes the stream with result. A no-op if a terminal event
// already completed it.
func (es *EventStream[T, R]) End(result R) {
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.done {
		return
	}
	es.done = true
	es.finalResult = result
	es.finalResultCh <- result

	for _, waiter := range es.waiting {
		waiter <- IterResult[T]{Done: true}
	}
	es.waiting = nil
}

// Iterator returns a channel yielding queued and future events in order.
// The channel closes when the stream completes and the queue drains, or
// when ctx is cancelled.
func (es *EventStream[T, R]) Iterator(ctx context.Context) <-chan IterResult[T] {
	ch := make(chan IterResult[T])

	go func() {
		defer close(ch)
		for {
			es.mu.Lock()
			if len(es.queue) > 0 {
				event := es.queue[0]
				es.queue = es.queue[1:]
				es.mu.Unlock()
				select {
				case ch <- IterResult[T]{Value: event}:
				case <-ctx.Done():
					return
				}
				continue
			}
			if es.done {
				es.mu.Unlock()
				return
			}

			waiter := make(chan IterResult[T], 1)
			es.waiting = append(es.waiting, waiter)
			es.mu.Unlock()

			select {
			case result := <-waiter:
				if result.Done {
					return
				}
				select {
				case ch <- result:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Result returns a channel that delivers the final result once.
func (es *EventStream[T, R]) Result() <-chan R {
	return es.finalResultCh
}

// IsDone reports whether the stream has completed.
func (es *EventStream[T, R]) IsDone() bool {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.done
}
