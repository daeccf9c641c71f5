package agent

import (
	"sync"
	"time"

	"github.com/quilldev/quill/pkg/llm"
)

// DefaultGraceDelay is how long a streamed item is held before it is
// committed to the caller. A cancel that lands inside the window
// suppresses everything still held.
const DefaultGraceDelay = 10 * time.Millisecond

type staged struct {
	item    llm.Item
	readyAt time.Time
}

// stager delivers items in order after a grace delay. Stage after Cancel
// or Close is a no-op; Cancel drops everything not yet committed.
type stager struct {
	delay   time.Duration
	deliver func(llm.Item)

	mu        sync.Mutex
	queue     []staged
	inFlight  bool
	cancelled bool
	closed    bool
	drained   *sync.Cond

	kick chan struct{}
	done chan struct{}
}

func newStager(delay time.Duration, deliver func(llm.Item)) *stager {
	s := &stager{
		delay:   delay,
		deliver: deliver,
		kick:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	s.drained = sync.NewCond(&s.mu)
	go s.run()
	return s
}

// Stage queues one item for delivery once its grace delay elapses.
func (s *stager) Stage(it llm.Item) {
	s.mu.Lock()
	if s.cancelled || s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, staged{item: it, readyAt: time.Now().Add(s.delay)})
	s.mu.Unlock()
	s.wake()
}

// Flush makes everything queued ready immediately and blocks until it has
// been delivered. Returns early if the stager is cancelled meanwhile.
func (s *stager) Flush() {
	s.mu.Lock()
	now := time.Now()
	for i := range s.queue {
		s.queue[i].readyAt = now
	}
	s.mu.Unlock()
	s.wake()

	s.mu.Lock()
	for (len(s.queue) > 0 || s.inFlight) && !s.cancelled {
		s.drained.Wait()
	}
	s.mu.Unlock()
}

// Cancel drops every queued item. Items whose delivery already began may
// still arrive; the caller's generation check screens those out.
func (s *stager) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.queue = nil
	s.drained.Broadcast()
	s.mu.Unlock()
	s.wake()
}

// Close stops the worker after draining whatever is still queued. Safe to
// call more than once.
func (s *stager) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.wake()
	<-s.done
}

func (s *stager) wake() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *stager) run() {
	defer close(s.done)
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.mu.Lock()
		if s.cancelled {
			s.queue = nil
		}
		if len(s.queue) == 0 {
			s.drained.Broadcast()
			if s.closed {
				s.mu.Unlock()
				return
			}
			s.mu.Unlock()
			<-s.kick
			continue
		}

		head := s.queue[0]
		// A closing stager drains without waiting out the delay.
		if wait := time.Until(head.readyAt); wait > 0 && !s.closed {
			s.mu.Unlock()
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(wait)
			select {
			case <-timer.C:
			case <-s.kick:
			}
			continue
		}

		s.queue = s.queue[1:]
		s.inFlight = true
		deliver := !s.cancelled
		s.mu.Unlock()

		if deliver {
			s.deliver(head.item)
		}

		s.mu.Lock()
		s.inFlight = false
		if len(s.queue) == 0 {
			s.drained.Broadcast()
		}
		s.mu.Unlock()
	}
}
