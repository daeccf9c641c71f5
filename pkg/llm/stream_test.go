package llm

import (
	"context"
	"testing"
	"time"
)

func newTestStream() *EventStream[int, int] {
	return NewEventStream[int, int](
		func(v int) bool { return v < 0 },
		func(v int) int { return -v },
	)
}

func TestEventStreamQueuesBeforeConsumer(t *testing.T) {
	es := newTestStream()
	es.Push(1)
	es.Push(2)
	es.Push(-3)

	var got []int
	for res := range es.Iterator(context.Background()) {
		got = append(got, res.Value)
	}
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != -3 {
		t.Fatalf("unexpected events: %v", got)
	}

	select {
	case result := <-es.Result():
		if result != 3 {
			t.Fatalf("unexpected result: %d", result)
		}
	case <-time.After(time.Second):
		t.Fatal("result not delivered")
	}
}

func TestEventStreamWakesWaitingConsumer(t *testing.T) {
	es := newTestStream()

	done := make(chan []int, 1)
	go func() {
		var got []int
		for res := range es.Iterator(context.Background()) {
			got = append(got, res.Value)
		}
		done <- got
	}()

	time.Sleep(10 * time.Millisecond)
	es.Push(7)
	es.End(0)

	select {
	case got := <-done:
		if len(got) != 1 || got[0] != 7 {
			t.Fatalf("unexpected events: %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("iterator did not finish after End")
	}
}

func TestEventStreamIteratorHonorsContext(t *testing.T) {
	es := newTestStream()
	ctx, cancel := context.WithCancel(context.Background())

	ch := es.Iterator(ctx)
	cancel()

	select {
	case _, open := <-ch:
		if open {
			t.Fatal("expected closed iterator after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("iterator did not close after context cancel")
	}
}

func TestEventStreamDropsPushAfterEnd(t *testing.T) {
	es := newTestStream()
	es.End(42)
	es.Push(1)

	var got []int
	for res := range es.Iterator(context.Background()) {
		got = append(got, res.Value)
	}
	if len(got) != 0 {
		t.Fatalf("expected no events after End, got %v", got)
	}
	if result := <-es.Result(); result != 42 {
		t.Fatalf("unexpected result: %d", result)
	}
}
