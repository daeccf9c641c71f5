package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testClient(baseURL string) *Client {
	return NewClient(Model{ID: "test-model", Provider: "test", BaseURL: baseURL}, "test-key")
}

func TestStreamDeliversItemsAndTurn(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected authorization header: %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"item.done\",\"item\":{\"type\":\"message\",\"id\":\"itm_1\",\"role\":\"assistant\",\"content\":\"working on it\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"item.done\",\"item\":{\"type\":\"tool_call\",\"call_id\":\"call_1\",\"name\":\"bash\",\"arguments\":\"{\\\"command\\\":\\\"ls\\\"}\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"turn.completed\",\"turn_id\":\"turn_9\",\"status\":\"completed\",\"usage\":{\"input_tokens\":100,\"output_tokens\":20,\"total_tokens\":120}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	stream := testClient(server.URL).Stream(context.Background(), Request{
		Items: []Item{UserMessage("ping")},
	})

	var items []Item
	for res := range stream.Iterator(context.Background()) {
		ev := res.Value
		switch ev.Type {
		case EventItemDone:
			items = append(items, *ev.Item)
		case EventError:
			t.Fatalf("unexpected error event: %v", ev.Err)
		}
	}

	turn := <-stream.Result()
	if turn.Err != nil {
		t.Fatalf("unexpected turn error: %v", turn.Err)
	}
	if turn.ID != "turn_9" || turn.Status != TurnStatusCompleted {
		t.Fatalf("unexpected turn: %+v", turn)
	}
	if turn.Usage.TotalTokens != 120 {
		t.Fatalf("unexpected usage: %+v", turn.Usage)
	}

	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Kind != ItemMessage || items[0].Content != "working on it" || items[0].ID != "itm_1" {
		t.Fatalf("unexpected first item: %+v", items[0])
	}
	if items[1].Kind != ItemToolCall || items[1].Name != "bash" || items[1].CallID != "call_1" {
		t.Fatalf("unexpected second item: %+v", items[1])
	}
}

func TestStreamClassifiesHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limit exceeded"}}`)
	}))
	defer server.Close()

	stream := testClient(server.URL).Stream(context.Background(), Request{})
	turn := <-stream.Result()

	var rle *RateLimitError
	if !errors.As(turn.Err, &rle) {
		t.Fatalf("expected RateLimitError, got %T (%v)", turn.Err, turn.Err)
	}
	if rle.RetryAfter != 2*time.Second {
		t.Fatalf("expected Retry-After header honored, got %v", rle.RetryAfter)
	}
}

func TestStreamTurnFailedClassified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"turn.failed\",\"turn_id\":\"turn_3\",\"message\":\"Your prompt is too long for this model's context window\"}\n\n")
	}))
	defer server.Close()

	stream := testClient(server.URL).Stream(context.Background(), Request{})
	turn := <-stream.Result()

	if !IsContextLengthExceeded(turn.Err) {
		t.Fatalf("expected context length classification, got %v", turn.Err)
	}
	if turn.Status != TurnStatusFailed {
		t.Fatalf("expected failed status, got %q", turn.Status)
	}
}

func TestStreamHandlesLargeSSELine(t *testing.T) {
	largeText := strings.Repeat("x", 70*1024)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: {\"type\":\"item.done\",\"item\":{\"type\":\"message\",\"role\":\"assistant\",\"content\":%q}}\n\n", largeText)
		fmt.Fprint(w, "data: {\"type\":\"turn.completed\",\"turn_id\":\"turn_1\",\"status\":\"completed\"}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	stream := testClient(server.URL).Stream(context.Background(), Request{})

	var content string
	for res := range stream.Iterator(context.Background()) {
		ev := res.Value
		if ev.Type == EventError {
			t.Fatalf("unexpected error event for large SSE line: %v", ev.Err)
		}
		if ev.Type == EventItemDone {
			content = ev.Item.Content
		}
	}

	if len(content) != len(largeText) {
		t.Fatalf("unexpected content length: got %d want %d", len(content), len(largeText))
	}
}

func TestStreamTruncatedWithoutTerminal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"item.done\",\"item\":{\"type\":\"message\",\"role\":\"assistant\",\"content\":\"partial\"}}\n\n")
		// Connection closes with no turn.completed.
	}))
	defer server.Close()

	stream := testClient(server.URL).Stream(context.Background(), Request{})
	turn := <-stream.Result()

	if turn.Err == nil {
		t.Fatal("expected error for truncated stream")
	}
	if !IsRetryable(turn.Err) {
		t.Fatalf("expected truncated stream to be retryable, got %v", turn.Err)
	}
}

func TestCompleteCollectsAssistantText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"item.done\",\"item\":{\"type\":\"message\",\"role\":\"assistant\",\"content\":\"first\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"item.done\",\"item\":{\"type\":\"reasoning\",\"text\":\"hidden\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"item.done\",\"item\":{\"type\":\"message\",\"role\":\"assistant\",\"content\":\"second\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"turn.completed\",\"turn_id\":\"turn_2\",\"status\":\"completed\"}\n\n")
	}))
	defer server.Close()

	text, turn, err := testClient(server.URL).Complete(context.Background(), Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "first\nsecond" {
		t.Fatalf("unexpected text: %q", text)
	}
	if turn.ID != "turn_2" {
		t.Fatalf("unexpected turn id: %q", turn.ID)
	}
}

func TestParseRetryAfterHeader(t *testing.T) {
	if got := parseRetryAfterHeader("5"); got != 5*time.Second {
		t.Fatalf("expected 5s from integer header, got %v", got)
	}
	future := time.Now().Add(2 * time.Second).UTC().Format(http.TimeFormat)
	if got := parseRetryAfterHeader(future); got <= 0 {
		t.Fatalf("expected positive duration from http-date header, got %v", got)
	}
	if got := parseRetryAfterHeader("invalid"); got != 0 {
		t.Fatalf("expected 0 from invalid header, got %v", got)
	}
}
