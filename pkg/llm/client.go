package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Client streams turns from the completion service.
type Client struct {
	Model      Model
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a client for the given model.
func NewClient(model Model, apiKey string) *Client {
	return &Client{
		Model:      model,
		APIKey:     apiKey,
		HTTPClient: &http.Client{},
	}
}

// Stream opens one streaming turn. Transport failures and non-200
// responses surface as a terminal EventError carrying a classified error;
// the stream itself never returns an error directly.
func (c *Client) Stream(ctx context.Context, req Request) *EventStream[Event, Turn] {
	stream := NewEventStream[Event, Turn](
		func(e Event) bool { return e.Terminal() },
		turnFromEvent,
	)

	go func() {
		defer stream.End(Turn{})

		debugEnabled := slog.Default().Enabled(ctx, slog.LevelDebug)
		logChunks := debugEnabled && os.Getenv("QUILL_LOG_LLM_CHUNKS") == "1"

		if c.APIKey == "" {
			stream.Push(Event{Type: EventError, Err: fmt.Errorf("api key not set for provider %q", c.Model.Provider)})
			return
		}

		req.Stream = true
		if req.Model == "" {
			req.Model = c.Model.ID
		}

		jsonBody, err := json.Marshal(req)
		if err != nil {
			stream.Push(Event{Type: EventError, Err: fmt.Errorf("encode request: %w", err)})
			return
		}
		if debugEnabled {
			slog.Debug("[LLM] request", "model", req.Model, "provider", c.Model.Provider,
				"items", len(req.Items), "tools", len(req.Tools), "bytes", len(jsonBody))
		}

		url := strings.TrimRight(c.Model.BaseURL, "/") + "/responses"

		httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonBody))
		if err != nil {
			stream.Push(Event{Type: EventError, Err: err})
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream")
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)

		httpClient := c.HTTPClient
		if httpClient == nil {
			httpClient = &http.Client{}
		}
		resp, err := httpClient.Do(httpReq)
		if err != nil {
			stream.Push(Event{Type: EventError, Err: fmt.Errorf("connection error: %w", err)})
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			retryAfter := parseRetryAfterHeader(resp.Header.Get("Retry-After"))
			stream.Push(Event{
				Type: EventError,
				Err:  ClassifyAPIErrorWithRetryAfter(resp.StatusCode, string(body), retryAfter),
			})
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		// Single items can carry capped tool output, so the default 64K
		// token limit is not enough.
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

		sawTerminal := false
		for scanner.Scan() {
			line := scanner.Text()

			// SSE format: "data: {...}"
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				break
			}
			if logChunks {
				slog.Debug("[LLM] stream chunk", "bytes", len(data), "json", truncateLine(data, 8192))
			}

			var ev Event
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				continue
			}

			switch ev.Type {
			case EventTurnFailed:
				// In-band failure after a 200: classify from the message so
				// the caller gets the same taxonomy as HTTP-level errors.
				ev.Err = ClassifyAPIError(0, ev.Message)
				stream.Push(ev)
				return
			case EventItemDone, EventItemDelta, EventTurnCompleted:
				if ev.Type == EventTurnCompleted {
					sawTerminal = true
				}
				stream.Push(ev)
				if sawTerminal {
					return
				}
			default:
				// Unknown event types are skipped; the protocol is free to
				// grow without breaking older clients.
			}
		}

		if err := scanner.Err(); err != nil {
			stream.Push(Event{Type: EventError, Err: fmt.Errorf("stream read: %w", err)})
			return
		}
		if !sawTerminal {
			stream.Push(Event{Type: EventError, Err: &APIError{
				Message: "stream ended without turn completion",
			}})
		}
	}()

	return stream
}

// Complete runs one non-streaming turn and returns the concatenated
// assistant message text. Used for auxiliary calls such as summarization.
func (c *Client) Complete(ctx context.Context, req Request) (string, Turn, error) {
	stream := c.Stream(ctx, req)

	var text strings.Builder
	for res := range stream.Iterator(ctx) {
		ev := res.Value
		if ev.Type == EventItemDone && ev.Item != nil &&
			ev.Item.Kind == ItemMessage && ev.Item.Role == RoleAssistant {
			if text.Len() > 0 {
				text.WriteString("\n")
			}
			text.WriteString(ev.Item.Content)
		}
	}

	select {
	case turn := <-stream.Result():
		if turn.Err != nil {
			return "", turn, turn.Err
		}
		return text.String(), turn, nil
	case <-ctx.Done():
		return "", Turn{}, ctx.Err()
	}
}

func turnFromEvent(e Event) Turn {
	t := Turn{ID: e.TurnID, Status: e.Status, Err: e.Err}
	if e.Usage != nil {
		t.Usage = *e.Usage
	}
	switch e.Type {
	case EventTurnCompleted:
		if t.Status == "" {
			t.Status = TurnStatusCompleted
		}
	case EventTurnFailed, EventError:
		if t.Status == "" {
			t.Status = TurnStatusFailed
		}
	}
	return t
}

// parseRetryAfterHeader handles both delta-seconds and HTTP-date forms.
func parseRetryAfterHeader(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func truncateLine(value string, limit int) string {
	if limit <= 0 || len(value) <= limit {
		return value
	}
	if limit <= 3 {
		return value[:limit]
	}
	return value[:limit-3] + "..."
}
