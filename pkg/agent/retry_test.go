package agent

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/quilldev/quill/pkg/llm"
)

func TestRetryableClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limit", &llm.RateLimitError{StatusCode: 429}, true},
		{"server error", &llm.APIError{StatusCode: 503, Message: "overloaded"}, true},
		{"transport error", &llm.APIError{StatusCode: 0, Message: "stream ended without turn completion"}, true},
		{"truncated read", io.ErrUnexpectedEOF, true},
		{"deadline", context.DeadlineExceeded, true},
		{"user cancel", context.Canceled, false},
		{"context overflow", &llm.ContextLengthExceededError{StatusCode: 400}, false},
		{"invalid request", &llm.InvalidRequestError{StatusCode: 400, Code: "unknown_parameter"}, false},
		{"client error", &llm.APIError{StatusCode: 404, Message: "not found"}, false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestDelayServerHintWins(t *testing.T) {
	cfg := DefaultRetryConfig()
	err := &llm.RateLimitError{StatusCode: 429, RetryAfter: 2 * time.Second}

	d, kind := cfg.Delay(err, 1)
	if d != 2*time.Second {
		t.Errorf("delay = %v, want 2s from the server hint", d)
	}
	if kind != RetryRateLimit {
		t.Errorf("kind = %q, want %q", kind, RetryRateLimit)
	}

	// The hint overrides the schedule on later retries too.
	if d, _ := cfg.Delay(err, 3); d != 2*time.Second {
		t.Errorf("delay on retry 3 = %v, want 2s", d)
	}
}

func TestDelayRateLimitBackoff(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 5, BaseDelay: time.Second, RateLimitBase: 100 * time.Millisecond, MaxDelay: time.Minute}
	err := &llm.RateLimitError{StatusCode: 429}

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond}
	for i, w := range want {
		d, kind := cfg.Delay(err, i+1)
		if d != w {
			t.Errorf("retry %d: delay = %v, want %v", i+1, d, w)
		}
		if kind != RetryRateLimit {
			t.Errorf("retry %d: kind = %q, want %q", i+1, kind, RetryRateLimit)
		}
	}
}

func TestDelayRateLimitCappedAtMax(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 10, BaseDelay: time.Second, RateLimitBase: 30 * time.Second, MaxDelay: time.Minute}
	d, _ := cfg.Delay(&llm.RateLimitError{}, 5)
	if d != time.Minute {
		t.Errorf("delay = %v, want the 1m cap", d)
	}
}

func TestDelayTransientIsFixed(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 4, BaseDelay: 250 * time.Millisecond, RateLimitBase: time.Second, MaxDelay: time.Minute}
	err := &llm.APIError{StatusCode: 502, Message: "bad gateway"}

	for _, n := range []int{1, 2, 3} {
		d, kind := cfg.Delay(err, n)
		if d != 250*time.Millisecond {
			t.Errorf("retry %d: delay = %v, want a fixed 250ms", n, d)
		}
		if kind != RetryTransient {
			t.Errorf("retry %d: kind = %q, want %q", n, kind, RetryTransient)
		}
	}
}

func TestRetryConfigDefaults(t *testing.T) {
	got := RetryConfig{}.withDefaults()
	want := DefaultRetryConfig()
	if got != want {
		t.Errorf("withDefaults() = %+v, want %+v", got, want)
	}

	partial := RetryConfig{MaxAttempts: 2}.withDefaults()
	if partial.MaxAttempts != 2 {
		t.Errorf("MaxAttempts = %d, want the explicit 2 kept", partial.MaxAttempts)
	}
	if partial.BaseDelay != want.BaseDelay {
		t.Errorf("BaseDelay = %v, want default %v", partial.BaseDelay, want.BaseDelay)
	}
}

func TestRetryableWrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("turn failed after 4 attempts: %w", &llm.RateLimitError{StatusCode: 429})
	if !Retryable(wrapped) {
		t.Error("wrapped rate limit should stay retryable")
	}
	wrappedOverflow := fmt.Errorf("turn failed: %w", &llm.ContextLengthExceededError{})
	if Retryable(wrappedOverflow) {
		t.Error("wrapped context overflow must not be retryable")
	}
}
