package agent

import (
	"errors"
	"time"

	"github.com/quilldev/quill/pkg/llm"
)

// Retry kinds, used for logging and metrics labels.
const (
	RetryTransient = "transient"
	RetryRateLimit = "rate_limit"
)

// RetryConfig controls how a failed turn request is retried. The request
// payload is never altered between attempts.
type RetryConfig struct {
	// MaxAttempts caps the total number of tries, the first included.
	MaxAttempts int
	// BaseDelay is the fixed wait before re-sending after a transient
	// failure (network trouble, 5xx, timeout).
	BaseDelay time.Duration
	// RateLimitBase seeds the exponential backoff used for throttling
	// responses. A server-suggested delay overrides the computed one.
	RateLimitBase time.Duration
	// MaxDelay bounds any computed wait. Zero means unbounded.
	MaxDelay time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   4,
		BaseDelay:     1 * time.Second,
		RateLimitBase: 2 * time.Second,
		MaxDelay:      60 * time.Second,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.RateLimitBase <= 0 {
		c.RateLimitBase = d.RateLimitBase
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	return c
}

// Delay returns how long to wait before retry number n (1-based) after
// err, and the retry kind. Transient failures wait a fixed BaseDelay;
// rate limits back off exponentially unless the provider suggested a
// delay, which wins outright.
func (c RetryConfig) Delay(err error, n int) (time.Duration, string) {
	var rle *llm.RateLimitError
	if errors.As(err, &rle) {
		if rle.RetryAfter > 0 {
			return rle.RetryAfter, RetryRateLimit
		}
		if n < 1 {
			n = 1
		}
		d := c.RateLimitBase
		for i := 1; i < n; i++ {
			d *= 2
			if c.MaxDelay > 0 && d >= c.MaxDelay {
				d = c.MaxDelay
				break
			}
		}
		if c.MaxDelay > 0 && d > c.MaxDelay {
			d = c.MaxDelay
		}
		return d, RetryRateLimit
	}
	return c.BaseDelay, RetryTransient
}

// Retryable reports whether a failed turn may be re-sent. Context
// overflow and request rejections never retry; rate limits and transient
// infrastructure failures do.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var cle *llm.ContextLengthExceededError
	if errors.As(err, &cle) {
		return false
	}
	var ire *llm.InvalidRequestError
	if errors.As(err, &ire) {
		return false
	}
	var rle *llm.RateLimitError
	if errors.As(err, &rle) {
		return true
	}
	return llm.IsRetryable(err)
}
