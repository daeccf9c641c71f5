package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// APIError represents a non-200 API response with no more specific
// classification, server-side failures included.
type APIError struct {
	StatusCode int
	Message    string
	RequestID  string
	Body       string
}

func (e *APIError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = "unknown API error"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("API error (%d): %s", e.StatusCode, msg)
	}
	return "API error: " + msg
}

// InvalidRequestError is a model/service rejection of the request itself.
// It is never retried; the run surfaces the diagnostic detail and ends.
type InvalidRequestError struct {
	StatusCode int
	Code       string
	Type       string
	RequestID  string
	Message    string
	Body       string
}

func (e *InvalidRequestError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = "invalid request"
	}
	var tags []string
	if e.Code != "" {
		tags = append(tags, "code="+e.Code)
	}
	if e.Type != "" {
		tags = append(tags, "type="+e.Type)
	}
	if e.RequestID != "" {
		tags = append(tags, "request_id="+e.RequestID)
	}
	if len(tags) > 0 {
		msg = fmt.Sprintf("%s (%s)", msg, strings.Join(tags, " "))
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("invalid request (%d): %s", e.StatusCode, msg)
	}
	return "invalid request: " + msg
}

// ContextLengthExceededError indicates the request exceeded the model's
// context window. Not retryable; the conversation must shrink first.
type ContextLengthExceededError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *ContextLengthExceededError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = "context length exceeded"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("context length exceeded (%d): %s", e.StatusCode, msg)
	}
	return "context length exceeded: " + msg
}

// RateLimitError indicates provider throttling. RetryAfter carries the
// server-suggested delay when one was present in a header or in the error
// message text.
type RateLimitError struct {
	StatusCode int
	Message    string
	Body       string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = "rate limit exceeded"
	}
	if e.RetryAfter > 0 {
		msg = fmt.Sprintf("%s (retry after %s)", msg, e.RetryAfter.Round(time.Millisecond))
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("API error (%d): %s", e.StatusCode, msg)
	}
	return "API error: " + msg
}

// ClassifyAPIError converts an API response payload into a typed error.
func ClassifyAPIError(statusCode int, payload string) error {
	return ClassifyAPIErrorWithRetryAfter(statusCode, payload, 0)
}

// ClassifyAPIErrorWithRetryAfter converts an API response payload into a
// typed error, preserving a Retry-After hint when available. When the
// header carried no hint, the error message text is scanned for one.
func ClassifyAPIErrorWithRetryAfter(statusCode int, payload string, retryAfter time.Duration) error {
	payload = strings.TrimSpace(payload)
	message := extractAPIErrorField(payload, "message", "detail")
	if message == "" {
		message = payload
	}
	if message == "" {
		message = "unknown API error"
	}

	if looksLikeContextLengthExceeded(message) || looksLikeContextLengthExceeded(payload) {
		return &ContextLengthExceededError{
			StatusCode: statusCode,
			Message:    message,
			Body:       payload,
		}
	}

	if statusCode == 429 || looksLikeRateLimit(message) || looksLikeRateLimit(payload) {
		if retryAfter <= 0 {
			retryAfter = ParseRetryHint(message)
		}
		return &RateLimitError{
			StatusCode: statusCode,
			Message:    message,
			Body:       payload,
			RetryAfter: retryAfter,
		}
	}

	requestID := extractAPIErrorField(payload, "request_id", "requestId", "id")
	if statusCode >= 400 && statusCode < 500 {
		return &InvalidRequestError{
			StatusCode: statusCode,
			Code:       extractAPIErrorField(payload, "code"),
			Type:       extractAPIErrorField(payload, "type"),
			RequestID:  requestID,
			Message:    message,
			Body:       payload,
		}
	}

	return &APIError{
		StatusCode: statusCode,
		Message:    message,
		RequestID:  requestID,
		Body:       payload,
	}
}

// IsContextLengthExceeded reports whether an error is due to context/token
// limits.
func IsContextLengthExceeded(err error) bool {
	if err == nil {
		return false
	}
	var cle *ContextLengthExceededError
	if errors.As(err, &cle) {
		return true
	}
	return looksLikeContextLengthExceeded(err.Error())
}

// IsRateLimit reports whether an error is due to provider throttling.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return true
	}
	return looksLikeRateLimit(err.Error())
}

// IsInvalidRequest reports whether an error is a service rejection of the
// request itself.
func IsInvalidRequest(err error) bool {
	if err == nil {
		return false
	}
	var ire *InvalidRequestError
	return errors.As(err, &ire)
}

// IsRetryable reports whether an error is transient infrastructure
// trouble: network resets, timeouts, 5xx responses. Rate limits retry on
// their own schedule and are excluded here; so are context overflow and
// request rejections.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		// A per-request timeout, not a user cancel.
		return true
	}
	if IsContextLengthExceeded(err) || IsRateLimit(err) || IsInvalidRequest(err) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == 0
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	s := strings.ToLower(err.Error())
	for _, needle := range []string{
		"connection reset",
		"connection refused",
		"broken pipe",
		"unexpected eof",
		"no such host",
		"timeout",
		"temporarily unavailable",
		"tls handshake",
	} {
		if strings.Contains(s, needle) {
			return true
		}
	}
	return false
}

// RetryAfter returns the provider-suggested retry delay for rate-limit
// errors, zero otherwise.
func RetryAfter(err error) time.Duration {
	if err == nil {
		return 0
	}
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle.RetryAfter
	}
	return 0
}

var retryHintPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)try again in\s+(\d+(?:\.\d+)?)\s*(ms|milliseconds?|s|seconds?|m|minutes?)\b`),
	regexp.MustCompile(`(?i)retry[- ]?after[:\s]+(\d+(?:\.\d+)?)\s*(ms|milliseconds?|s|seconds?|m|minutes?)?`),
	regexp.MustCompile(`(?i)wait\s+(\d+(?:\.\d+)?)\s*(ms|milliseconds?|s|seconds?|m|minutes?)\b`),
}

// ParseRetryHint extracts a server-suggested delay from free-form error
// text, e.g. "Please try again in 2 seconds" or "retry-after: 750ms".
// Returns zero when no hint is found. A bare number means seconds.
func ParseRetryHint(message string) time.Duration {
	for _, pat := range retryHintPatterns {
		m := pat.FindStringSubmatch(message)
		if m == nil {
			continue
		}
		value, err := strconv.ParseFloat(m[1], 64)
		if err != nil || value <= 0 {
			continue
		}
		unit := ""
		if len(m) > 2 {
			unit = strings.ToLower(m[2])
		}
		switch {
		case strings.HasPrefix(unit, "ms") || strings.HasPrefix(unit, "millisecond"):
			return time.Duration(value * float64(time.Millisecond))
		case strings.HasPrefix(unit, "m"):
			return time.Duration(value * float64(time.Minute))
		default:
			return time.Duration(value * float64(time.Second))
		}
	}
	return 0
}

// extractAPIErrorField digs a string field out of an API error payload,
// checking the nested error object first, then the top level.
func extractAPIErrorField(payload string, keys ...string) string {
	if payload == "" {
		return ""
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return ""
	}

	// Common OpenAI-compatible format: {"error":{"message":"...", ...}}
	if rawErr, ok := decoded["error"]; ok {
		switch v := rawErr.(type) {
		case string:
			for _, k := range keys {
				if k == "message" {
					return strings.TrimSpace(v)
				}
			}
		case map[string]any:
			for _, k := range keys {
				if s, ok := v[k].(string); ok && strings.TrimSpace(s) != "" {
					return strings.TrimSpace(s)
				}
			}
		}
	}

	for _, k := range keys {
		if s, ok := decoded[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func looksLikeContextLengthExceeded(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return false
	}

	needles := []string{
		"context length",
		"context window",
		"contextwindow",
		"maximum context",
		"max context",
		"context limit",
		"too many tokens",
		"maximum number of tokens",
		"prompt is too long",
		"token limit exceeded",
		"contextlength",
		"context_window_exceeded",
		"contextwindowexceeded",
	}
	for _, needle := range needles {
		if strings.Contains(s, needle) {
			return true
		}
	}
	return false
}

func looksLikeRateLimit(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return false
	}
	needles := []string{
		"rate limit",
		"rate_limit",
		"too many requests",
		"status code: 429",
		"api error (429)",
		"throttle",
		"quota exceeded",
	}
	for _, needle := range needles {
		if strings.Contains(s, needle) {
			return true
		}
	}
	return false
}
