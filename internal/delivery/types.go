// Package delivery serialises outbound notifications to a webhook sink.
//
// A single drainer sends payloads strictly in enqueue order. A payload leaves
// the queue only after the sink accepted it; rate limits and transient
// failures keep it at the head and retry it after a wait.
package delivery

import (
	"context"
	"fmt"
	"time"
)

const (
	DefaultPacing     = 2 * time.Second
	DefaultRetryAfter = 3 * time.Second
)

// Payload is the JSON body posted to the sink.
type Payload struct {
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Content   string `json:"content"`
}

// Sink delivers a single payload.
type Sink interface {
	Send(ctx context.Context, p Payload) error
}

// RateLimitedError is returned by a sink that was told to slow down.
// Hinted is false when the sink gave no usable retry-after; an explicit
// zero hint means retry immediately.
type RateLimitedError struct {
	RetryAfter time.Duration
	Hinted     bool
}

func (e *RateLimitedError) Error() string {
	if !e.Hinted {
		return "delivery: rate limited"
	}
	return fmt.Sprintf("delivery: rate limited, retry after %s", e.RetryAfter)
}

// StatusError is a non-2xx, non-429 sink response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("delivery: webhook status %d", e.Code)
	}
	return fmt.Sprintf("delivery: webhook status %d: %s", e.Code, e.Body)
}

// Config tunes the queue drain loop.
type Config struct {
	Pacing            time.Duration // wait after every attempt except rate-limited ones
	DefaultRetryAfter time.Duration // used when a rate limit carries no hint
}

func (c Config) withDefaults() Config {
	if c.Pacing <= 0 {
		c.Pacing = DefaultPacing
	}
	if c.DefaultRetryAfter <= 0 {
		c.DefaultRetryAfter = DefaultRetryAfter
	}
	return c
}

// Event is published on the bus for queue lifecycle changes.
// Keep it small; subscribers may log it.
type Event struct {
	Username   string        `json:"username"`
	Depth      int           `json:"depth"`
	Attempt    int           `json:"attempt,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Error      string        `json:"error,omitempty"`
}
