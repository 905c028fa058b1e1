package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var ErrNoURL = errors.New("delivery: webhook url is empty")

type WebhookConfig struct {
	URL        string
	Timeout    time.Duration // per request; default 10s
	UserAgent  string
	HTTPClient *http.Client
}

// Webhook posts payloads to a Discord-compatible webhook URL.
type Webhook struct {
	url string
	ua  string
	hc  *http.Client
}

func NewWebhook(cfg WebhookConfig) (*Webhook, error) {
	u := strings.TrimSpace(cfg.URL)
	if u == "" {
		return nil, ErrNoURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "artale-relay"
	}
	return &Webhook{url: u, ua: ua, hc: hc}, nil
}

// Send posts p once. A 429 yields *RateLimitedError; any other non-2xx
// yields *StatusError.
func (w *Webhook) Send(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", w.ua)

	resp, err := w.hc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		d, ok := retryAfter(resp.Header.Get("Retry-After"), respBody)
		return &RateLimitedError{RetryAfter: d, Hinted: ok}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	return nil
}

// retryAfter reads the retry-after header as (fractional) seconds, falling
// back to the JSON body's retry_after field. ok is false when neither holds
// a usable value.
func retryAfter(header string, body []byte) (time.Duration, bool) {
	if d, ok := parseSeconds(header); ok {
		return d, true
	}
	var b struct {
		RetryAfter *float64 `json:"retry_after"`
	}
	if len(body) > 0 && json.Unmarshal(body, &b) == nil && b.RetryAfter != nil {
		if d, ok := secondsToDuration(*b.RetryAfter); ok {
			return d, true
		}
	}
	return 0, false
}

func parseSeconds(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return secondsToDuration(f)
}

func secondsToDuration(f float64) (time.Duration, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, false
	}
	// A day is far beyond anything a webhook asks for; clamp instead of overflowing.
	if f > 86400 {
		f = 86400
	}
	return time.Duration(f * float64(time.Second)), true
}
