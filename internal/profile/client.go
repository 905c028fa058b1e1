package profile

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ClientConfig configures the HTTP lookup client.
type ClientConfig struct {
	BaseURL    string
	Timeout    time.Duration // per request; default 5s
	RatePerSec int           // upstream token bucket; <=0 disables throttling
	HTTPClient *http.Client
}

// Client implements Lookup as GET {base}/{id}.
type Client struct {
	base    string
	hc      *http.Client
	limiter *rate.Limiter
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	c := &Client{
		base: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		hc:   hc,
	}
	if cfg.RatePerSec > 0 {
		// Burst = rate so a burst of new speakers isn't serialized one by one.
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	return c
}

func (c *Client) Fetch(ctx context.Context, id string) (Profile, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Profile{}, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/"+url.PathEscape(id), nil)
	if err != nil {
		return Profile{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return Profile{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return Profile{}, &StatusError{Code: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Profile{}, fmt.Errorf("profile: read body: %w", err)
	}
	return DecodeProfile(body)
}
