package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrMissingWebhookURL = errors.New("config: webhook url is required (webhook.url or " + EnvWebhookURL + ")")
	ErrMissingStreamURL  = errors.New("config: stream url is required (stream.url or " + EnvStreamURL + ")")
)

// Validate checks everything that can be checked without touching the
// network. All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config: nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Webhook.URL) == "" {
		add(ErrMissingWebhookURL)
	} else {
		add(checkURL("webhook.url", cfg.Webhook.URL, "http", "https"))
	}
	if strings.TrimSpace(cfg.Stream.URL) == "" {
		add(ErrMissingStreamURL)
	} else {
		add(checkURL("stream.url", cfg.Stream.URL, "ws", "wss"))
	}
	if strings.TrimSpace(cfg.Profile.BaseURL) != "" {
		add(checkURL("profile.base_url", cfg.Profile.BaseURL, "http", "https"))
	}
	if cfg.Profile.RatePerSec < 0 {
		add(fmt.Errorf("profile.rate_per_sec: must be >= 0"))
	}
	if cfg.Profile.BreakerTrip < 0 {
		add(fmt.Errorf("profile.breaker_trip: must be >= 0"))
	}

	durations := []struct{ path, raw string }{
		{"stream.backoff_min", cfg.Stream.BackoffMin},
		{"stream.backoff_max", cfg.Stream.BackoffMax},
		{"stream.handshake_timeout", cfg.Stream.HandshakeTimeout},
		{"stream.ping_interval", cfg.Stream.PingInterval},
		{"webhook.pacing", cfg.Webhook.Pacing},
		{"webhook.default_retry_after", cfg.Webhook.DefaultRetryAfter},
		{"webhook.timeout", cfg.Webhook.Timeout},
		{"profile.ttl", cfg.Profile.TTL},
		{"profile.timeout", cfg.Profile.Timeout},
		{"profile.breaker_cooldown", cfg.Profile.BreakerCooldown},
		{"ops.read_timeout", cfg.Ops.ReadTimeout},
		{"ops.write_timeout", cfg.Ops.WriteTimeout},
		{"ops.idle_timeout", cfg.Ops.IdleTimeout},
	}
	for _, d := range durations {
		_, err := ParseDurationField(d.path, d.raw)
		add(err)
	}
	if cfg.Storage != nil {
		_, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		add(err)
		switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
		case "", "none", "file", "sqlite":
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
		}
	}
	if lo, err := ParseDurationField("", cfg.Stream.BackoffMin); err == nil && lo > 0 {
		if hi, err := ParseDurationField("", cfg.Stream.BackoffMax); err == nil && hi > 0 && hi < lo {
			add(fmt.Errorf("stream.backoff_max: must be >= backoff_min"))
		}
	}
	return errors.Join(errs...)
}

func checkURL(path, raw string, schemes ...string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if u.Host == "" {
		return fmt.Errorf("%s: missing host", path)
	}
	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) {
			return nil
		}
	}
	return fmt.Errorf("%s: scheme %q not allowed (want %s)", path, u.Scheme, strings.Join(schemes, "/"))
}
