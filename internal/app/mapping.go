package app

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/CCasusensa/ArtaleBroadcast/internal/config"
	"github.com/CCasusensa/ArtaleBroadcast/internal/delivery"
	"github.com/CCasusensa/ArtaleBroadcast/internal/observability/ops"
	"github.com/CCasusensa/ArtaleBroadcast/internal/profile"
	"github.com/CCasusensa/ArtaleBroadcast/internal/storage"
	"github.com/CCasusensa/ArtaleBroadcast/internal/stream"
	logx "github.com/CCasusensa/ArtaleBroadcast/pkg/logx"
)

const (
	defaultProfileSweep = "@every 10m"
	defaultStoragePrune = "@every 1h"
	userAgent           = "ArtaleBroadcast"
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStreamConfig(cfg *config.Config) (stream.Config, error) {
	sc := cfg.Stream
	out := stream.Config{URL: strings.TrimSpace(sc.URL)}
	var err error
	if out.BackoffMin, err = config.ParseDurationField("stream.backoff_min", sc.BackoffMin); err != nil {
		return stream.Config{}, err
	}
	if out.BackoffMax, err = config.ParseDurationField("stream.backoff_max", sc.BackoffMax); err != nil {
		return stream.Config{}, err
	}
	if out.HandshakeTimeout, err = config.ParseDurationField("stream.handshake_timeout", sc.HandshakeTimeout); err != nil {
		return stream.Config{}, err
	}
	if out.PingInterval, err = config.ParseDurationField("stream.ping_interval", sc.PingInterval); err != nil {
		return stream.Config{}, err
	}
	if len(sc.Headers) > 0 {
		out.Header = http.Header{}
		for k, v := range sc.Headers {
			out.Header.Set(k, v)
		}
	}
	return out, nil
}

func mapWebhookConfig(cfg *config.Config) (delivery.WebhookConfig, error) {
	timeout, err := config.ParseDurationOrDefault("webhook.timeout", cfg.Webhook.Timeout, 10*time.Second)
	if err != nil {
		return delivery.WebhookConfig{}, err
	}
	return delivery.WebhookConfig{
		URL:       strings.TrimSpace(cfg.Webhook.URL),
		Timeout:   timeout,
		UserAgent: userAgent,
	}, nil
}

func mapDeliveryConfig(cfg *config.Config) (delivery.Config, error) {
	pacing, err := config.ParseDurationOrDefault("webhook.pacing", cfg.Webhook.Pacing, delivery.DefaultPacing)
	if err != nil {
		return delivery.Config{}, err
	}
	retry, err := config.ParseDurationOrDefault("webhook.default_retry_after", cfg.Webhook.DefaultRetryAfter, delivery.DefaultRetryAfter)
	if err != nil {
		return delivery.Config{}, err
	}
	return delivery.Config{Pacing: pacing, DefaultRetryAfter: retry}, nil
}

func mapProfileTTL(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("profile.ttl", cfg.Profile.TTL, profile.DefaultTTL)
}

// mapProfileBreaker returns a zero Trip when the breaker is off.
func mapProfileBreaker(cfg *config.Config) (profile.BreakerConfig, error) {
	cooldown, err := config.ParseDurationOrDefault("profile.breaker_cooldown", cfg.Profile.BreakerCooldown, 5*time.Second)
	if err != nil {
		return profile.BreakerConfig{}, err
	}
	return profile.BreakerConfig{Trip: cfg.Profile.BreakerTrip, Cooldown: cooldown}, nil
}

// mapProfileClient returns ok=false when enrichment is disabled (no base URL).
func mapProfileClient(cfg *config.Config) (profile.ClientConfig, bool, error) {
	base := strings.TrimSpace(cfg.Profile.BaseURL)
	if base == "" {
		return profile.ClientConfig{}, false, nil
	}
	timeout, err := config.ParseDurationOrDefault("profile.timeout", cfg.Profile.Timeout, 5*time.Second)
	if err != nil {
		return profile.ClientConfig{}, false, err
	}
	rps := cfg.Profile.RatePerSec
	if rps == 0 {
		rps = 5
	}
	return profile.ClientConfig{BaseURL: base, Timeout: timeout, RatePerSec: rps}, true, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapOpsConfig(cfg *config.Config) (ops.Config, error) {
	oc := cfg.Ops
	read, err := config.ParseDurationOrDefault("ops.read_timeout", oc.ReadTimeout, 10*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	// pprof profile/trace endpoints stream for up to 30s by default.
	write, err := config.ParseDurationOrDefault("ops.write_timeout", oc.WriteTimeout, 60*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("ops.idle_timeout", oc.IdleTimeout, 60*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	return ops.Config{
		Enabled:       oc.Enabled,
		Addr:          strings.TrimSpace(oc.Addr),
		Pprof:         oc.Pprof,
		Token:         strings.TrimSpace(oc.Token),
		AllowInsecure: oc.AllowInsecure,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

func housekeepingSchedules(cfg *config.Config) (sweep, prune string) {
	sweep, prune = strings.TrimSpace(cfg.Housekeeping.ProfileSweep), strings.TrimSpace(cfg.Housekeeping.StoragePrune)
	if sweep == "" {
		sweep = defaultProfileSweep
	}
	if prune == "" {
		prune = defaultStoragePrune
	}
	return sweep, prune
}
