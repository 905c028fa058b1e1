package config

// Config is the relay configuration. Every duration is a Go duration string
// ("500ms", "10s", "1m"); empty means "use the default".
type Config struct {
	Stream       StreamConfig       `json:"stream"`
	Webhook      WebhookConfig      `json:"webhook"`
	Profile      ProfileConfig      `json:"profile"`
	Logging      LoggingConfig      `json:"logging"`
	Storage      *StorageConfig     `json:"storage,omitempty"`
	Housekeeping HousekeepingConfig `json:"housekeeping"`
	Ops          OpsConfig          `json:"ops"`
}

// StreamConfig controls the inbound WebSocket feed.
//
// Defaults: backoff_min 1s, backoff_max 30s, handshake_timeout 10s,
// ping_interval 0s (disabled).
type StreamConfig struct {
	URL string `json:"url"`
	// Headers are sent on every handshake (e.g. an auth token). Values are never logged.
	Headers          map[string]string `json:"headers,omitempty"`
	BackoffMin       string            `json:"backoff_min,omitempty"`
	BackoffMax       string            `json:"backoff_max,omitempty"`
	HandshakeTimeout string            `json:"handshake_timeout,omitempty"`
	PingInterval     string            `json:"ping_interval,omitempty"`
}

// WebhookConfig controls outbound delivery.
//
// Defaults: pacing 2s, default_retry_after 3s, timeout 10s.
type WebhookConfig struct {
	URL               string `json:"url"`
	Pacing            string `json:"pacing,omitempty"`
	DefaultRetryAfter string `json:"default_retry_after,omitempty"`
	Timeout           string `json:"timeout,omitempty"`
}

// ProfileConfig controls avatar enrichment. An empty base_url disables it.
//
// Defaults: ttl 10m, timeout 5s, rate_per_sec 5, breaker_trip 0 (off),
// breaker_cooldown 5s.
type ProfileConfig struct {
	BaseURL    string `json:"base_url"`
	TTL        string `json:"ttl,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	// BreakerTrip short-circuits lookups after this many consecutive
	// upstream failures.
	BreakerTrip     int    `json:"breaker_trip,omitempty"`
	BreakerCooldown string `json:"breaker_cooldown,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the optional profile store used to warm the cache
// after a restart.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./relay.db" }
type StorageConfig struct {
	Driver      string `json:"driver"` // none | file | sqlite
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// HousekeepingConfig schedules periodic maintenance. Schedules accept
// "@every 10m", 5-field cron, an "HH:MM" interval or a bare Go duration.
//
// Defaults: profile_sweep "@every 10m", storage_prune "@every 1h".
type HousekeepingConfig struct {
	Enabled      bool   `json:"enabled"`
	ProfileSweep string `json:"profile_sweep,omitempty"`
	StoragePrune string `json:"storage_prune,omitempty"`
	Timezone     string `json:"timezone,omitempty"`
}

// OpsConfig controls the operations HTTP server (/metrics, /healthz and
// optionally /debug/pprof/).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9090").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default: "127.0.0.1:9090"
	Pprof         bool   `json:"pprof,omitempty"`
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// Defaults returns the configuration used when no file is given. File
// contents are decoded on top of it.
func Defaults() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
	}
}
