package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

const validYAML = `
stream:
  url: wss://feed.example.com/ws
  headers:
    Authorization: Bearer abc
  ping_interval: 30s
webhook:
  url: https://discord.com/api/webhooks/1/x
  pacing: 1500ms
profile:
  base_url: https://profile.example.com/api/profile
  ttl: 5m
logging:
  level: debug
  console: false
`

func TestParseYAMLAndJSON(t *testing.T) {
	m := NewConfigManager(writeFile(t, "relay.yaml", validYAML))
	m.getenv = envMap(nil)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Stream.Headers["Authorization"] != "Bearer abc" || cfg.Webhook.Pacing != "1500ms" || cfg.Profile.TTL != "5m" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Logging.Console {
		t.Fatal("explicit console:false should override the default")
	}

	js := `{"stream":{"url":"ws://127.0.0.1:1/x"},"webhook":{"url":"http://127.0.0.1:2/hook"}}`
	m = NewConfigManager(writeFile(t, "relay.json", js))
	m.getenv = envMap(nil)
	cfg, err = m.Load()
	if err != nil {
		t.Fatalf("Load() json error: %v", err)
	}
	if !cfg.Logging.Console || cfg.Logging.Level != "info" {
		t.Fatalf("defaults not applied: %+v", cfg.Logging)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name, file, body string
	}{
		{"unknown field", "c.json", `{"stream":{"url":"ws://h/x","bogus":1}}`},
		{"trailing data", "c.json", `{} {}`},
		{"bad yaml", "c.yaml", "stream: [\n"},
		{"unknown yaml key", "c.yml", "telegram:\n  token: x\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewConfigManager(writeFile(t, tt.file, tt.body))
			if _, err := m.Parse(); err == nil {
				t.Fatal("Parse() should fail")
			}
		})
	}
}

func TestEnvOverridesFile(t *testing.T) {
	m := NewConfigManager(writeFile(t, "relay.yaml", validYAML))
	m.getenv = envMap(map[string]string{
		EnvWebhookURL:  "https://hooks.example.com/override",
		EnvStreamURL:   " ws://override.example.com/feed ",
		EnvProfileBase: "https://p.example.com",
		EnvLogLevel:    "warn",
	})
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Webhook.URL != "https://hooks.example.com/override" ||
		cfg.Stream.URL != "ws://override.example.com/feed" ||
		cfg.Profile.BaseURL != "https://p.example.com" ||
		cfg.Logging.Level != "warn" {
		t.Fatalf("env not applied: %+v", cfg)
	}
}

func TestEnvOnlyWithoutFile(t *testing.T) {
	m := NewConfigManager("")
	m.getenv = envMap(map[string]string{
		EnvWebhookURL: "https://hooks.example.com/x",
		EnvStreamURL:  "wss://feed.example.com",
	})
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Profile.BaseURL != "" {
		t.Fatal("profile should stay disabled")
	}
	if err := m.Watch(context.Background()); err != nil {
		t.Fatalf("Watch() without a file = %v", err)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		c := Defaults()
		c.Webhook.URL = "https://hooks.example.com/x"
		c.Stream.URL = "wss://feed.example.com"
		return c
	}
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr error
		wantSub string
	}{
		{name: "ok", mutate: func(c *Config) {}},
		{name: "missing webhook", mutate: func(c *Config) { c.Webhook.URL = "" }, wantErr: ErrMissingWebhookURL},
		{name: "missing stream", mutate: func(c *Config) { c.Stream.URL = " " }, wantErr: ErrMissingStreamURL},
		{name: "stream scheme", mutate: func(c *Config) { c.Stream.URL = "https://feed.example.com" }, wantSub: "stream.url"},
		{name: "profile no host", mutate: func(c *Config) { c.Profile.BaseURL = "https:///x" }, wantSub: "profile.base_url"},
		{name: "bad duration", mutate: func(c *Config) { c.Webhook.Pacing = "2 seconds" }, wantSub: "webhook.pacing"},
		{name: "negative duration", mutate: func(c *Config) { c.Profile.TTL = "-1m" }, wantSub: "profile.ttl"},
		{name: "backoff order", mutate: func(c *Config) { c.Stream.BackoffMin = "10s"; c.Stream.BackoffMax = "1s" }, wantSub: "backoff_max"},
		{name: "breaker trip", mutate: func(c *Config) { c.Profile.BreakerTrip = -1 }, wantSub: "profile.breaker_trip"},
		{name: "breaker cooldown", mutate: func(c *Config) { c.Profile.BreakerCooldown = "soon" }, wantSub: "profile.breaker_cooldown"},
		{name: "storage driver", mutate: func(c *Config) { c.Storage = &StorageConfig{Driver: "redis"} }, wantSub: "storage.driver"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := Validate(c)
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Validate() = %v, want %v", err, tt.wantErr)
				}
			case tt.wantSub != "":
				if err == nil || !strings.Contains(err.Error(), tt.wantSub) {
					t.Fatalf("Validate() = %v, want mention of %q", err, tt.wantSub)
				}
			default:
				if err != nil {
					t.Fatalf("Validate() = %v", err)
				}
			}
		})
	}
}

func TestReloadPublishesOnlyChanges(t *testing.T) {
	path := writeFile(t, "relay.yaml", validYAML)
	m := NewConfigManager(path)
	m.getenv = envMap(nil)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	if ok, err := m.Reload(context.Background()); ok || err != nil {
		t.Fatalf("Reload() unchanged = %v, %v", ok, err)
	}

	updated := strings.Replace(validYAML, "pacing: 1500ms", "pacing: 3s", 1)
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatal(err)
	}
	if ok, err := m.Reload(context.Background()); !ok || err != nil {
		t.Fatalf("Reload() changed = %v, %v", ok, err)
	}
	got := <-ch
	if got.Webhook.Pacing != "3s" || m.Get().Webhook.Pacing != "3s" {
		t.Fatalf("published pacing = %q", got.Webhook.Pacing)
	}

	m.SetValidator(func(ctx context.Context, cfg *Config) error { return errors.New("nope") })
	if err := os.WriteFile(path, []byte(strings.Replace(updated, "3s", "4s", 1)), 0o600); err != nil {
		t.Fatal(err)
	}
	if ok, err := m.Reload(context.Background()); ok || err == nil {
		t.Fatalf("Reload() with failing validator = %v, %v", ok, err)
	}
	if m.Get().Webhook.Pacing != "3s" {
		t.Fatal("rejected config must not be committed")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	a := Defaults()
	a.Stream.URL = "wss://a"
	a.Webhook.URL = "https://a"
	b := *a
	b.Webhook.Pacing = "5s"
	b.Profile.TTL = "1m"

	changed, _, restart := SummarizeConfigChange(a, &b)
	if strings.Join(changed, ",") != "webhook,profile" {
		t.Fatalf("changed = %v", changed)
	}
	if len(restart) != 0 {
		t.Fatalf("live-reloadable change flagged for restart: %v", restart)
	}

	b.Stream.URL = "wss://b"
	b.Webhook.URL = "https://b"
	changed, _, restart = SummarizeConfigChange(a, &b)
	if strings.Join(restart, ",") != "stream.url,webhook.url" {
		t.Fatalf("restart = %v", restart)
	}
	if changed[0] != "stream" {
		t.Fatalf("changed = %v", changed)
	}
}

func TestLoadDotEnv(t *testing.T) {
	const key = "ARTALE_RELAY_TEST_DOTENV"
	t.Setenv(key, "")
	os.Unsetenv(key)
	p := writeFile(t, ".env", key+"=from-file\n")
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env"), p); err != nil {
		t.Fatalf("LoadDotEnv() error: %v", err)
	}
	if got := os.Getenv(key); got != "from-file" {
		t.Fatalf("%s = %q", key, got)
	}
}
