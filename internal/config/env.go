package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override file settings.
const (
	EnvWebhookURL  = "DISCORD_WEBHOOK_URL"
	EnvStreamURL   = "WS_URL"
	EnvProfileBase = "NEXON_MSW_PROFILE_API_BASE"
	EnvLogLevel    = "LOG_LEVEL"
)

// LoadDotEnv loads KEY=VALUE pairs from the given files (default ".env")
// into the process environment. Missing files are ignored; variables
// already set are not overwritten.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// ApplyEnv overlays non-empty environment values onto cfg. getenv defaults
// to os.Getenv.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if cfg == nil {
		return
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.Webhook.URL, EnvWebhookURL)
	set(&cfg.Stream.URL, EnvStreamURL)
	set(&cfg.Profile.BaseURL, EnvProfileBase)
	set(&cfg.Logging.Level, EnvLogLevel)
}
