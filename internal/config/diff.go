package config

import (
	"reflect"
	"strings"

	logx "github.com/CCasusensa/ArtaleBroadcast/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes URLs, headers or
// tokens), and (3) the changed settings that only take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 12)
	var restart []string
	trim := strings.TrimSpace

	// Stream: nothing here is live-reloadable.
	if trim(oldCfg.Stream.URL) != trim(newCfg.Stream.URL) {
		restart = append(restart, "stream.url")
	}
	if !reflect.DeepEqual(oldCfg.Stream.Headers, newCfg.Stream.Headers) {
		restart = append(restart, "stream.headers")
	}
	if oldCfg.Stream.BackoffMin != newCfg.Stream.BackoffMin ||
		oldCfg.Stream.BackoffMax != newCfg.Stream.BackoffMax ||
		oldCfg.Stream.HandshakeTimeout != newCfg.Stream.HandshakeTimeout ||
		oldCfg.Stream.PingInterval != newCfg.Stream.PingInterval {
		restart = append(restart, "stream.timing")
	}
	if len(restart) > 0 {
		changed = append(changed, "stream")
	}

	// Webhook: pacing and default retry-after are live; url/timeout are not.
	if trim(oldCfg.Webhook.URL) != trim(newCfg.Webhook.URL) {
		restart = append(restart, "webhook.url")
	}
	if oldCfg.Webhook.Timeout != newCfg.Webhook.Timeout {
		restart = append(restart, "webhook.timeout")
	}
	if oldCfg.Webhook != newCfg.Webhook {
		changed = append(changed, "webhook")
		attrs = append(attrs,
			logx.String("webhook.pacing", trim(newCfg.Webhook.Pacing)),
			logx.String("webhook.default_retry_after", trim(newCfg.Webhook.DefaultRetryAfter)),
		)
	}

	// Profile: only ttl is live.
	if trim(oldCfg.Profile.BaseURL) != trim(newCfg.Profile.BaseURL) {
		restart = append(restart, "profile.base_url")
	}
	if oldCfg.Profile.Timeout != newCfg.Profile.Timeout || oldCfg.Profile.RatePerSec != newCfg.Profile.RatePerSec ||
		oldCfg.Profile.BreakerTrip != newCfg.Profile.BreakerTrip || oldCfg.Profile.BreakerCooldown != newCfg.Profile.BreakerCooldown {
		restart = append(restart, "profile.client")
	}
	if oldCfg.Profile != newCfg.Profile {
		changed = append(changed, "profile")
		attrs = append(attrs,
			logx.String("profile.ttl", trim(newCfg.Profile.TTL)),
			logx.Bool("profile.enabled", trim(newCfg.Profile.BaseURL) != ""),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		restart = append(restart, "storage")
	}
	if oldCfg.Housekeeping != newCfg.Housekeeping {
		changed = append(changed, "housekeeping")
		restart = append(restart, "housekeeping")
	}
	// never log token
	if oldCfg.Ops != newCfg.Ops {
		changed = append(changed, "ops")
		restart = append(restart, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", trim(newCfg.Ops.Addr)),
			logx.Bool("ops.token_set", trim(newCfg.Ops.Token) != ""),
		)
	}

	return changed, attrs, restart
}
