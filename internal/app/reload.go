package app

import (
	"context"
	"strings"

	"github.com/CCasusensa/ArtaleBroadcast/internal/config"
	logx "github.com/CCasusensa/ArtaleBroadcast/pkg/logx"
)

// reloadLoop applies published configs until ctx is done.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			if newCfg == nil {
				continue
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig pushes the live-reloadable settings (logging, webhook pacing
// and default retry-after, profile TTL) into the running components.
// Everything else is reported as needing a restart.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)

	if a.logs != nil {
		a.logs.Apply(mapLogging(newCfg))
	}

	if dcfg, err := mapDeliveryConfig(newCfg); err != nil {
		a.log.Warn("invalid webhook config; keeping previous", logx.Err(err))
	} else {
		a.queue.Apply(dcfg)
	}

	if ttl, err := mapProfileTTL(newCfg); err != nil {
		a.log.Warn("invalid profile ttl; keeping previous", logx.Err(err))
	} else {
		a.profiles.SetTTL(ttl)
	}

	if len(restart) > 0 {
		a.log.Warn("config changes take effect after restart", logx.String("settings", strings.Join(restart, ",")))
	}
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
