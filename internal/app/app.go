// Package app owns every long-lived component of the relay and wires them
// together: stream -> relay handler -> profile cache -> delivery queue.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/CCasusensa/ArtaleBroadcast/internal/config"
	"github.com/CCasusensa/ArtaleBroadcast/internal/delivery"
	"github.com/CCasusensa/ArtaleBroadcast/internal/eventbus"
	"github.com/CCasusensa/ArtaleBroadcast/internal/housekeeping"
	"github.com/CCasusensa/ArtaleBroadcast/internal/observability/metrics"
	"github.com/CCasusensa/ArtaleBroadcast/internal/observability/ops"
	"github.com/CCasusensa/ArtaleBroadcast/internal/profile"
	"github.com/CCasusensa/ArtaleBroadcast/internal/relay"
	"github.com/CCasusensa/ArtaleBroadcast/internal/runtime/supervisor"
	"github.com/CCasusensa/ArtaleBroadcast/internal/storage"
	"github.com/CCasusensa/ArtaleBroadcast/internal/stream"
	logx "github.com/CCasusensa/ArtaleBroadcast/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	profiles *profile.Cache
	queue    *delivery.Queue
	handler  *relay.Handler
	stream   *stream.Client
	metrics  *metrics.Collector
	ops      *ops.Server
	hk       *housekeeping.Service
	hkOn     bool

	// notify reports service state to systemd; a no-op outside a unit.
	notify func(state string)
}

// New loads the config at cfgPath (empty means environment only) and builds
// every component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogging(cfg))
	a, err := build(cfgm, cfg, logSvc, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func build(cfgm *config.ConfigManager, cfg *config.Config, logSvc *logx.Service, root logx.Logger) (*App, error) {
	log := root.With(logx.String("comp", "app"))
	bus := eventbus.New()

	// Storage (optional)
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}
	fail := func(err error) (*App, error) {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}

	// Profile enrichment
	ttl, err := mapProfileTTL(cfg)
	if err != nil {
		return fail(err)
	}
	var lookup profile.Lookup
	if pc, enabled, err := mapProfileClient(cfg); err != nil {
		return fail(err)
	} else if enabled {
		lookup = profile.NewClient(pc)
		bc, err := mapProfileBreaker(cfg)
		if err != nil {
			return fail(err)
		}
		if bc.Trip > 0 {
			lookup = profile.NewBreaker(lookup, bc, root.With(logx.String("comp", "profile")))
		}
	} else {
		log.Info("profile lookup disabled; messages are relayed without avatars")
	}
	var persist profile.Store
	if store != nil {
		persist = store
	}
	cache := profile.New(ttl, lookup, root.With(logx.String("comp", "profile")), bus, persist)
	if store != nil {
		lctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		entries, err := store.LoadProfiles(lctx, time.Now())
		cancel()
		if err != nil {
			log.Warn("profile warm-up failed", logx.Err(err))
		} else if n := cache.Warm(entries); n > 0 {
			log.Info("profile cache warmed", logx.Int("entries", n))
		}
	}

	// Delivery
	wcfg, err := mapWebhookConfig(cfg)
	if err != nil {
		return fail(err)
	}
	wh, err := delivery.NewWebhook(wcfg)
	if err != nil {
		return fail(err)
	}
	dcfg, err := mapDeliveryConfig(cfg)
	if err != nil {
		return fail(err)
	}
	queue := delivery.NewQueue(dcfg, wh, root.With(logx.String("comp", "delivery")), bus)

	handler := relay.NewHandler(cache, queue, root.With(logx.String("comp", "relay")), bus)

	scfg, err := mapStreamConfig(cfg)
	if err != nil {
		return fail(err)
	}
	sc, err := stream.NewClient(scfg, handler, root.With(logx.String("comp", "stream")), bus)
	if err != nil {
		return fail(err)
	}

	a := &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		profiles: cache,
		queue:    queue,
		handler:  handler,
		stream:   sc,
		metrics:  metrics.New(),
		notify:   sdNotify,
	}

	ocfg, err := mapOpsConfig(cfg)
	if err != nil {
		return fail(err)
	}
	a.ops = ops.New(ocfg, a.metrics.Registry(), a.health, root.With(logx.String("comp", "ops")))

	a.hk = housekeeping.New(cfg.Housekeeping.Timezone, root.With(logx.String("comp", "housekeeping")))
	a.hkOn = cfg.Housekeeping.Enabled
	if err := a.addHousekeeping(cfg); err != nil {
		return fail(err)
	}
	return a, nil
}

func (a *App) addHousekeeping(cfg *config.Config) error {
	sweep, prune := housekeepingSchedules(cfg)
	if err := a.hk.Add(housekeeping.Job{
		Name:     "profile.sweep",
		Schedule: sweep,
		Timeout:  10 * time.Second,
		Run: func(context.Context) error {
			if n := a.profiles.Sweep(); n > 0 {
				a.log.Debug("expired profiles swept", logx.Int("removed", n), logx.Int("remaining", a.profiles.Len()))
			}
			return nil
		},
	}); err != nil {
		return fmt.Errorf("housekeeping.profile_sweep: %w", err)
	}
	if a.store == nil {
		return nil
	}
	if err := a.hk.Add(housekeeping.Job{
		Name:     "storage.prune",
		Schedule: prune,
		Timeout:  30 * time.Second,
		Run: func(ctx context.Context) error {
			n, err := a.store.PruneProfiles(ctx, time.Now())
			if err != nil {
				return err
			}
			if n > 0 {
				a.log.Debug("expired profiles pruned from storage", logx.Int("removed", n))
			}
			return nil
		},
	}); err != nil {
		return fmt.Errorf("housekeeping.storage_prune: %w", err)
	}
	return nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return fmt.Errorf("app already started")
	}
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validate)

	c := a.sup.Context()
	a.sup.Go("metrics", func(c context.Context) error { return a.metrics.Run(c, a.bus) })
	a.sup.Go("delivery.queue", a.queue.Run)
	if a.store != nil {
		a.sup.Go0("profile.persist", func(c context.Context) { a.profiles.PersistLoop(c, a.store) })
	}
	a.sup.Go("stream", a.stream.Run)

	if a.ops.Enabled() {
		a.ops.Start(c)
	}
	if a.hkOn {
		a.hk.Start(c)
	}

	// Optional: log events for debugging (components also log on their own).
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c, sub) })
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.notify(daemon.SdNotifyReady)
	a.log.Info("app started")
	return nil
}

// validate is the hot-reload hook: every component mapping must succeed
// before a new config is committed.
func (a *App) validate(_ context.Context, cfg *config.Config) error {
	if _, err := mapStreamConfig(cfg); err != nil {
		return err
	}
	if _, err := mapWebhookConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDeliveryConfig(cfg); err != nil {
		return err
	}
	if _, err := mapProfileTTL(cfg); err != nil {
		return err
	}
	if _, _, err := mapProfileClient(cfg); err != nil {
		return err
	}
	if _, err := mapProfileBreaker(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapOpsConfig(cfg); err != nil {
		return err
	}
	if tz := strings.TrimSpace(cfg.Housekeeping.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("housekeeping.timezone: invalid %q: %w", tz, err)
		}
	}
	sweep, prune := housekeepingSchedules(cfg)
	if err := a.hk.Validate(sweep); err != nil {
		return fmt.Errorf("housekeeping.profile_sweep: %w", err)
	}
	if err := a.hk.Validate(prune); err != nil {
		return fmt.Errorf("housekeeping.storage_prune: %w", err)
	}
	return nil
}

// health reports ok while the stream is open.
func (a *App) health() (bool, any) {
	st := a.stream.State()
	detail := map[string]any{
		"stream":          st.String(),
		"stream_connects": a.stream.Connects(),
		"queue_depth":     a.queue.Len(),
		"draining":        a.queue.Draining(),
		"profiles":        a.profiles.Len(),
	}
	if a.hkOn {
		detail["housekeeping"] = a.hk.Entries()
	}
	return st == stream.StateOpen, detail
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notify(daemon.SdNotifyStopping)

	// Cancel first so every loop starts unwinding immediately.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("housekeeping", 2*time.Second, func(c context.Context) error { a.hk.Stop(c); return nil })
	step("ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	// Stream, queue, persist loop, config watch and reload all exit on cancel.
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	if n := a.queue.Len(); n > 0 {
		a.log.Warn("undelivered messages dropped on shutdown", logx.Int("count", n))
	}
	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func sdNotify(state string) {
	// (false, nil) outside systemd.
	_, _ = daemon.SdNotify(false, state)
}
