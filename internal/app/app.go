// Package app wires configuration, storage, the missed-hour scheduler,
// and the reminder/notification pipeline into one runnable unit.
package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"hourkeep/internal/analysis"
	"hourkeep/internal/config"
	"hourkeep/internal/eventbus"
	"hourkeep/internal/export"
	"hourkeep/internal/notifier"
	"hourkeep/internal/observability/pprof"
	"hourkeep/internal/reminder"
	rtsup "hourkeep/internal/runtime/supervisor"
	"hourkeep/internal/schedule"
	"hourkeep/internal/storage"
	logx "hourkeep/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	sched *schedule.Scheduler
	notif *notifier.Service
	rem   *reminder.Service
	anal  *analysis.Service
	pprof *pprof.Service
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	sched := schedule.New(store, bus, log.With(logx.String("comp", "schedule")))

	channels, err := buildChannels(cfg, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	notifSvc := notifier.New(ncfg, channels, log.With(logx.String("comp", "notifier")), bus)

	remSvc := reminder.New(mapReminderConfig(cfg), sched, notifSvc, bus,
		log.With(logx.String("comp", "reminder")))

	acfg, err := mapAnalysisConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	analSvc := analysis.New(acfg, store, log.With(logx.String("comp", "analysis")))

	pprofCfg, err := mapPprofConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	pprofSvc := pprof.New(pprofCfg, log.With(logx.String("comp", "pprof")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		sched:   sched,
		notif:   notifSvc,
		rem:     remSvc,
		anal:    analSvc,
		pprof:   pprofSvc,
	}, nil
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
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapNotifierConfig(cfg); err != nil {
			return err
		}
		if _, err := mapAnalysisConfig(cfg); err != nil {
			return err
		}
		if _, err := mapPprofConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	// Operational breadcrumb: when did the previous run start.
	if prev, ok, err := a.store.Setting(a.sup.Context(), "last_started_at"); err == nil && ok {
		a.log.Debug("previous run", logx.String("started_at", prev))
	}
	if err := a.store.SetSetting(a.sup.Context(), "last_started_at", time.Now().Format(time.RFC3339)); err != nil {
		a.log.Warn("could not record start time", logx.Err(err))
	}

	// Seed today's hours and the missed baseline before any trigger fires.
	if err := a.sched.Initialize(a.sup.Context()); err != nil {
		return fmt.Errorf("initialize activity log: %w", err)
	}
	a.log.Info("activity log initialized", logx.Int("missed", a.sched.MissedCount()))

	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}
	if a.rem.Enabled() {
		a.rem.Start(a.sup.Context())
	}
	if a.pprof.Enabled() {
		a.pprof.Start(a.sup.Context())
	}

	// Surface activity state changes in the log; everything else stays at debug.
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
				switch e.Type {
				case eventbus.TypeMissedChanged:
					if count, ok := e.Data.(int); ok {
						a.log.Info("missed hours changed", logx.Int("count", count))
					}
				case eventbus.TypeRecorded:
					if hours, ok := e.Data.([]time.Time); ok {
						a.log.Info("activity recorded", logx.Int("hours", len(hours)))
					}
				default:
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		}
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				sections, attrs := config.SummarizeChange(lastApplied, newCfg)
				lastApplied = newCfg
				if len(sections) == 0 {
					a.log.Debug("config reload received, but no effective changes detected")
					continue
				}
				a.applyReload(c, newCfg, sections)

				fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
				a.log.Info("config reloaded", fields...)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	// Under systemd Type=notify this flips the unit to active; elsewhere it's a no-op.
	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify: ready")
	}

	a.log.Info("app started")
	return nil
}

// applyReload pushes a validated config into the running services.
func (a *App) applyReload(ctx context.Context, cfg *config.Config, sections []string) {
	for _, s := range sections {
		if s == "storage" {
			a.log.Warn("storage config changed; restart required for changes to take effect")
		}
		if s == "channels" {
			a.log.Warn("channels config changed; restart required for changes to take effect")
		}
	}

	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	// notifier (live)
	prevNotifEnabled := a.notif.Enabled()
	if ncfg, err := mapNotifierConfig(cfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
		if prevNotifEnabled && !ncfg.Enabled {
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		} else if !prevNotifEnabled && ncfg.Enabled {
			a.log.Info("notifier enabled via config")
			a.notif.Start(ctx)
		}
	}

	// reminder (live)
	prevRemEnabled := a.rem.Enabled()
	rcfg := mapReminderConfig(cfg)
	a.rem.Apply(rcfg)
	if prevRemEnabled && !rcfg.Enabled {
		a.log.Info("reminder disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.rem.Stop(stopCtx)
		cancel()
	} else if !prevRemEnabled && rcfg.Enabled {
		a.log.Info("reminder enabled via config")
		a.rem.Start(ctx)
	}

	// analysis (live; client redials lazily on model/key change)
	if acfg, err := mapAnalysisConfig(cfg); err != nil {
		a.log.Warn("invalid analysis config; keeping previous", logx.Err(err))
	} else {
		a.anal.Apply(acfg)
	}

	// pprof (live)
	if ppc, err := mapPprofConfig(cfg); err != nil {
		a.log.Warn("invalid pprof config; keeping previous", logx.Err(err))
	} else {
		a.pprof.Reconfigure(ctx, ppc)
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// Cancel the run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Run each shutdown step with an upper bound so one component can't
	// stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
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
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("reminder", 2*time.Second, func(c context.Context) error { a.rem.Stop(c); return nil })
	step("pprof", 1*time.Second, func(c context.Context) error { a.pprof.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

// MissedHours reports the currently missed hour markers without starting
// any background services.
func (a *App) MissedHours(ctx context.Context) ([]time.Time, error) {
	return a.sched.MissedHours(ctx)
}

// Record stores text for the given hours. With no hours given it fills
// every currently missed hour, which is the common "catch up" action.
func (a *App) Record(ctx context.Context, hours []time.Time, text string) ([]time.Time, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("activity text is empty")
	}
	if len(hours) == 0 {
		missed, err := a.sched.MissedHours(ctx)
		if err != nil {
			return nil, err
		}
		if len(missed) == 0 {
			return nil, nil
		}
		hours = missed
	}
	if err := a.sched.RecordActivity(ctx, hours, text); err != nil {
		return nil, err
	}
	return hours, nil
}

// SaveNote attaches a free-text note to today.
func (a *App) SaveNote(ctx context.Context, text string) error {
	return a.store.SaveDailyNote(ctx, time.Now(), text)
}

// Analyze runs (or serves from cache) an LLM review of the named range.
func (a *App) Analyze(ctx context.Context, rangeName string) (*analysis.Report, error) {
	return a.anal.Analyze(ctx, rangeName)
}

// Export writes the full activity log to w in the given format
// ("json" or "text") without starting any background services.
func (a *App) Export(ctx context.Context, format string, w io.Writer) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return export.WriteJSON(ctx, w, a.store)
	case "text", "txt":
		return export.WriteText(ctx, w, a.store)
	default:
		return fmt.Errorf("unknown export format %q (want json or text)", format)
	}
}

// Close releases resources for an App that was never started (export mode).
func (a *App) Close() error {
	if a.logs != nil {
		defer a.logs.Close()
	}
	return a.store.Close()
}
