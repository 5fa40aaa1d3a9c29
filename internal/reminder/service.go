package reminder

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"hourkeep/internal/eventbus"
	"hourkeep/internal/hourclock"
	rtsup "hourkeep/internal/runtime/supervisor"
	"hourkeep/internal/schedule"
	"hourkeep/internal/transport"
	logx "hourkeep/pkg/logx"
)

// Config controls the reminder trigger.
type Config struct {
	Enabled bool
	// CheckSpec is the cron spec for the regular poll (default "* * * * *").
	CheckSpec string
	// GraceMinutes bounds the unforced reminder window after each hour
	// boundary (default 5).
	GraceMinutes int
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.CheckSpec) == "" {
		c.CheckSpec = "* * * * *"
	}
	if c.GraceMinutes <= 0 {
		c.GraceMinutes = 5
	}
	return c
}

// Notifier is the slice of the notification pipeline this service needs.
type Notifier interface {
	Notify(ctx context.Context, n transport.Notification) error
}

type Service struct {
	mu sync.Mutex

	cfg   Config
	sched *schedule.Scheduler
	notif Notifier
	bus   eventbus.Bus
	log   logx.Logger
	clock func() time.Time

	parser cron.Parser
	c      *cron.Cron
	sup    *rtsup.Supervisor
}

type Option func(*Service)

// WithClock replaces the wall-clock source used for the grace window.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) { s.clock = fn }
}

func New(cfg Config, sched *schedule.Scheduler, notif Notifier, bus eventbus.Bus, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:    cfg.withDefaults(),
		sched:  sched,
		notif:  notif,
		bus:    bus,
		log:    log,
		clock:  time.Now,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config; when the cadence or enable flag changed while
// running, the cron is restarted.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := cfg.Enabled != s.cfg.Enabled || cfg.CheckSpec != s.cfg.CheckSpec
	s.cfg = cfg
	if s.c == nil || !changed {
		return
	}
	s.stopLocked()
	if cfg.Enabled {
		s.startLocked(context.Background())
	}
}

// Start begins the periodic checks and runs one forced check
// immediately, so missed hours from before this process started are
// surfaced right away.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || !s.cfg.Enabled {
		return
	}
	s.startLocked(ctx)
}

func (s *Service) startLocked(ctx context.Context) {
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "reminder"))))
	sup := s.sup

	s.c = cron.New(cron.WithParser(s.parser))

	spec := s.cfg.CheckSpec
	if _, err := s.c.AddFunc(spec, func() {
		sup.Go0("check", func(c context.Context) { s.Check(c, false) })
	}); err != nil {
		// withDefaults guarantees a spec; a bad user spec falls back.
		s.log.Warn("invalid check spec, falling back to every minute",
			logx.String("spec", spec), logx.Err(err))
		_, _ = s.c.AddFunc("* * * * *", func() {
			sup.Go0("check", func(c context.Context) { s.Check(c, false) })
		})
	}
	// Top of every hour is always a forced check.
	_, _ = s.c.AddFunc("0 * * * *", func() {
		sup.Go0("check.hourly", func(c context.Context) { s.Check(c, true) })
	})

	s.c.Start()
	sup.Go0("check.startup", func(c context.Context) { s.Check(c, true) })
	s.log.Info("reminder service started", logx.String("spec", spec))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	_ = ctx
}

func (s *Service) stopLocked() {
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
	s.c = nil
	if s.sup != nil {
		s.sup.Cancel()
		s.sup = nil
	}
	s.log.Info("reminder service stopped")
}

// Check refreshes the scheduler and sends a reminder when hours are
// missing. Unforced checks only remind within the grace window.
func (s *Service) Check(ctx context.Context, force bool) {
	s.mu.Lock()
	grace := s.cfg.GraceMinutes
	clock := s.clock
	s.mu.Unlock()

	if err := s.sched.Refresh(ctx); err != nil {
		s.log.Error("schedule refresh failed", logx.Err(err))
		return
	}
	missed, err := s.sched.MissedHours(ctx)
	if err != nil {
		s.log.Error("missed-hour scan failed", logx.Err(err))
		return
	}
	if len(missed) == 0 {
		return
	}
	if !force && clock().Minute() >= grace {
		return
	}

	if s.bus != nil {
		s.bus.Publish(eventbus.ReminderDue(missed))
	}
	if s.notif == nil {
		return
	}
	if err := s.notif.Notify(ctx, render(missed)); err != nil {
		s.log.Warn("reminder not delivered", logx.Err(err), logx.Int("missed", len(missed)))
	}
}

// render turns the missed set into one notification. The key encodes
// the set's span and size: as long as the set is unchanged, the
// notifier's dedup window suppresses re-delivery.
func render(missed []time.Time) transport.Notification {
	first, last := missed[0], missed[len(missed)-1]

	var b strings.Builder
	fmt.Fprintf(&b, "You have %d hour(s) to record:\n", len(missed))
	const maxLines = 12
	for i, h := range missed {
		if i == maxLines {
			fmt.Fprintf(&b, "  ... and %d more\n", len(missed)-maxLines)
			break
		}
		b.WriteString("  " + hourclock.FormatRange(h) + "\n")
	}

	return transport.Notification{
		Key:      fmt.Sprintf("reminder:%d:%d:%d", first.Unix(), last.Unix(), len(missed)),
		Title:    "Accountability reminder",
		Body:     strings.TrimRight(b.String(), "\n"),
		Priority: 5,
	}
}
