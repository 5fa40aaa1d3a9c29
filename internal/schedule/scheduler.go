package schedule

import (
	"context"
	"errors"
	"sync"
	"time"

	"hourkeep/internal/eventbus"
	"hourkeep/internal/hourclock"
	logx "hourkeep/pkg/logx"
)

var ErrNoHours = errors.New("no hours to record")

// ActivityLog is the slice of the storage contract the scheduler
// depends on. *storage.Store satisfies it; tests use an in-memory fake.
type ActivityLog interface {
	LastActivityTime(ctx context.Context) (time.Time, bool, error)
	HasActivityForHour(ctx context.Context, hour time.Time) (bool, error)
	UpsertActivities(ctx context.Context, hours []time.Time, text string) error
}

// Scheduler owns the derived "missed hours" state. See the package
// documentation for the model.
type Scheduler struct {
	mu sync.Mutex

	store ActivityLog
	bus   eventbus.Bus
	log   logx.Logger
	clock func() time.Time

	// lastRecorded is the hour marker of the most recent recorded
	// activity. When the log is empty it is seeded to the start of the
	// current day, which caps first-run backfill at the current
	// calendar day; hasRecord distinguishes the seed from a real
	// record, because only a real record shifts the scan start past
	// its own hour.
	lastRecorded time.Time
	hasRecord    bool

	currentHour time.Time
	missedCount int
	initialized bool
}

type Option func(*Scheduler)

// WithClock replaces the wall-clock source. Tests use this to pin "now".
func WithClock(fn func() time.Time) Option {
	return func(s *Scheduler) { s.clock = fn }
}

func New(store ActivityLog, bus eventbus.Bus, log logx.Logger, opts ...Option) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{
		store: store,
		bus:   bus,
		log:   log,
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize resets derived state from the store and the clock, then
// announces the missed-hour count unconditionally (the baseline for
// later edge-triggered emissions). Calling it again recomputes from
// scratch.
func (s *Scheduler) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.initializeLocked(ctx)
	return err
}

func (s *Scheduler) initializeLocked(ctx context.Context) ([]time.Time, error) {
	if err := s.reloadLocked(ctx); err != nil {
		return nil, err
	}

	missed, err := s.computeMissedLocked(ctx)
	if err != nil {
		return nil, err
	}
	s.missedCount = len(missed)
	s.initialized = true

	s.emitMissedLocked(s.missedCount)
	s.log.Info("scheduler initialized",
		logx.Time("last_recorded", s.lastRecorded),
		logx.Bool("has_record", s.hasRecord),
		logx.Int("missed", s.missedCount))
	return missed, nil
}

// reloadLocked refreshes lastRecorded and currentHour from the store
// and the clock.
func (s *Scheduler) reloadLocked(ctx context.Context) error {
	last, ok, err := s.store.LastActivityTime(ctx)
	if err != nil {
		return err
	}
	now := s.clock()
	if ok {
		s.lastRecorded = hourclock.Truncate(last)
		s.hasRecord = true
	} else {
		s.lastRecorded = hourclock.DayStart(now)
		s.hasRecord = false
	}
	s.currentHour = hourclock.Truncate(now)
	return nil
}

// Refresh recomputes derived state and emits the missed-hour count only
// when it changed since the last observation.
func (s *Scheduler) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked(ctx)
}

func (s *Scheduler) refreshLocked(ctx context.Context) error {
	if !s.initialized {
		_, err := s.initializeLocked(ctx)
		return err
	}
	if err := s.reloadLocked(ctx); err != nil {
		return err
	}
	missed, err := s.computeMissedLocked(ctx)
	if err != nil {
		return err
	}
	if len(missed) != s.missedCount {
		s.missedCount = len(missed)
		s.emitMissedLocked(s.missedCount)
	}
	return nil
}

// MissedHours returns the hour markers with no recorded activity, in
// ascending order, never including the in-progress current hour. It
// lazily initializes on first use and emits the count when it changed.
func (s *Scheduler) MissedHours(ctx context.Context) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return s.initializeLocked(ctx)
	}

	s.currentHour = hourclock.Truncate(s.clock())
	missed, err := s.computeMissedLocked(ctx)
	if err != nil {
		return nil, err
	}
	if len(missed) != s.missedCount {
		s.missedCount = len(missed)
		s.emitMissedLocked(s.missedCount)
	}
	return missed, nil
}

// computeMissedLocked walks forward hour by hour from the scan lower
// bound, collecting hours the store has no record for. It stops before
// currentHour: the hour still in progress cannot be missed yet.
func (s *Scheduler) computeMissedLocked(ctx context.Context) ([]time.Time, error) {
	scan := s.lastRecorded
	if s.hasRecord {
		scan = scan.Add(time.Hour)
	}

	var missed []time.Time
	for h := scan; h.Before(s.currentHour); h = h.Add(time.Hour) {
		ok, err := s.store.HasActivityForHour(ctx, h)
		if err != nil {
			return nil, err
		}
		if !ok {
			missed = append(missed, h)
		}
	}
	return missed, nil
}

// RecordActivity stores text for every hour in hours (overwriting
// existing records), advances lastRecorded monotonically, and refreshes
// derived state so the emitted count reflects the write immediately.
func (s *Scheduler) RecordActivity(ctx context.Context, hours []time.Time, text string) error {
	if len(hours) == 0 {
		return ErrNoHours
	}
	marks := make([]time.Time, len(hours))
	for i, h := range hours {
		marks[i] = hourclock.Truncate(h)
	}

	if err := s.store.UpsertActivities(ctx, marks, text); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	latest := marks[0]
	for _, h := range marks[1:] {
		if h.After(latest) {
			latest = h
		}
	}
	// Backfilling earlier hours must never move lastRecorded backward.
	if !s.hasRecord || latest.After(s.lastRecorded) {
		s.lastRecorded = latest
		s.hasRecord = true
	}

	if s.bus != nil {
		s.bus.Publish(eventbus.Recorded(marks))
	}
	s.log.Debug("activity recorded",
		logx.Int("hours", len(marks)),
		logx.Time("latest", latest))

	return s.refreshLocked(ctx)
}

// MissedCount returns the most recently computed count without touching
// the store. Cheap accessor for UI polling.
func (s *Scheduler) MissedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.missedCount
}

// LastRecorded reports the current scan lower bound and whether it
// comes from a real record (as opposed to the day-start seed).
func (s *Scheduler) LastRecorded() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRecorded, s.hasRecord
}

func (s *Scheduler) emitMissedLocked(count int) {
	if s.bus != nil {
		s.bus.Publish(eventbus.MissedChanged(count))
	}
}
