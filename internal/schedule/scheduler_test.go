package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"hourkeep/internal/eventbus"
	logx "hourkeep/pkg/logx"
)

type fakeLog struct {
	acts    map[int64]string
	lastErr error
	hasErr  error
}

func newFakeLog() *fakeLog {
	return &fakeLog{acts: map[int64]string{}}
}

func (f *fakeLog) LastActivityTime(ctx context.Context) (time.Time, bool, error) {
	if f.lastErr != nil {
		return time.Time{}, false, f.lastErr
	}
	var last int64
	found := false
	for sec := range f.acts {
		if !found || sec > last {
			last = sec
			found = true
		}
	}
	if !found {
		return time.Time{}, false, nil
	}
	return time.Unix(last, 0).In(time.Local), true, nil
}

func (f *fakeLog) HasActivityForHour(ctx context.Context, hour time.Time) (bool, error) {
	if f.hasErr != nil {
		return false, f.hasErr
	}
	_, ok := f.acts[hour.Unix()]
	return ok, nil
}

func (f *fakeLog) UpsertActivities(ctx context.Context, hours []time.Time, text string) error {
	for _, h := range hours {
		f.acts[h.Unix()] = text
	}
	return nil
}

func (f *fakeLog) put(hour time.Time, text string) { f.acts[hour.Unix()] = text }

func hourAt(h int) time.Time {
	return time.Date(2025, time.March, 14, h, 0, 0, 0, time.Local)
}

func newScheduler(t *testing.T, fake *fakeLog, now time.Time) (*Scheduler, <-chan eventbus.Event) {
	t.Helper()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(64)
	t.Cleanup(unsub)
	s := New(fake, bus, logx.Nop(), WithClock(func() time.Time { return now }))
	return s, ch
}

// drainMissed collects the counts of all queued missed-changed events.
func drainMissed(ch <-chan eventbus.Event) []int {
	var counts []int
	for {
		select {
		case e := <-ch:
			if e.Type == eventbus.TypeMissedChanged {
				counts = append(counts, e.Data.(int))
			}
		default:
			return counts
		}
	}
}

func TestInitializeEmptyLogBackfillsFromDayStart(t *testing.T) {
	s, ch := newScheduler(t, newFakeLog(), hourAt(14).Add(7*time.Minute))

	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	missed, err := s.MissedHours(context.Background())
	if err != nil {
		t.Fatalf("MissedHours: %v", err)
	}
	if len(missed) != 14 {
		t.Fatalf("missed = %d hours, want 14", len(missed))
	}
	if !missed[0].Equal(hourAt(0)) || !missed[13].Equal(hourAt(13)) {
		t.Fatalf("bounds = %v .. %v", missed[0], missed[13])
	}
	if s.MissedCount() != 14 {
		t.Fatalf("MissedCount = %d", s.MissedCount())
	}

	// Baseline announcement is unconditional.
	counts := drainMissed(ch)
	if len(counts) == 0 || counts[0] != 14 {
		t.Fatalf("baseline emit = %v, want [14]", counts)
	}
}

func TestMissedNeverIncludesCurrentHour(t *testing.T) {
	fake := newFakeLog()
	fake.put(hourAt(13), "reading")
	s, _ := newScheduler(t, fake, hourAt(14).Add(59*time.Minute))

	missed, err := s.MissedHours(context.Background())
	if err != nil {
		t.Fatalf("MissedHours: %v", err)
	}
	if len(missed) != 0 {
		t.Fatalf("missed = %v, want none", missed)
	}
}

func TestMissedScanStartsAfterLastRecord(t *testing.T) {
	fake := newFakeLog()
	fake.put(hourAt(9), "standup")
	fake.put(hourAt(11), "review")
	s, _ := newScheduler(t, fake, hourAt(14))

	missed, err := s.MissedHours(context.Background())
	if err != nil {
		t.Fatalf("MissedHours: %v", err)
	}
	want := []time.Time{hourAt(12), hourAt(13)}
	if len(missed) != len(want) {
		t.Fatalf("missed = %v, want %v", missed, want)
	}
	for i := range want {
		if !missed[i].Equal(want[i]) {
			t.Fatalf("missed[%d] = %v, want %v", i, missed[i], want[i])
		}
	}
	for i := 1; i < len(missed); i++ {
		if !missed[i-1].Before(missed[i]) {
			t.Fatalf("not strictly ascending at %d: %v", i, missed)
		}
	}
}

func TestRecordActivityAdvancesLastRecorded(t *testing.T) {
	fake := newFakeLog()
	s, ch := newScheduler(t, fake, hourAt(14))

	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	drainMissed(ch)

	if err := s.RecordActivity(context.Background(), []time.Time{hourAt(9), hourAt(10)}, "standup"); err != nil {
		t.Fatalf("RecordActivity: %v", err)
	}

	last, ok := s.LastRecorded()
	if !ok || !last.Equal(hourAt(10)) {
		t.Fatalf("LastRecorded = %v (ok=%v), want 10:00", last, ok)
	}

	missed, err := s.MissedHours(context.Background())
	if err != nil {
		t.Fatalf("MissedHours: %v", err)
	}
	for _, h := range missed {
		if h.Equal(hourAt(9)) || h.Equal(hourAt(10)) {
			t.Fatalf("recorded hour still missed: %v", h)
		}
	}
	// Scan restarts after the new lastRecorded: 11:00-13:00 remain.
	if len(missed) != 3 {
		t.Fatalf("missed = %v, want 3 hours", missed)
	}

	counts := drainMissed(ch)
	if len(counts) != 1 || counts[0] != 3 {
		t.Fatalf("post-record emits = %v, want [3]", counts)
	}
}

func TestRecordActivityOverwrites(t *testing.T) {
	fake := newFakeLog()
	s, _ := newScheduler(t, fake, hourAt(14))

	if err := s.RecordActivity(context.Background(), []time.Time{hourAt(9)}, "standup"); err != nil {
		t.Fatalf("first record: %v", err)
	}
	before, err := s.MissedHours(context.Background())
	if err != nil {
		t.Fatalf("MissedHours: %v", err)
	}

	if err := s.RecordActivity(context.Background(), []time.Time{hourAt(9)}, "retro"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if got := fake.acts[hourAt(9).Unix()]; got != "retro" {
		t.Fatalf("stored text = %q, want overwrite", got)
	}

	after, err := s.MissedHours(context.Background())
	if err != nil {
		t.Fatalf("MissedHours: %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("membership changed on overwrite: %v -> %v", before, after)
	}
}

func TestRecordEarlierHourKeepsLastRecorded(t *testing.T) {
	fake := newFakeLog()
	fake.put(hourAt(12), "lunch")
	s, _ := newScheduler(t, fake, hourAt(14))

	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := s.RecordActivity(context.Background(), []time.Time{hourAt(9)}, "standup"); err != nil {
		t.Fatalf("RecordActivity: %v", err)
	}
	last, ok := s.LastRecorded()
	if !ok || !last.Equal(hourAt(12)) {
		t.Fatalf("LastRecorded = %v (ok=%v), want 12:00 unchanged", last, ok)
	}
}

func TestRefreshIsEdgeTriggered(t *testing.T) {
	fake := newFakeLog()
	s, ch := newScheduler(t, fake, hourAt(14))

	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	if got := drainMissed(ch); len(got) != 1 {
		t.Fatalf("lazy bootstrap emits = %v, want one baseline", got)
	}

	// Nothing changed: no re-emission.
	for i := 0; i < 3; i++ {
		if err := s.Refresh(context.Background()); err != nil {
			t.Fatalf("refresh %d: %v", i, err)
		}
	}
	if got := drainMissed(ch); len(got) != 0 {
		t.Fatalf("redundant emits = %v", got)
	}

	// A record written behind the scheduler's back changes the count.
	fake.put(hourAt(13), "focus")
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh after write: %v", err)
	}
	counts := drainMissed(ch)
	if len(counts) != 1 {
		t.Fatalf("emits after change = %v, want one", counts)
	}
}

func TestMissedHoursLazyBootstrap(t *testing.T) {
	s, ch := newScheduler(t, newFakeLog(), hourAt(3))

	missed, err := s.MissedHours(context.Background())
	if err != nil {
		t.Fatalf("MissedHours: %v", err)
	}
	if len(missed) != 3 {
		t.Fatalf("missed = %v, want 00:00-02:00", missed)
	}
	if got := drainMissed(ch); len(got) != 1 || got[0] != 3 {
		t.Fatalf("baseline emits = %v, want [3]", got)
	}
}

func TestRecordActivityRequiresHours(t *testing.T) {
	s, _ := newScheduler(t, newFakeLog(), hourAt(14))
	if err := s.RecordActivity(context.Background(), nil, "x"); !errors.Is(err, ErrNoHours) {
		t.Fatalf("err = %v, want ErrNoHours", err)
	}
}

func TestStorageErrorsPropagateUnchanged(t *testing.T) {
	fake := newFakeLog()
	sentinel := errors.New("disk on fire")
	fake.lastErr = sentinel

	s, _ := newScheduler(t, fake, hourAt(14))
	if err := s.Initialize(context.Background()); !errors.Is(err, sentinel) {
		t.Fatalf("Initialize err = %v, want sentinel", err)
	}

	fake.lastErr = nil
	fake.hasErr = sentinel
	if _, err := s.MissedHours(context.Background()); !errors.Is(err, sentinel) {
		t.Fatalf("MissedHours err = %v, want sentinel", err)
	}
}
