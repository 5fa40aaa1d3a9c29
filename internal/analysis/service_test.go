package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"hourkeep/internal/storage"
	logx "hourkeep/pkg/logx"
)

func hourAt(day, h int) time.Time {
	return time.Date(2025, time.March, day, h, 0, 0, 0, time.Local)
}

type fakeLog struct {
	acts  []storage.Activity
	notes map[string]string
	saved map[string]storage.AnalysisRecord
}

func newFakeLog() *fakeLog {
	return &fakeLog{notes: map[string]string{}, saved: map[string]storage.AnalysisRecord{}}
}

func (f *fakeLog) ActivitiesForRange(ctx context.Context, from, to time.Time) ([]storage.Activity, error) {
	var out []storage.Activity
	for _, a := range f.acts {
		if !a.Hour.Before(from) && !a.Hour.After(to) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeLog) NotesForRange(ctx context.Context, from, to time.Time) (map[string]string, error) {
	return f.notes, nil
}

func cacheKey(rangeName string, start, end time.Time) string {
	return fmt.Sprintf("%s|%d|%d", rangeName, start.Unix(), end.Unix())
}

func (f *fakeLog) SaveAnalysis(ctx context.Context, rec storage.AnalysisRecord) error {
	f.saved[cacheKey(rec.RangeName, rec.Start, rec.End)] = rec
	return nil
}

func (f *fakeLog) SavedAnalysis(ctx context.Context, rangeName string, start, end time.Time) (storage.AnalysisRecord, bool, error) {
	rec, ok := f.saved[cacheKey(rangeName, start, end)]
	return rec, ok, nil
}

type fakeLLM struct {
	calls    int
	response string
	err      error
}

func (f *fakeLLM) Generate(ctx context.Context, system, prompt string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

const goodResponse = `{
  "summary": "A focused stretch of work.",
  "patterns": ["deep work in the morning"],
  "insights": ["afternoons drift"],
  "recommendations": ["schedule breaks"]
}`

func newService(store ActivityLog, llm LLM, now time.Time) *Service {
	return New(Config{Enabled: true}, store, logx.Nop(),
		WithLLM(llm), WithClock(func() time.Time { return now }))
}

func TestAnalyzeDisabled(t *testing.T) {
	svc := New(Config{}, newFakeLog(), logx.Nop(), WithLLM(&fakeLLM{}))
	if _, err := svc.Analyze(context.Background(), RangeToday); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

func TestAnalyzeEmptyLog(t *testing.T) {
	llm := &fakeLLM{response: goodResponse}
	svc := newService(newFakeLog(), llm, hourAt(14, 10))

	rep, err := svc.Analyze(context.Background(), RangeToday)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !strings.Contains(rep.Summary, "No activities") {
		t.Fatalf("Summary = %q", rep.Summary)
	}
	if llm.calls != 0 {
		t.Fatalf("model queried for an empty log (%d calls)", llm.calls)
	}
}

func TestAnalyzeCachesResult(t *testing.T) {
	ctx := context.Background()
	store := newFakeLog()
	store.acts = []storage.Activity{
		{Hour: hourAt(14, 9), Text: "code review"},
		{Hour: hourAt(14, 10), Text: "deep work"},
	}
	store.notes["2025-03-14"] = "good day"
	llm := &fakeLLM{response: goodResponse}
	svc := newService(store, llm, hourAt(14, 12))

	first, err := svc.Analyze(ctx, RangeToday)
	if err != nil {
		t.Fatalf("first Analyze: %v", err)
	}
	if first.Cached {
		t.Fatal("first report marked cached")
	}
	if first.Summary != "A focused stretch of work." {
		t.Fatalf("Summary = %q", first.Summary)
	}
	if len(first.Patterns) != 1 || first.Patterns[0] != "deep work in the morning" {
		t.Fatalf("Patterns = %v", first.Patterns)
	}
	if llm.calls != 1 {
		t.Fatalf("calls = %d, want 1", llm.calls)
	}

	second, err := svc.Analyze(ctx, RangeToday)
	if err != nil {
		t.Fatalf("second Analyze: %v", err)
	}
	if !second.Cached {
		t.Fatal("second report not served from cache")
	}
	if llm.calls != 1 {
		t.Fatalf("calls = %d after cache hit, want 1", llm.calls)
	}
	if second.Summary != first.Summary {
		t.Fatalf("cached Summary = %q, want %q", second.Summary, first.Summary)
	}
}

func TestAnalyzeRefreshesWhenDataShifts(t *testing.T) {
	ctx := context.Background()
	store := newFakeLog()
	store.acts = []storage.Activity{{Hour: hourAt(13, 9), Text: "planning"}}
	llm := &fakeLLM{response: goodResponse}
	svc := newService(store, llm, hourAt(14, 12))

	if _, err := svc.Analyze(ctx, RangeWeek); err != nil {
		t.Fatalf("first Analyze: %v", err)
	}

	// New activity on a later day moves the data range, so the cached
	// entry no longer applies.
	store.acts = append(store.acts, storage.Activity{Hour: hourAt(14, 9), Text: "deep work"})
	rep, err := svc.Analyze(ctx, RangeWeek)
	if err != nil {
		t.Fatalf("second Analyze: %v", err)
	}
	if rep.Cached {
		t.Fatal("stale cache served after new activity")
	}
	if llm.calls != 2 {
		t.Fatalf("calls = %d, want 2", llm.calls)
	}
}

func TestAnalyzeModelError(t *testing.T) {
	store := newFakeLog()
	store.acts = []storage.Activity{{Hour: hourAt(14, 9), Text: "work"}}
	llm := &fakeLLM{err: errors.New("rate limited")}
	svc := newService(store, llm, hourAt(14, 12))

	if _, err := svc.Analyze(context.Background(), RangeToday); err == nil {
		t.Fatal("expected model error to propagate")
	}
}

func TestRangeBounds(t *testing.T) {
	now := time.Date(2025, time.March, 14, 15, 30, 0, 0, time.Local)
	cases := []struct {
		name     string
		label    string
		from, to time.Time
	}{
		{RangeToday, "Today", hourAt(14, 0), now},
		{RangeYesterday, "Yesterday", hourAt(13, 0), time.Date(2025, time.March, 13, 23, 59, 59, 0, time.Local)},
		{Range3Days, "Last 3 Days", hourAt(11, 0), now},
		{RangeWeek, "Last Week", hourAt(7, 0), now},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			label, from, to, err := rangeBounds(tc.name, now)
			if err != nil {
				t.Fatalf("rangeBounds: %v", err)
			}
			if label != tc.label {
				t.Fatalf("label = %q, want %q", label, tc.label)
			}
			if !from.Equal(tc.from) || !to.Equal(tc.to) {
				t.Fatalf("bounds = %v..%v, want %v..%v", from, to, tc.from, tc.to)
			}
		})
	}

	if _, _, _, err := rangeBounds("fortnight", now); err == nil {
		t.Fatal("expected error for unknown range")
	}
}
