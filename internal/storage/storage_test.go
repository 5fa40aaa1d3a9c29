package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "hourkeep/pkg/logx"
)

func openDrivers(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Store{}
	for _, driver := range []string{"sqlite", "file"} {
		st, err := Open(Config{Driver: driver, Path: filepath.Join(dir, driver+".db")}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%s): %v", driver, err)
		}
		t.Cleanup(func() { _ = st.Close() })
		out[driver] = st
	}
	return out
}

func hourAt(h int) time.Time {
	return time.Date(2025, time.March, 14, h, 0, 0, 0, time.Local)
}

func TestLastActivityTime(t *testing.T) {
	ctx := context.Background()
	for driver, st := range openDrivers(t) {
		t.Run(driver, func(t *testing.T) {
			if _, ok, err := st.LastActivityTime(ctx); err != nil || ok {
				t.Fatalf("empty store: ok=%v err=%v", ok, err)
			}

			for _, h := range []int{10, 8, 12} {
				if err := st.UpsertActivity(ctx, hourAt(h), "work"); err != nil {
					t.Fatalf("UpsertActivity: %v", err)
				}
			}
			last, ok, err := st.LastActivityTime(ctx)
			if err != nil || !ok {
				t.Fatalf("LastActivityTime: ok=%v err=%v", ok, err)
			}
			if !last.Equal(hourAt(12)) {
				t.Fatalf("last = %v, want %v", last, hourAt(12))
			}
		})
	}
}

func TestUpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	for driver, st := range openDrivers(t) {
		t.Run(driver, func(t *testing.T) {
			h := hourAt(9)
			if err := st.UpsertActivity(ctx, h, "standup"); err != nil {
				t.Fatalf("first upsert: %v", err)
			}
			if err := st.UpsertActivity(ctx, h, "code review"); err != nil {
				t.Fatalf("second upsert: %v", err)
			}

			got, err := st.AllActivities(ctx)
			if err != nil {
				t.Fatalf("AllActivities: %v", err)
			}
			if len(got) != 1 {
				t.Fatalf("expected a single record, got %d", len(got))
			}
			if got[0].Text != "code review" {
				t.Fatalf("Text = %q, want overwrite", got[0].Text)
			}

			ok, err := st.HasActivityForHour(ctx, h)
			if err != nil || !ok {
				t.Fatalf("HasActivityForHour: ok=%v err=%v", ok, err)
			}
			ok, err = st.HasActivityForHour(ctx, hourAt(10))
			if err != nil || ok {
				t.Fatalf("unexpected activity at 10:00: ok=%v err=%v", ok, err)
			}
		})
	}
}

func TestUpsertActivitiesBatch(t *testing.T) {
	ctx := context.Background()
	for driver, st := range openDrivers(t) {
		t.Run(driver, func(t *testing.T) {
			hours := []time.Time{hourAt(9), hourAt(10), hourAt(13)}
			if err := st.UpsertActivities(ctx, hours, "deep work"); err != nil {
				t.Fatalf("UpsertActivities: %v", err)
			}
			got, err := st.ActivitiesForRange(ctx, hourAt(9), hourAt(12))
			if err != nil {
				t.Fatalf("ActivitiesForRange: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("range 9-12: got %d records", len(got))
			}
			if !got[0].Hour.Equal(hourAt(9)) || !got[1].Hour.Equal(hourAt(10)) {
				t.Fatalf("range not ascending: %v, %v", got[0].Hour, got[1].Hour)
			}
		})
	}
}

func TestDailyNotes(t *testing.T) {
	ctx := context.Background()
	day := hourAt(0)
	for driver, st := range openDrivers(t) {
		t.Run(driver, func(t *testing.T) {
			if note, err := st.DailyNote(ctx, day); err != nil || note != "" {
				t.Fatalf("empty note: %q err=%v", note, err)
			}
			if err := st.SaveDailyNote(ctx, day, "productive day"); err != nil {
				t.Fatalf("SaveDailyNote: %v", err)
			}
			if err := st.SaveDailyNote(ctx, day, "long day"); err != nil {
				t.Fatalf("SaveDailyNote update: %v", err)
			}
			note, err := st.DailyNote(ctx, day)
			if err != nil {
				t.Fatalf("DailyNote: %v", err)
			}
			if note != "long day" {
				t.Fatalf("note = %q", note)
			}

			notes, err := st.NotesForRange(ctx, day.AddDate(0, 0, -1), day.AddDate(0, 0, 1))
			if err != nil {
				t.Fatalf("NotesForRange: %v", err)
			}
			if notes[DateKey(day)] != "long day" {
				t.Fatalf("NotesForRange = %v", notes)
			}
		})
	}
}

func TestSettings(t *testing.T) {
	ctx := context.Background()
	for driver, st := range openDrivers(t) {
		t.Run(driver, func(t *testing.T) {
			if _, ok, err := st.Setting(ctx, "theme"); err != nil || ok {
				t.Fatalf("missing setting: ok=%v err=%v", ok, err)
			}
			if err := st.SetSetting(ctx, "theme", "dark"); err != nil {
				t.Fatalf("SetSetting: %v", err)
			}
			if err := st.SetSetting(ctx, "theme", "light"); err != nil {
				t.Fatalf("SetSetting replace: %v", err)
			}
			v, ok, err := st.Setting(ctx, "theme")
			if err != nil || !ok {
				t.Fatalf("Setting: ok=%v err=%v", ok, err)
			}
			if v != "light" {
				t.Fatalf("value = %q", v)
			}
		})
	}
}

func TestAnalysisCache(t *testing.T) {
	ctx := context.Background()
	for driver, st := range openDrivers(t) {
		t.Run(driver, func(t *testing.T) {
			start, end := hourAt(0), hourAt(23)
			if _, ok, err := st.SavedAnalysis(ctx, "today", start, end); err != nil || ok {
				t.Fatalf("empty cache: ok=%v err=%v", ok, err)
			}

			rec := AnalysisRecord{
				RangeName:       "today",
				Start:           start,
				End:             end,
				Model:           "gemini-2.0-flash",
				Summary:         "a steady day",
				Patterns:        []string{"mornings are focused"},
				Insights:        []string{"meetings cluster after lunch"},
				Recommendations: []string{"block the morning"},
			}
			if err := st.SaveAnalysis(ctx, rec); err != nil {
				t.Fatalf("SaveAnalysis: %v", err)
			}

			// Same key overwrites.
			rec.Summary = "a better day"
			if err := st.SaveAnalysis(ctx, rec); err != nil {
				t.Fatalf("SaveAnalysis overwrite: %v", err)
			}

			got, ok, err := st.SavedAnalysis(ctx, "today", start, end)
			if err != nil || !ok {
				t.Fatalf("SavedAnalysis: ok=%v err=%v", ok, err)
			}
			if got.Summary != "a better day" {
				t.Fatalf("Summary = %q, want overwrite", got.Summary)
			}
			if len(got.Patterns) != 1 || got.Patterns[0] != "mornings are focused" {
				t.Fatalf("Patterns = %v", got.Patterns)
			}
			if got.CreatedAt.IsZero() {
				t.Fatal("CreatedAt not set")
			}

			// A different range is a different cache entry.
			if _, ok, err := st.SavedAnalysis(ctx, "week", start, end); err != nil || ok {
				t.Fatalf("wrong range hit: ok=%v err=%v", ok, err)
			}
		})
	}
}

func TestFileStoreReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := Config{Driver: "file", Path: filepath.Join(dir, "log.db")}

	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.UpsertActivity(ctx, hourAt(11), "meeting"); err != nil {
		t.Fatalf("UpsertActivity: %v", err)
	}
	if err := st.SaveAnalysis(ctx, AnalysisRecord{
		RangeName: "today", Start: hourAt(0), End: hourAt(23), Summary: "ok",
	}); err != nil {
		t.Fatalf("SaveAnalysis: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st, err = Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()

	ok, err := st.HasActivityForHour(ctx, hourAt(11))
	if err != nil || !ok {
		t.Fatalf("journal replay lost record: ok=%v err=%v", ok, err)
	}
	if _, ok, err := st.SavedAnalysis(ctx, "today", hourAt(0), hourAt(23)); err != nil || !ok {
		t.Fatalf("journal replay lost analysis: ok=%v err=%v", ok, err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "redis", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
