package export

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"hourkeep/internal/storage"
)

type fakeSource struct {
	acts  []storage.Activity
	notes map[string]string
}

func (f *fakeSource) AllActivities(ctx context.Context) ([]storage.Activity, error) {
	out := make([]storage.Activity, len(f.acts))
	copy(out, f.acts)
	return out, nil
}

func (f *fakeSource) DailyNote(ctx context.Context, date time.Time) (string, error) {
	return f.notes[storage.DateKey(date)], nil
}

func testSource(t *testing.T) *fakeSource {
	t.Helper()
	day1 := time.Date(2026, 3, 9, 0, 0, 0, 0, time.Local)
	day2 := day1.AddDate(0, 0, 1)
	return &fakeSource{
		acts: []storage.Activity{
			{Hour: day2.Add(9 * time.Hour), Text: "standup", RecordedAt: day2.Add(9*time.Hour + 5*time.Minute)},
			{Hour: day1.Add(14 * time.Hour), Text: "code review", RecordedAt: day1.Add(14*time.Hour + 2*time.Minute)},
			{Hour: day1.Add(13 * time.Hour), Text: "lunch", RecordedAt: day1.Add(13*time.Hour + 30*time.Minute)},
		},
		notes: map[string]string{
			"2026-03-09": "productive afternoon",
		},
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(context.Background(), &buf, testSource(t)); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	var doc struct {
		TotalActivities int `json:"total_activities"`
		TotalNotes      int `json:"total_notes"`
		Activities      []struct {
			Date     string `json:"date"`
			Time     string `json:"time"`
			Activity string `json:"activity"`
		} `json:"activities"`
		DailyNotes []struct {
			Date  string `json:"date"`
			Notes string `json:"notes"`
		} `json:"daily_notes"`
	}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.TotalActivities != 3 || doc.TotalNotes != 1 {
		t.Fatalf("totals = %d/%d, want 3/1", doc.TotalActivities, doc.TotalNotes)
	}
	// Activities come out hour-ascending regardless of store order.
	if doc.Activities[0].Time != "13:00" || doc.Activities[0].Activity != "lunch" {
		t.Fatalf("first activity = %+v", doc.Activities[0])
	}
	if doc.Activities[2].Date != "2026-03-10" {
		t.Fatalf("last activity date = %q", doc.Activities[2].Date)
	}
	if doc.DailyNotes[0].Date != "2026-03-09" || doc.DailyNotes[0].Notes != "productive afternoon" {
		t.Fatalf("daily note = %+v", doc.DailyNotes[0])
	}
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteText(context.Background(), &buf, testSource(t)); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"Total activities: 3",
		"Total daily notes: 1",
		"=== 2026-03-09 ===",
		"13:00: lunch",
		"14:00: code review",
		"=== 2026-03-10 ===",
		"09:00: standup",
		"DAILY NOTE:\nproductive afternoon",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}

	// Days render in ascending order.
	if strings.Index(out, "2026-03-09") > strings.Index(out, "2026-03-10") {
		t.Fatalf("days out of order:\n%s", out)
	}
	// Day without a note has no note section.
	day2 := out[strings.Index(out, "=== 2026-03-10 ==="):]
	if strings.Contains(day2, "DAILY NOTE") {
		t.Fatalf("unexpected note for 2026-03-10:\n%s", day2)
	}
}
