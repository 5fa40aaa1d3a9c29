// Package export renders the recorded activity log to portable formats.
//
// Two renderings are supported: a JSON document suitable for backups and
// further processing, and a plain-text report grouped by day. Both include
// daily notes for the days that have one.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"hourkeep/internal/storage"
)

// Source is the subset of the storage API the exporter reads from.
type Source interface {
	AllActivities(ctx context.Context) ([]storage.Activity, error)
	DailyNote(ctx context.Context, date time.Time) (string, error)
}

type jsonActivity struct {
	Date       string `json:"date"`
	Time       string `json:"time"`
	Activity   string `json:"activity"`
	RecordedAt string `json:"recorded_at"`
}

type jsonNote struct {
	Date  string `json:"date"`
	Notes string `json:"notes"`
}

type jsonDocument struct {
	ExportDate      string         `json:"export_date"`
	TotalActivities int            `json:"total_activities"`
	TotalNotes      int            `json:"total_notes"`
	Activities      []jsonActivity `json:"activities"`
	DailyNotes      []jsonNote     `json:"daily_notes"`
}

// WriteJSON writes the full activity log as an indented JSON document.
func WriteJSON(ctx context.Context, w io.Writer, src Source) error {
	acts, notes, err := collect(ctx, src)
	if err != nil {
		return err
	}

	doc := jsonDocument{
		ExportDate:      time.Now().Format(time.RFC3339),
		TotalActivities: len(acts),
		TotalNotes:      len(notes),
		Activities:      make([]jsonActivity, 0, len(acts)),
		DailyNotes:      make([]jsonNote, 0, len(notes)),
	}
	for _, a := range acts {
		doc.Activities = append(doc.Activities, jsonActivity{
			Date:       storage.DateKey(a.Hour),
			Time:       a.Hour.Format("15:04"),
			Activity:   a.Text,
			RecordedAt: a.RecordedAt.Format(time.RFC3339),
		})
	}
	for _, date := range sortedKeys(notes) {
		doc.DailyNotes = append(doc.DailyNotes, jsonNote{Date: date, Notes: notes[date]})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// WriteText writes a human-readable day-by-day report.
func WriteText(ctx context.Context, w io.Writer, src Source) error {
	acts, notes, err := collect(ctx, src)
	if err != nil {
		return err
	}

	byDay := make(map[string][]storage.Activity)
	for _, a := range acts {
		key := storage.DateKey(a.Hour)
		byDay[key] = append(byDay[key], a)
	}

	var b strings.Builder
	b.WriteString("Accountability - Activity Export\n")
	fmt.Fprintf(&b, "Exported on: %s\n", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Total activities: %d\n", len(acts))
	fmt.Fprintf(&b, "Total daily notes: %d\n\n", len(notes))

	for _, date := range sortedKeys(byDay) {
		day := byDay[date]
		sort.Slice(day, func(i, j int) bool { return day[i].Hour.Before(day[j].Hour) })

		fmt.Fprintf(&b, "=== %s ===\n", date)
		for _, a := range day {
			fmt.Fprintf(&b, "%s: %s\n", a.Hour.Format("15:04"), a.Text)
		}
		if note, ok := notes[date]; ok {
			b.WriteString("\nDAILY NOTE:\n")
			b.WriteString(note)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	_, err = io.WriteString(w, b.String())
	return err
}

// collect loads all activities plus the daily notes for the days that have
// activity records. Empty notes are skipped.
func collect(ctx context.Context, src Source) ([]storage.Activity, map[string]string, error) {
	acts, err := src.AllActivities(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load activities: %w", err)
	}
	sort.Slice(acts, func(i, j int) bool { return acts[i].Hour.Before(acts[j].Hour) })

	seen := make(map[string]struct{})
	notes := make(map[string]string)
	for _, a := range acts {
		key := storage.DateKey(a.Hour)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		note, err := src.DailyNote(ctx, a.Hour)
		if err != nil {
			return nil, nil, fmt.Errorf("load note for %s: %w", key, err)
		}
		if strings.TrimSpace(note) != "" {
			notes[key] = note
		}
	}
	return acts, notes, nil
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
