package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "file": dependency-free file backend (jsonl journal + snapshot)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Activity is one hour's recorded entry.
// At most one exists per hour marker; writes overwrite.
type Activity struct {
	Hour       time.Time
	Text       string
	RecordedAt time.Time
}

// DailyNote is a free-text note attached to a calendar day.
type DailyNote struct {
	Date  string // "2006-01-02"
	Notes string
}

// DateKey renders the canonical day key used for daily notes.
func DateKey(t time.Time) string { return t.Format("2006-01-02") }

// AnalysisRecord is a cached activity-analysis result. One record exists
// per (RangeName, Start, End); saving again overwrites it.
type AnalysisRecord struct {
	RangeName string
	Start     time.Time
	End       time.Time

	Model           string
	Summary         string
	Patterns        []string
	Insights        []string
	Recommendations []string

	CreatedAt time.Time
}
