package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "hourkeep/pkg/logx"
)

// Store is the persistence API used by the scheduler core and the
// export/reporting surface.
//
// UpsertActivity and UpsertActivities overwrite any existing record for
// the same hour without erroring; UpsertActivities applies all hours
// atomically where the backend supports it.
type Store interface {
	LastActivityTime(ctx context.Context) (time.Time, bool, error)
	HasActivityForHour(ctx context.Context, hour time.Time) (bool, error)
	UpsertActivity(ctx context.Context, hour time.Time, text string) error
	UpsertActivities(ctx context.Context, hours []time.Time, text string) error

	ActivitiesForRange(ctx context.Context, from, to time.Time) ([]Activity, error)
	AllActivities(ctx context.Context) ([]Activity, error)

	SaveDailyNote(ctx context.Context, date time.Time, notes string) error
	DailyNote(ctx context.Context, date time.Time) (string, error)
	NotesForRange(ctx context.Context, from, to time.Time) (map[string]string, error)

	SetSetting(ctx context.Context, key, value string) error
	Setting(ctx context.Context, key string) (string, bool, error)

	SaveAnalysis(ctx context.Context, rec AnalysisRecord) error
	SavedAnalysis(ctx context.Context, rangeName string, start, end time.Time) (AnalysisRecord, bool, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "file":
		return openFile(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
