package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "hourkeep/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LastActivityTime(ctx context.Context) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, ErrClosed
	}
	var sec int64
	err := s.db.QueryRowContext(ctx,
		`SELECT hour FROM activities ORDER BY hour DESC LIMIT 1`).Scan(&sec)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return hourFromUnix(sec), true, nil
}

func (s *sqliteStore) HasActivityForHour(ctx context.Context, hour time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrClosed
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM activities WHERE hour = ?`, hour.Unix()).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) UpsertActivity(ctx context.Context, hour time.Time, text string) error {
	return s.UpsertActivities(ctx, []time.Time{hour}, text)
}

// UpsertActivities writes all hours in one transaction so a multi-hour
// recording is applied fully or not at all.
func (s *sqliteStore) UpsertActivities(ctx context.Context, hours []time.Time, text string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if len(hours) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	for _, h := range hours {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO activities(hour, activity, recorded_at) VALUES(?,?,?)
			 ON CONFLICT(hour) DO UPDATE SET activity=excluded.activity, recorded_at=excluded.recorded_at`,
			h.Unix(), text, now,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) ActivitiesForRange(ctx context.Context, from, to time.Time) ([]Activity, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT hour, activity, recorded_at FROM activities
		 WHERE hour BETWEEN ? AND ? ORDER BY hour ASC`,
		from.Unix(), to.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanActivities(rows)
}

func (s *sqliteStore) AllActivities(ctx context.Context) ([]Activity, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT hour, activity, recorded_at FROM activities ORDER BY hour ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanActivities(rows)
}

func (s *sqliteStore) SaveDailyNote(ctx context.Context, date time.Time, notes string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO daily_notes(date, notes, created_at, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(date) DO UPDATE SET notes=excluded.notes, updated_at=excluded.updated_at`,
		DateKey(date), notes, now, now)
	return err
}

func (s *sqliteStore) DailyNote(ctx context.Context, date time.Time) (string, error) {
	if s == nil || s.db == nil {
		return "", ErrClosed
	}
	var notes string
	err := s.db.QueryRowContext(ctx,
		`SELECT notes FROM daily_notes WHERE date = ?`, DateKey(date)).Scan(&notes)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return notes, err
}

func (s *sqliteStore) NotesForRange(ctx context.Context, from, to time.Time) (map[string]string, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, notes FROM daily_notes WHERE date BETWEEN ? AND ? ORDER BY date ASC`,
		DateKey(from), DateKey(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var date, notes string
		if err := rows.Scan(&date, &notes); err != nil {
			return nil, err
		}
		out[date] = notes
	}
	return out, rows.Err()
}

func (s *sqliteStore) SetSetting(ctx context.Context, key, value string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO settings(key, value) VALUES(?,?)`, key, value)
	return err
}

func (s *sqliteStore) Setting(ctx context.Context, key string) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, ErrClosed
	}
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *sqliteStore) SaveAnalysis(ctx context.Context, rec AnalysisRecord) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	patterns, insights, recs, err := marshalAnalysisLists(rec)
	if err != nil {
		return err
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analysis_results(range_name, start_hour, end_hour, model, summary, patterns, insights, recommendations, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(range_name, start_hour, end_hour) DO UPDATE SET
		   model=excluded.model, summary=excluded.summary,
		   patterns=excluded.patterns, insights=excluded.insights,
		   recommendations=excluded.recommendations, created_at=excluded.created_at`,
		rec.RangeName, rec.Start.Unix(), rec.End.Unix(),
		rec.Model, rec.Summary, patterns, insights, recs, created.UnixMilli())
	return err
}

func (s *sqliteStore) SavedAnalysis(ctx context.Context, rangeName string, start, end time.Time) (AnalysisRecord, bool, error) {
	if s == nil || s.db == nil {
		return AnalysisRecord{}, false, ErrClosed
	}
	var (
		model, summary           string
		patterns, insights, recs string
		createdMS                int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT model, summary, patterns, insights, recommendations, created_at
		 FROM analysis_results
		 WHERE range_name = ? AND start_hour = ? AND end_hour = ?`,
		rangeName, start.Unix(), end.Unix(),
	).Scan(&model, &summary, &patterns, &insights, &recs, &createdMS)
	if errors.Is(err, sql.ErrNoRows) {
		return AnalysisRecord{}, false, nil
	}
	if err != nil {
		return AnalysisRecord{}, false, err
	}
	rec := AnalysisRecord{
		RangeName: rangeName,
		Start:     hourFromUnix(start.Unix()),
		End:       hourFromUnix(end.Unix()),
		Model:     model,
		Summary:   summary,
		CreatedAt: time.UnixMilli(createdMS),
	}
	if err := unmarshalAnalysisLists(patterns, insights, recs, &rec); err != nil {
		return AnalysisRecord{}, false, err
	}
	return rec, true, nil
}

func marshalAnalysisLists(rec AnalysisRecord) (patterns, insights, recs string, err error) {
	enc := func(list []string) (string, error) {
		if list == nil {
			list = []string{}
		}
		b, err := json.Marshal(list)
		return string(b), err
	}
	if patterns, err = enc(rec.Patterns); err != nil {
		return
	}
	if insights, err = enc(rec.Insights); err != nil {
		return
	}
	recs, err = enc(rec.Recommendations)
	return
}

func unmarshalAnalysisLists(patterns, insights, recs string, rec *AnalysisRecord) error {
	if err := json.Unmarshal([]byte(patterns), &rec.Patterns); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(insights), &rec.Insights); err != nil {
		return err
	}
	return json.Unmarshal([]byte(recs), &rec.Recommendations)
}

func scanActivities(rows *sql.Rows) ([]Activity, error) {
	var out []Activity
	for rows.Next() {
		var sec, recMS int64
		var text string
		if err := rows.Scan(&sec, &text, &recMS); err != nil {
			return nil, err
		}
		out = append(out, Activity{
			Hour:       hourFromUnix(sec),
			Text:       text,
			RecordedAt: time.UnixMilli(recMS),
		})
	}
	return out, rows.Err()
}

// Hour markers are stored as unix seconds; render them back in local
// time, which is the granularity the rest of the app reasons in.
func hourFromUnix(sec int64) time.Time {
	return time.Unix(sec, 0).In(time.Local)
}
