package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logx "hourkeep/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.snapshot.json (periodic snapshot of the full state)
//   - <prefix>.journal.jsonl (append-only journal)
//
// The journal is periodically compacted into the snapshot. All state is
// kept in memory; this backend is sized for a personal activity log
// (a handful of records per day).
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journalFile  *os.File

	activities map[int64]journalActivity // unix seconds -> record
	notes      map[string]journalNote    // "YYYY-MM-DD" -> record
	settings   map[string]string
	analyses   map[string]journalAnalysis // "<range>|<start>|<end>" -> record

	writes int
}

type journalRecord struct {
	Kind     string           `json:"kind"` // "activity" | "note" | "setting" | "analysis"
	Activity *journalActivity `json:"activity,omitempty"`
	Note     *journalNote     `json:"note,omitempty"`
	Key      string           `json:"key,omitempty"`
	Value    string           `json:"value,omitempty"`
	Analysis *journalAnalysis `json:"analysis,omitempty"`
}

type journalActivity struct {
	Hour       int64  `json:"hour"` // unix seconds
	Text       string `json:"text"`
	RecordedAt int64  `json:"recorded_at"` // unix milliseconds
}

type journalNote struct {
	Date  string `json:"date"`
	Notes string `json:"notes"`
}

type journalAnalysis struct {
	RangeName       string   `json:"range_name"`
	Start           int64    `json:"start"` // unix seconds
	End             int64    `json:"end"`   // unix seconds
	Model           string   `json:"model"`
	Summary         string   `json:"summary"`
	Patterns        []string `json:"patterns"`
	Insights        []string `json:"insights"`
	Recommendations []string `json:"recommendations"`
	CreatedAt       int64    `json:"created_at"` // unix milliseconds
}

type snapshot struct {
	Activities map[int64]journalActivity  `json:"activities"`
	Notes      map[string]journalNote     `json:"notes"`
	Settings   map[string]string          `json:"settings"`
	Analyses   map[string]journalAnalysis `json:"analyses,omitempty"`
}

const compactEvery = 500

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	st := &fileStore{
		log:          log,
		snapshotPath: snapPath,
		activities:   map[int64]journalActivity{},
		notes:        map[string]journalNote{},
		settings:     map[string]string{},
		analyses:     map[string]journalAnalysis{},
	}
	_ = st.loadSnapshot(snapPath)
	_ = st.replayJournal(journalPath)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	st.journalFile = jf
	return st, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil
	}
	err := s.journalFile.Close()
	s.journalFile = nil
	return err
}

func (s *fileStore) LastActivityTime(ctx context.Context) (time.Time, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var last int64
	found := false
	for sec := range s.activities {
		if !found || sec > last {
			last = sec
			found = true
		}
	}
	if !found {
		return time.Time{}, false, nil
	}
	return hourFromUnix(last), true, nil
}

func (s *fileStore) HasActivityForHour(ctx context.Context, hour time.Time) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.activities[hour.Unix()]
	return ok, nil
}

func (s *fileStore) UpsertActivity(ctx context.Context, hour time.Time, text string) error {
	return s.UpsertActivities(ctx, []time.Time{hour}, text)
}

func (s *fileStore) UpsertActivities(ctx context.Context, hours []time.Time, text string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return ErrClosed
	}
	now := time.Now().UnixMilli()
	for _, h := range hours {
		rec := journalActivity{Hour: h.Unix(), Text: text, RecordedAt: now}
		if err := s.appendLocked(journalRecord{Kind: "activity", Activity: &rec}); err != nil {
			return err
		}
		s.activities[rec.Hour] = rec
	}
	return nil
}

func (s *fileStore) ActivitiesForRange(ctx context.Context, from, to time.Time) ([]Activity, error) {
	_ = ctx
	lo, hi := from.Unix(), to.Unix()
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Activity
	for sec, rec := range s.activities {
		if sec >= lo && sec <= hi {
			out = append(out, activityFromJournal(rec))
		}
	}
	sortActivities(out)
	return out, nil
}

func (s *fileStore) AllActivities(ctx context.Context) ([]Activity, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Activity, 0, len(s.activities))
	for _, rec := range s.activities {
		out = append(out, activityFromJournal(rec))
	}
	sortActivities(out)
	return out, nil
}

func (s *fileStore) SaveDailyNote(ctx context.Context, date time.Time, notes string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return ErrClosed
	}
	rec := journalNote{Date: DateKey(date), Notes: notes}
	if err := s.appendLocked(journalRecord{Kind: "note", Note: &rec}); err != nil {
		return err
	}
	s.notes[rec.Date] = rec
	return nil
}

func (s *fileStore) DailyNote(ctx context.Context, date time.Time) (string, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notes[DateKey(date)].Notes, nil
}

func (s *fileStore) NotesForRange(ctx context.Context, from, to time.Time) (map[string]string, error) {
	_ = ctx
	lo, hi := DateKey(from), DateKey(to)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]string{}
	for date, rec := range s.notes {
		if date >= lo && date <= hi {
			out[date] = rec.Notes
		}
	}
	return out, nil
}

func (s *fileStore) SetSetting(ctx context.Context, key, value string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return ErrClosed
	}
	if err := s.appendLocked(journalRecord{Kind: "setting", Key: key, Value: value}); err != nil {
		return err
	}
	s.settings[key] = value
	return nil
}

func (s *fileStore) Setting(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.settings[key]
	return v, ok, nil
}

func (s *fileStore) SaveAnalysis(ctx context.Context, rec AnalysisRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return ErrClosed
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	jr := journalAnalysis{
		RangeName:       rec.RangeName,
		Start:           rec.Start.Unix(),
		End:             rec.End.Unix(),
		Model:           rec.Model,
		Summary:         rec.Summary,
		Patterns:        rec.Patterns,
		Insights:        rec.Insights,
		Recommendations: rec.Recommendations,
		CreatedAt:       created.UnixMilli(),
	}
	if err := s.appendLocked(journalRecord{Kind: "analysis", Analysis: &jr}); err != nil {
		return err
	}
	s.analyses[analysisKey(jr.RangeName, jr.Start, jr.End)] = jr
	return nil
}

func (s *fileStore) SavedAnalysis(ctx context.Context, rangeName string, start, end time.Time) (AnalysisRecord, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	jr, ok := s.analyses[analysisKey(rangeName, start.Unix(), end.Unix())]
	if !ok {
		return AnalysisRecord{}, false, nil
	}
	return AnalysisRecord{
		RangeName:       jr.RangeName,
		Start:           hourFromUnix(jr.Start),
		End:             hourFromUnix(jr.End),
		Model:           jr.Model,
		Summary:         jr.Summary,
		Patterns:        jr.Patterns,
		Insights:        jr.Insights,
		Recommendations: jr.Recommendations,
		CreatedAt:       time.UnixMilli(jr.CreatedAt),
	}, true, nil
}

func analysisKey(rangeName string, start, end int64) string {
	return fmt.Sprintf("%s|%d|%d", rangeName, start, end)
}

func (s *fileStore) appendLocked(rec journalRecord) error {
	enc := json.NewEncoder(s.journalFile)
	if err := enc.Encode(rec); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	snap := snapshot{Activities: s.activities, Notes: s.notes, Settings: s.settings, Analyses: s.analyses}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func (s *fileStore) loadSnapshot(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for k, v := range snap.Activities {
		s.activities[k] = v
	}
	for k, v := range snap.Notes {
		s.notes[k] = v
	}
	for k, v := range snap.Settings {
		s.settings[k] = v
	}
	for k, v := range snap.Analyses {
		s.analyses[k] = v
	}
	return nil
}

func (s *fileStore) replayJournal(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec journalRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		switch rec.Kind {
		case "activity":
			if rec.Activity != nil {
				s.activities[rec.Activity.Hour] = *rec.Activity
			}
		case "note":
			if rec.Note != nil {
				s.notes[rec.Note.Date] = *rec.Note
			}
		case "setting":
			if rec.Key != "" {
				s.settings[rec.Key] = rec.Value
			}
		case "analysis":
			if rec.Analysis != nil {
				a := *rec.Analysis
				s.analyses[analysisKey(a.RangeName, a.Start, a.End)] = a
			}
		}
	}
	return sc.Err()
}

func activityFromJournal(rec journalActivity) Activity {
	return Activity{
		Hour:       hourFromUnix(rec.Hour),
		Text:       rec.Text,
		RecordedAt: time.UnixMilli(rec.RecordedAt),
	}
}

func sortActivities(list []Activity) {
	sort.Slice(list, func(i, j int) bool { return list[i].Hour.Before(list[j].Hour) })
}
