// Package analysis turns the recorded activity log into an LLM-written
// review of a date range: a summary paragraph plus observed patterns,
// insights, and recommendations. Results are cached in storage per
// exact data range, so re-running the same analysis is free until new
// activity shifts the range.
package analysis

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"hourkeep/internal/hourclock"
	"hourkeep/internal/storage"
	logx "hourkeep/pkg/logx"
)

var ErrDisabled = errors.New("analysis is disabled")

// Config controls the analyzer.
type Config struct {
	Enabled bool
	// Model is the Gemini model name (default "gemini-2.0-flash").
	Model string
	// APIKey authenticates against the Gemini API.
	APIKey string
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Model) == "" {
		c.Model = "gemini-2.0-flash"
	}
	return c
}

// LLM is the model client. GeminiClient satisfies it; tests use a fake.
type LLM interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// ActivityLog is the slice of the storage contract the analyzer reads
// from and caches results into.
type ActivityLog interface {
	ActivitiesForRange(ctx context.Context, from, to time.Time) ([]storage.Activity, error)
	NotesForRange(ctx context.Context, from, to time.Time) (map[string]string, error)
	SaveAnalysis(ctx context.Context, rec storage.AnalysisRecord) error
	SavedAnalysis(ctx context.Context, rangeName string, start, end time.Time) (storage.AnalysisRecord, bool, error)
}

// Report is one finished analysis.
type Report struct {
	Summary         string
	Patterns        []string
	Insights        []string
	Recommendations []string

	Model     string
	CreatedAt time.Time
	// Cached is true when the report was served from storage without
	// querying the model.
	Cached bool
}

type Service struct {
	mu    sync.Mutex
	cfg   Config
	store ActivityLog
	log   logx.Logger
	clock func() time.Time

	llm      LLM
	injected bool
	dial     func(ctx context.Context, cfg Config) (LLM, error)
}

type Option func(*Service)

// WithClock replaces the wall-clock source. Tests use this to pin "now".
func WithClock(fn func() time.Time) Option {
	return func(s *Service) { s.clock = fn }
}

// WithLLM injects a model client, bypassing the Gemini dial.
func WithLLM(llm LLM) Option {
	return func(s *Service) {
		s.llm = llm
		s.injected = true
	}
}

func New(cfg Config, store ActivityLog, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:   cfg.withDefaults(),
		store: store,
		log:   log,
		clock: time.Now,
		dial: func(ctx context.Context, cfg Config) (LLM, error) {
			return NewGeminiClient(ctx, cfg.APIKey, cfg.Model)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config. A model or key change drops the dialed client
// so the next Analyze reconnects with the new settings.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.injected && (cfg.Model != s.cfg.Model || cfg.APIKey != s.cfg.APIKey) {
		s.llm = nil
	}
	s.cfg = cfg
}

// Analyze produces a report for the named range ("today", "yesterday",
// "3days", "week", "month"). A cache hit for the same data range is
// returned without querying the model.
func (s *Service) Analyze(ctx context.Context, rangeName string) (*Report, error) {
	s.mu.Lock()
	cfg := s.cfg
	clock := s.clock
	s.mu.Unlock()

	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	label, from, to, err := rangeBounds(rangeName, clock())
	if err != nil {
		return nil, err
	}

	acts, err := s.store.ActivitiesForRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if len(acts) == 0 {
		return &Report{
			Summary:   "No activities recorded for the selected period.",
			CreatedAt: clock(),
		}, nil
	}

	// The cache key follows the data, not the query: day bounds of the
	// first and last record. New activity on a later day shifts the key
	// and forces a fresh analysis.
	start := hourclock.DayStart(acts[0].Hour)
	end := hourclock.DayEnd(acts[len(acts)-1].Hour)
	if rec, ok, err := s.store.SavedAnalysis(ctx, rangeName, start, end); err != nil {
		s.log.Debug("analysis cache lookup failed", logx.Err(err))
	} else if ok {
		s.log.Debug("analysis served from cache",
			logx.String("range", rangeName), logx.Time("created_at", rec.CreatedAt))
		return reportFromRecord(rec), nil
	}

	notes, err := s.store.NotesForRange(ctx, from, to)
	if err != nil {
		return nil, err
	}

	llm, err := s.client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	raw, err := llm.Generate(ctx, analystRole, buildPrompt(label, acts, notes))
	if err != nil {
		return nil, err
	}

	rep := parseReport(raw)
	rep.Model = cfg.Model
	rep.CreatedAt = clock()

	if err := s.store.SaveAnalysis(ctx, storage.AnalysisRecord{
		RangeName:       rangeName,
		Start:           start,
		End:             end,
		Model:           rep.Model,
		Summary:         rep.Summary,
		Patterns:        rep.Patterns,
		Insights:        rep.Insights,
		Recommendations: rep.Recommendations,
		CreatedAt:       rep.CreatedAt,
	}); err != nil {
		// The report is still good; only the cache write failed.
		s.log.Warn("analysis cache write failed", logx.Err(err))
	}
	return rep, nil
}

func (s *Service) client(ctx context.Context, cfg Config) (LLM, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.llm != nil {
		return s.llm, nil
	}
	llm, err := s.dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.llm = llm
	return llm, nil
}

func reportFromRecord(rec storage.AnalysisRecord) *Report {
	return &Report{
		Summary:         rec.Summary,
		Patterns:        rec.Patterns,
		Insights:        rec.Insights,
		Recommendations: rec.Recommendations,
		Model:           rec.Model,
		CreatedAt:       rec.CreatedAt,
		Cached:          true,
	}
}
