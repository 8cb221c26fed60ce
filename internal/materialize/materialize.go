// Package materialize turns task series into dated occurrence rows inside a
// rolling horizon. Runs are idempotent: dates that already have an
// occurrence are skipped, and nothing is ever deleted here.
package materialize

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/allowance/internal/metrics"
	"github.com/dukerupert/allowance/internal/model"
	"github.com/dukerupert/allowance/internal/recurrence"
)

// DefaultHorizonDays is how far past today occurrences are generated.
const DefaultHorizonDays = 30

// SeriesRepo is the storage the materializer needs. *store.SeriesStore
// satisfies it.
type SeriesRepo interface {
	ListActive(ctx context.Context, day time.Time) ([]model.TaskSeries, error)
	GetByID(ctx context.Context, id int64) (*model.TaskSeries, error)
	InsertOccurrences(ctx context.Context, seriesID int64, dates []time.Time) (int, error)
}

type SeriesResult struct {
	SeriesID int64 `json:"series_id"`
	Created  int   `json:"created"`
	Skipped  int   `json:"skipped"`
}

type Failure struct {
	SeriesID int64
	Err      error
}

type Result struct {
	Series   []SeriesResult
	Created  int
	Skipped  int
	Failures []Failure
}

type Materializer struct {
	repo        SeriesRepo
	horizonDays int
	logger      *slog.Logger
}

func New(repo SeriesRepo, horizonDays int, logger *slog.Logger) *Materializer {
	if horizonDays <= 0 {
		horizonDays = DefaultHorizonDays
	}
	return &Materializer{
		repo:        repo,
		horizonDays: horizonDays,
		logger:      logger.With("component", "materializer"),
	}
}

// Materialize fills [today, today+horizon] for every series still running on
// today. A failing series is recorded and the run moves on; the returned
// error is only for failures to list series at all.
func (m *Materializer) Materialize(ctx context.Context, today time.Time) (Result, error) {
	today = recurrence.Day(today)
	all, err := m.repo.ListActive(ctx, today)
	if err != nil {
		return Result{}, fmt.Errorf("list active series: %w", err)
	}

	var res Result
	for _, s := range all {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		sr, err := m.materialize(ctx, s, today)
		if err != nil {
			m.logger.Error("materialize series", "series_id", s.ID, "error", err)
			metrics.Failures.WithLabelValues("materialize").Inc()
			res.Failures = append(res.Failures, Failure{SeriesID: s.ID, Err: err})
			continue
		}
		res.Series = append(res.Series, sr)
		res.Created += sr.Created
		res.Skipped += sr.Skipped
	}

	m.logger.Info("materialized",
		"today", recurrence.FormatDate(today),
		"series", len(all),
		"created", res.Created,
		"skipped", res.Skipped,
		"failures", len(res.Failures),
	)
	return res, nil
}

// MaterializeSeries runs one series. A series that no longer exists yields
// an empty result.
func (m *Materializer) MaterializeSeries(ctx context.Context, seriesID int64, today time.Time) (SeriesResult, error) {
	s, err := m.repo.GetByID(ctx, seriesID)
	if err != nil {
		return SeriesResult{}, fmt.Errorf("get series: %w", err)
	}
	if s == nil {
		return SeriesResult{SeriesID: seriesID}, nil
	}
	sr, err := m.materialize(ctx, *s, recurrence.Day(today))
	if err != nil {
		metrics.Failures.WithLabelValues("materialize").Inc()
		return SeriesResult{SeriesID: seriesID}, err
	}
	return sr, nil
}

func (m *Materializer) materialize(ctx context.Context, s model.TaskSeries, today time.Time) (SeriesResult, error) {
	sr := SeriesResult{SeriesID: s.ID}

	rule, err := recurrence.Parse(s.RRule)
	if err != nil {
		return sr, fmt.Errorf("parse rrule %q: %w", s.RRule, err)
	}
	sched := recurrence.Schedule{Rule: rule, Start: s.StartDate, Until: s.UntilDate}

	from := recurrence.MaxDate(today, recurrence.Day(s.StartDate))
	to := recurrence.AddDays(today, m.horizonDays)
	dates := sched.Expand(from, to)
	if len(dates) == 0 {
		return sr, nil
	}

	created, err := m.repo.InsertOccurrences(ctx, s.ID, dates)
	if err != nil {
		return sr, err
	}
	sr.Created = created
	sr.Skipped = len(dates) - created

	metrics.OccurrencesCreated.Add(float64(sr.Created))
	metrics.OccurrencesSkipped.Add(float64(sr.Skipped))
	m.logger.Debug("series materialized", "series_id", s.ID, "created", sr.Created, "skipped", sr.Skipped)
	return sr, nil
}
