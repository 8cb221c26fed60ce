// Package scheduler drives the daily cycle: materialize occurrences, then
// evaluate and credit every active contract for a target date.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dukerupert/allowance/internal/lease"
	"github.com/dukerupert/allowance/internal/materialize"
	"github.com/dukerupert/allowance/internal/metrics"
	"github.com/dukerupert/allowance/internal/model"
	"github.com/dukerupert/allowance/internal/recurrence"
	"github.com/dukerupert/allowance/internal/reward"
	"github.com/dukerupert/allowance/internal/websocket"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultMaxReprocessDays caps an admin reprocess range, inclusive.
const DefaultMaxReprocessDays = 30

type State int32

const (
	StateIdle State = iota
	StateMaterializing
	StateEvaluating
	StateCrediting
)

func (s State) String() string {
	switch s {
	case StateMaterializing:
		return "materializing"
	case StateEvaluating:
		return "evaluating"
	case StateCrediting:
		return "crediting"
	}
	return "idle"
}

// ContractLister returns the contracts to evaluate on a date.
// *store.ContractStore satisfies it.
type ContractLister interface {
	ListActiveOn(ctx context.Context, day time.Time) ([]model.Contract, error)
}

// Broadcaster receives live events. *websocket.Hub satisfies it.
type Broadcaster interface {
	Broadcast(msg websocket.Message)
}

type Config struct {
	Location         *time.Location
	MaxReprocessDays int
	RunOffset        time.Duration // delay after local midnight before the daily run
	LeaseName        string
}

// Failure is one entity that could not be processed in a cycle.
type Failure struct {
	Kind string    `json:"kind"` // "materialize" or "credit"
	ID   int64     `json:"id"`
	Date time.Time `json:"date"`
	Err  string    `json:"error"`
}

type CycleSummary struct {
	RunID              string          `json:"run_id"`
	TargetDate         time.Time       `json:"target_date"`
	OccurrencesCreated int             `json:"occurrences_created"`
	OccurrencesSkipped int             `json:"occurrences_skipped"`
	RewardsCredited    int             `json:"rewards_credited"`
	RewardsSkipped     int             `json:"rewards_skipped"`
	Ineligible         int             `json:"ineligible"`
	AmountCredited     decimal.Decimal `json:"amount_credited"`
	Failures           []Failure       `json:"failures"`
}

type ReprocessSummary struct {
	StartDate          time.Time       `json:"start_date"`
	EndDate            time.Time       `json:"end_date"`
	OccurrencesCreated int             `json:"occurrences_created"`
	OccurrencesSkipped int             `json:"occurrences_skipped"`
	RewardsCredited    int             `json:"rewards_credited"`
	RewardsSkipped     int             `json:"rewards_skipped"`
	Ineligible         int             `json:"ineligible"`
	AmountCredited     decimal.Decimal `json:"amount_credited"`
	Failures           int             `json:"failures"`
	Cycles             []CycleSummary  `json:"cycles"`
}

// ValidationError rejects a request before any work is done.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

type Driver struct {
	materializer *materialize.Materializer
	contracts    ContractLister
	ledger       *reward.Ledger
	locker       lease.Locker
	hub          Broadcaster
	cfg          Config
	logger       *slog.Logger
	now          func() time.Time

	state atomic.Int32

	mu     sync.RWMutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a driver. locker and hub may be nil.
func New(m *materialize.Materializer, contracts ContractLister, ledger *reward.Ledger, locker lease.Locker, hub Broadcaster, cfg Config, logger *slog.Logger) *Driver {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MaxReprocessDays <= 0 {
		cfg.MaxReprocessDays = DefaultMaxReprocessDays
	}
	if cfg.LeaseName == "" {
		cfg.LeaseName = "daily-cycle"
	}
	return &Driver{
		materializer: m,
		contracts:    contracts,
		ledger:       ledger,
		locker:       locker,
		hub:          hub,
		cfg:          cfg,
		logger:       logger.With("component", "scheduler"),
		now:          time.Now,
	}
}

func (d *Driver) State() State {
	return State(d.state.Load())
}

func (d *Driver) setState(s State) {
	d.state.Store(int32(s))
}

// Today is the current calendar day in the configured timezone.
func (d *Driver) Today() time.Time {
	return recurrence.Today(d.now(), d.cfg.Location)
}

// RunDailyCycle materializes occurrences from today and credits every active
// contract for target. A nil target means yesterday. Per-entity failures are
// collected in the summary; the error is only for failures that stop the
// cycle from evaluating anything. A target after today is rejected with a
// ValidationError before anything is read.
func (d *Driver) RunDailyCycle(ctx context.Context, target *time.Time) (CycleSummary, error) {
	today := d.Today()
	date := recurrence.AddDays(today, -1)
	if target != nil {
		date = recurrence.Day(*target)
		if date.After(today) {
			return CycleSummary{}, &ValidationError{Msg: fmt.Sprintf("target date %s is in the future (today is %s)",
				recurrence.FormatDate(date), recurrence.FormatDate(today))}
		}
	}
	return d.runCycle(ctx, today, date, true)
}

// OnSeriesChanged regenerates occurrences for one series immediately.
func (d *Driver) OnSeriesChanged(ctx context.Context, seriesID int64) (materialize.SeriesResult, error) {
	res, err := d.materializer.MaterializeSeries(ctx, seriesID, d.Today())
	if err != nil {
		d.logger.Error("rematerialize series", "series_id", seriesID, "error", err)
		return res, err
	}
	if d.hub != nil {
		d.hub.Broadcast(websocket.NewMessage("series", "changed", seriesID, map[string]any{
			"created": res.Created,
		}))
	}
	return res, nil
}

// ValidateRange checks a reprocess range against today.
func (d *Driver) ValidateRange(start, end time.Time) error {
	start, end = recurrence.Day(start), recurrence.Day(end)
	if start.After(end) {
		return &ValidationError{Msg: fmt.Sprintf("start date %s is after end date %s",
			recurrence.FormatDate(start), recurrence.FormatDate(end))}
	}
	if span := recurrence.DaysBetween(start, end) + 1; span > d.cfg.MaxReprocessDays {
		return &ValidationError{Msg: fmt.Sprintf("range spans %d days, maximum is %d", span, d.cfg.MaxReprocessDays)}
	}
	if today := d.Today(); end.After(today) {
		return &ValidationError{Msg: fmt.Sprintf("end date %s is in the future (today is %s)",
			recurrence.FormatDate(end), recurrence.FormatDate(today))}
	}
	return nil
}

// Reprocess re-runs reward evaluation for every date in [start, end].
// Occurrences are materialized once, before the first date.
func (d *Driver) Reprocess(ctx context.Context, start, end time.Time) (ReprocessSummary, error) {
	if err := d.ValidateRange(start, end); err != nil {
		return ReprocessSummary{}, err
	}
	start, end = recurrence.Day(start), recurrence.Day(end)
	today := d.Today()

	sum := ReprocessSummary{StartDate: start, EndDate: end, AmountCredited: decimal.Zero}
	for date := start; !date.After(end); date = recurrence.AddDays(date, 1) {
		cs, err := d.runCycle(ctx, today, date, date.Equal(start))
		sum.Cycles = append(sum.Cycles, cs)
		sum.OccurrencesCreated += cs.OccurrencesCreated
		sum.OccurrencesSkipped += cs.OccurrencesSkipped
		sum.RewardsCredited += cs.RewardsCredited
		sum.RewardsSkipped += cs.RewardsSkipped
		sum.Ineligible += cs.Ineligible
		sum.AmountCredited = sum.AmountCredited.Add(cs.AmountCredited)
		sum.Failures += len(cs.Failures)
		if err != nil {
			return sum, fmt.Errorf("reprocess %s: %w", recurrence.FormatDate(date), err)
		}
	}

	d.logger.Info("reprocess complete",
		"start", recurrence.FormatDate(start),
		"end", recurrence.FormatDate(end),
		"credited", sum.RewardsCredited,
		"amount", sum.AmountCredited.StringFixed(2),
		"failures", sum.Failures,
	)
	return sum, nil
}

func (d *Driver) runCycle(ctx context.Context, today, date time.Time, materializeFirst bool) (CycleSummary, error) {
	started := d.now()
	defer d.setState(StateIdle)

	sum := CycleSummary{
		RunID:          uuid.NewString(),
		TargetDate:     date,
		AmountCredited: decimal.Zero,
		Failures:       []Failure{},
	}
	log := d.logger.With("run_id", sum.RunID, "target_date", recurrence.FormatDate(date))

	if materializeFirst {
		d.setState(StateMaterializing)
		res, err := d.materializer.Materialize(ctx, today)
		if err != nil {
			// Listing series failed; crediting can still proceed on what
			// is already stored.
			log.Error("materialize", "error", err)
			metrics.Failures.WithLabelValues("materialize").Inc()
			sum.Failures = append(sum.Failures, Failure{Kind: "materialize", Date: today, Err: err.Error()})
		}
		sum.OccurrencesCreated = res.Created
		sum.OccurrencesSkipped = res.Skipped
		for _, f := range res.Failures {
			sum.Failures = append(sum.Failures, Failure{Kind: "materialize", ID: f.SeriesID, Date: today, Err: f.Err.Error()})
		}
	}

	d.setState(StateEvaluating)
	contracts, err := d.contracts.ListActiveOn(ctx, date)
	if err != nil {
		return sum, fmt.Errorf("list contracts: %w", err)
	}

	d.setState(StateCrediting)
	for _, c := range contracts {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		res, err := d.ledger.CreditIfEligible(ctx, c, date)
		if err != nil {
			log.Error("credit contract", "contract_id", c.ID, "child_id", c.ChildID, "error", err)
			metrics.Failures.WithLabelValues("credit").Inc()
			sum.Failures = append(sum.Failures, Failure{Kind: "credit", ID: c.ID, Date: date, Err: err.Error()})
			continue
		}
		switch {
		case res.Credited:
			sum.RewardsCredited++
			sum.AmountCredited = sum.AmountCredited.Add(res.Amount)
			d.notifyCredit(c, date, res.Amount)
		case res.AlreadyCredited:
			sum.RewardsSkipped++
		default:
			sum.Ineligible++
		}
	}

	metrics.CycleDuration.Observe(d.now().Sub(started).Seconds())
	metrics.LastCycleTimestamp.Set(float64(d.now().Unix()))
	log.Info("daily cycle complete",
		"contracts", len(contracts),
		"occurrences_created", sum.OccurrencesCreated,
		"credited", sum.RewardsCredited,
		"already_credited", sum.RewardsSkipped,
		"ineligible", sum.Ineligible,
		"amount", sum.AmountCredited.StringFixed(2),
		"failures", len(sum.Failures),
	)
	return sum, nil
}

func (d *Driver) notifyCredit(c model.Contract, date time.Time, amount decimal.Decimal) {
	if d.hub == nil {
		return
	}
	d.hub.Broadcast(websocket.NewMessage("wallet", "credited", c.ChildID, map[string]any{
		"contract_id": c.ID,
		"date":        recurrence.FormatDate(date),
		"amount":      amount.StringFixed(2),
	}).ForChild(c.ChildID))
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
