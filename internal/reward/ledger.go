package reward

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/allowance/internal/metrics"
	"github.com/dukerupert/allowance/internal/model"
	"github.com/dukerupert/allowance/internal/recurrence"
	"github.com/shopspring/decimal"
)

// RewardWriter writes a daily reward exactly once per key. *store.WalletStore
// satisfies it.
type RewardWriter interface {
	CreditDailyReward(ctx context.Context, childID, contractID int64, amount decimal.Decimal, day time.Time) (bool, error)
}

// CreditResult reports what CreditIfEligible did. Credited is false both for
// ineligible dates and for keys that were already credited; AlreadyCredited
// tells them apart.
type CreditResult struct {
	Credited        bool            `json:"credited"`
	AlreadyCredited bool            `json:"already_credited"`
	Amount          decimal.Decimal `json:"amount"`
	Eligibility     Eligibility     `json:"eligibility"`
}

type Ledger struct {
	evaluator *Evaluator
	wallets   RewardWriter
	logger    *slog.Logger
}

func NewLedger(evaluator *Evaluator, wallets RewardWriter, logger *slog.Logger) *Ledger {
	return &Ledger{
		evaluator: evaluator,
		wallets:   wallets,
		logger:    logger.With("component", "ledger"),
	}
}

// CreditIfEligible evaluates the contract on date and, when eligible, writes
// its daily reward. Safe to call any number of times, concurrently or not:
// the ledger's unique key admits a single row and a losing writer reports
// AlreadyCredited instead of an error.
func (l *Ledger) CreditIfEligible(ctx context.Context, c model.Contract, date time.Time) (CreditResult, error) {
	date = recurrence.Day(date)
	el, err := l.evaluator.IsEligible(ctx, c, date)
	if err != nil {
		return CreditResult{Eligibility: el}, err
	}
	res := CreditResult{Eligibility: el, Amount: decimal.Zero}
	if !el.Eligible {
		metrics.RewardsSkipped.WithLabelValues("ineligible").Inc()
		l.logger.Debug("not eligible",
			"contract_id", c.ID, "child_id", c.ChildID,
			"date", recurrence.FormatDate(date), "reason", el.Reason,
		)
		return res, nil
	}

	credited, err := l.wallets.CreditDailyReward(ctx, c.ChildID, c.ID, c.DailyReward, date)
	if err != nil {
		return res, fmt.Errorf("credit contract %d on %s: %w", c.ID, recurrence.FormatDate(date), err)
	}
	if !credited {
		res.AlreadyCredited = true
		metrics.RewardsSkipped.WithLabelValues("already_credited").Inc()
		l.logger.Info("already credited",
			"contract_id", c.ID, "child_id", c.ChildID, "date", recurrence.FormatDate(date),
		)
		return res, nil
	}

	res.Credited = true
	res.Amount = c.DailyReward
	metrics.RewardsCredited.Inc()
	l.logger.Info("reward credited",
		"contract_id", c.ID, "child_id", c.ChildID,
		"date", recurrence.FormatDate(date), "amount", c.DailyReward.StringFixed(2),
	)
	return res, nil
}
