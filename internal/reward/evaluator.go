// Package reward decides whether a child earned a contract's daily reward
// and writes that reward to the wallet ledger at most once per
// (child, contract, date).
package reward

import (
	"context"
	"fmt"
	"time"

	"github.com/dukerupert/allowance/internal/model"
	"github.com/dukerupert/allowance/internal/recurrence"
)

// Reasons a contract is not eligible on a date.
const (
	ReasonInactive        = "contract inactive"
	ReasonOutOfRange      = "date outside contract range"
	ReasonTasksIncomplete = "tasks incomplete"
	ReasonViolation       = "rule violation"
)

// TaskCounter reports tasks due for a child on a day. *store.TaskStore
// satisfies it.
type TaskCounter interface {
	DueCounts(ctx context.Context, childID int64, day time.Time) (total, incomplete int, err error)
}

// ViolationCounter reports rule violations for a child on a day.
// *store.ContractStore satisfies it.
type ViolationCounter interface {
	CountViolations(ctx context.Context, childID int64, day time.Time) (int, error)
}

// Eligibility is the outcome of evaluating one contract on one date. Both
// predicates are always evaluated so callers can report them.
type Eligibility struct {
	ContractID      int64     `json:"contract_id"`
	ChildID         int64     `json:"child_id"`
	Date            time.Time `json:"date"`
	TasksDue        int       `json:"tasks_due"`
	TasksIncomplete int       `json:"tasks_incomplete"`
	Violations      int       `json:"violations"`
	TasksComplete   bool      `json:"tasks_complete"`
	NoViolations    bool      `json:"no_violations"`
	Eligible        bool      `json:"eligible"`
	Reason          string    `json:"reason,omitempty"`
}

type Evaluator struct {
	tasks      TaskCounter
	violations ViolationCounter
}

func NewEvaluator(tasks TaskCounter, violations ViolationCounter) *Evaluator {
	return &Evaluator{tasks: tasks, violations: violations}
}

// IsEligible reads persisted state for the contract's child on date. A child
// with no tasks due is vacuously complete.
func (e *Evaluator) IsEligible(ctx context.Context, c model.Contract, date time.Time) (Eligibility, error) {
	date = recurrence.Day(date)
	el := Eligibility{ContractID: c.ID, ChildID: c.ChildID, Date: date}

	total, incomplete, err := e.tasks.DueCounts(ctx, c.ChildID, date)
	if err != nil {
		return el, fmt.Errorf("task completion for child %d: %w", c.ChildID, err)
	}
	el.TasksDue, el.TasksIncomplete = total, incomplete
	el.TasksComplete = incomplete == 0

	n, err := e.violations.CountViolations(ctx, c.ChildID, date)
	if err != nil {
		return el, fmt.Errorf("violations for child %d: %w", c.ChildID, err)
	}
	el.Violations = n
	el.NoViolations = n == 0

	switch {
	case !c.Active:
		el.Reason = ReasonInactive
	case !c.Covers(date):
		el.Reason = ReasonOutOfRange
	case !el.NoViolations:
		el.Reason = ReasonViolation
	case !el.TasksComplete:
		el.Reason = ReasonTasksIncomplete
	default:
		el.Eligible = true
	}
	return el, nil
}
