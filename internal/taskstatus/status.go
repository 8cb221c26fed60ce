package taskstatus

import (
	"time"

	"github.com/dukerupert/allowance/internal/model"
	"github.com/dukerupert/allowance/internal/recurrence"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusOverdue   Status = "overdue"
	StatusNotDue    Status = "not_due"
	StatusCancelled Status = "cancelled"
)

// Occurrence is an occurrence annotated with its status as of some day.
type Occurrence struct {
	model.TaskOccurrence
	Status Status `json:"status"`
}

// ForOccurrence reports where an occurrence stands on today. Completion
// wins over the calendar; cancellation wins over everything.
func ForOccurrence(o model.TaskOccurrence, today time.Time) Status {
	today = recurrence.Day(today)
	due := recurrence.Day(o.DueDate)

	switch {
	case o.Cancelled:
		return StatusCancelled
	case o.Completed:
		return StatusCompleted
	case due.After(today):
		return StatusNotDue
	case due.Before(today):
		return StatusOverdue
	}
	return StatusPending
}

// ForTask is ForOccurrence for a one-off task.
func ForTask(t model.Task, today time.Time) Status {
	return ForOccurrence(model.TaskOccurrence{DueDate: t.DueDate, Completed: t.Completed}, today)
}

// Annotate pairs each occurrence with its status.
func Annotate(occs []model.TaskOccurrence, today time.Time) []Occurrence {
	out := make([]Occurrence, 0, len(occs))
	for _, o := range occs {
		out = append(out, Occurrence{TaskOccurrence: o, Status: ForOccurrence(o, today)})
	}
	return out
}
