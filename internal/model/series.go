package model

import "time"

// TaskSeries is a recurring task definition. Dates are calendar days at
// midnight UTC; UntilDate nil means the series never ends.
type TaskSeries struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	CreatorID   int64      `json:"creator_id"`
	StartDate   time.Time  `json:"start_date"`
	UntilDate   *time.Time `json:"until_date"`
	RRule       string     `json:"rrule"`
	Timezone    string     `json:"timezone"`
	AssigneeIDs []int64    `json:"assignee_ids"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TaskOccurrence is one dated instance of a series. (SeriesID, DueDate) is
// unique.
type TaskOccurrence struct {
	ID        int64     `json:"id"`
	SeriesID  int64     `json:"series_id"`
	DueDate   time.Time `json:"due_date"`
	Completed bool      `json:"completed"`
	Cancelled bool      `json:"cancelled"`
	CreatedAt time.Time `json:"created_at"`
}
