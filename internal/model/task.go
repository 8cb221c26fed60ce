package model

import "time"

// Task is a one-off task, independent of any series.
type Task struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	DueDate     time.Time `json:"due_date"`
	Completed   bool      `json:"completed"`
	CreatedBy   int64     `json:"created_by"`
	AssigneeIDs []int64   `json:"assignee_ids"`
	CreatedAt   time.Time `json:"created_at"`
}
