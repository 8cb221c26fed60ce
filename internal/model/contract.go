package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Contract struct {
	ID          int64           `json:"id"`
	Title       string          `json:"title"`
	ChildID     int64           `json:"child_id"`
	ParentID    int64           `json:"parent_id"`
	DailyReward decimal.Decimal `json:"daily_reward"`
	StartDate   time.Time       `json:"start_date"`
	EndDate     time.Time       `json:"end_date"`
	Active      bool            `json:"active"`
	RuleIDs     []int64         `json:"rule_ids"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Covers reports whether day falls inside [StartDate, EndDate].
func (c Contract) Covers(day time.Time) bool {
	return !day.Before(c.StartDate) && !day.After(c.EndDate)
}

type Rule struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type RuleViolation struct {
	ID          int64     `json:"id"`
	RuleID      int64     `json:"rule_id"`
	ChildID     int64     `json:"child_id"`
	Date        time.Time `json:"date"`
	Description string    `json:"description"`
	ReportedBy  int64     `json:"reported_by"`
	CreatedAt   time.Time `json:"created_at"`
}
