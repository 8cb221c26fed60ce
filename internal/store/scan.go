package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/allowance/internal/recurrence"
	"github.com/shopspring/decimal"
)

type scanner interface{ Scan(...any) error }

func parseDay(s string) (time.Time, error) {
	t, err := recurrence.ParseDate(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("stored date: %w", err)
	}
	return t, nil
}

func parseNullDay(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseDay(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func dayArg(t time.Time) string {
	return recurrence.FormatDate(recurrence.Day(t))
}

func nullDayArg(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: dayArg(*t), Valid: true}
}

// Money is stored as integer cents.

func toCents(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

func fromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}
