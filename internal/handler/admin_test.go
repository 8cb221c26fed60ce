package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/allowance/internal/scheduler"
)

type fakeRunner struct {
	target       *time.Time
	start, end   time.Time
	reprocessErr error
	runDailyErr  error
	called       int
}

func (f *fakeRunner) RunDailyCycle(_ context.Context, target *time.Time) (scheduler.CycleSummary, error) {
	f.called++
	f.target = target
	if f.runDailyErr != nil {
		return scheduler.CycleSummary{}, f.runDailyErr
	}
	return scheduler.CycleSummary{RunID: "run-1", RewardsCredited: 2, AmountCredited: decimal.NewFromInt(3)}, nil
}

func (f *fakeRunner) Reprocess(_ context.Context, start, end time.Time) (scheduler.ReprocessSummary, error) {
	f.called++
	f.start, f.end = start, end
	if f.reprocessErr != nil {
		return scheduler.ReprocessSummary{}, f.reprocessErr
	}
	return scheduler.ReprocessSummary{StartDate: start, EndDate: end, RewardsCredited: 4}, nil
}

func TestAdminReprocess(t *testing.T) {
	runner := &fakeRunner{}
	h := NewAdminHandler(runner, discard)

	rec := do(t, "POST /api/admin/reprocess", h.Reprocess, http.MethodPost, "/api/admin/reprocess",
		map[string]string{"startDate": "2024-01-01", "endDate": "2024-01-05"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, day("2024-01-01"), runner.start)
	assert.Equal(t, day("2024-01-05"), runner.end)
	assert.Equal(t, 4, decode[scheduler.ReprocessSummary](t, rec).RewardsCredited)
}

func TestAdminReprocessRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		body map[string]string
	}{
		{"missing end", map[string]string{"startDate": "2024-01-01"}},
		{"bad format", map[string]string{"startDate": "01/01/2024", "endDate": "2024-01-05"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{}
			rec := do(t, "POST /api/admin/reprocess", NewAdminHandler(runner, discard).Reprocess,
				http.MethodPost, "/api/admin/reprocess", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Zero(t, runner.called)
		})
	}
}

func TestAdminReprocessValidationError(t *testing.T) {
	runner := &fakeRunner{reprocessErr: &scheduler.ValidationError{Msg: "range spans 45 days, maximum is 30"}}
	rec := do(t, "POST /api/admin/reprocess", NewAdminHandler(runner, discard).Reprocess, http.MethodPost,
		"/api/admin/reprocess", map[string]string{"startDate": "2024-01-01", "endDate": "2024-02-14"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "range spans 45 days, maximum is 30", errorOf(t, rec))
}

func TestAdminReprocessFailure(t *testing.T) {
	runner := &fakeRunner{reprocessErr: errors.New("database is locked")}
	rec := do(t, "POST /api/admin/reprocess", NewAdminHandler(runner, discard).Reprocess, http.MethodPost,
		"/api/admin/reprocess", map[string]string{"startDate": "2024-01-01", "endDate": "2024-01-02"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAdminRunDaily(t *testing.T) {
	runner := &fakeRunner{}
	h := NewAdminHandler(runner, discard)

	rec := do(t, "POST /api/admin/run-daily", h.RunDaily, http.MethodPost, "/api/admin/run-daily", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Nil(t, runner.target)
	assert.Equal(t, "run-1", decode[scheduler.CycleSummary](t, rec).RunID)

	rec = do(t, "POST /api/admin/run-daily", h.RunDaily, http.MethodPost, "/api/admin/run-daily", map[string]string{"date": "2024-06-01"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, runner.target)
	assert.Equal(t, day("2024-06-01"), *runner.target)

	rec = do(t, "POST /api/admin/run-daily", h.RunDaily, http.MethodPost, "/api/admin/run-daily", map[string]string{"date": "June 1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRunDailyFutureDate(t *testing.T) {
	runner := &fakeRunner{runDailyErr: &scheduler.ValidationError{Msg: "target date 2024-01-20 is in the future (today is 2024-01-05)"}}

	rec := do(t, "POST /api/admin/run-daily", NewAdminHandler(runner, discard).RunDaily, http.MethodPost,
		"/api/admin/run-daily", map[string]string{"date": "2024-01-20"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, errorOf(t, rec), "in the future")
}
