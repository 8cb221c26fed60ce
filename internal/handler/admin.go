package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/allowance/internal/recurrence"
	"github.com/dukerupert/allowance/internal/scheduler"
)

// CycleRunner is the slice of *scheduler.Driver the admin routes drive.
type CycleRunner interface {
	RunDailyCycle(ctx context.Context, target *time.Time) (scheduler.CycleSummary, error)
	Reprocess(ctx context.Context, start, end time.Time) (scheduler.ReprocessSummary, error)
}

type AdminHandler struct {
	driver CycleRunner
	logger *slog.Logger
}

func NewAdminHandler(driver CycleRunner, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{driver: driver, logger: logger}
}

type reprocessRequest struct {
	StartDate string `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"endDate" validate:"required,datetime=2006-01-02"`
}

// Reprocess re-runs reward evaluation over a past date range. Range errors
// are answered with 400 before anything is read.
func (h *AdminHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	var req reprocessRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	start, _ := recurrence.ParseDate(req.StartDate)
	end, _ := recurrence.ParseDate(req.EndDate)

	sum, err := h.driver.Reprocess(r.Context(), start, end)
	var verr *scheduler.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Msg)
		return
	case err != nil:
		h.logger.Error("reprocess", "start", req.StartDate, "end", req.EndDate, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "reprocess failed",
			"summary": sum,
		})
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

type runDailyRequest struct {
	Date string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

// RunDaily triggers one daily cycle. With no date it credits yesterday; a
// date after today is answered with 400.
func (h *AdminHandler) RunDaily(w http.ResponseWriter, r *http.Request) {
	var req runDailyRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	target, _ := parseOptionalDate(req.Date)

	sum, err := h.driver.RunDailyCycle(r.Context(), target)
	var verr *scheduler.ValidationError
	if errors.As(err, &verr) {
		writeError(w, http.StatusBadRequest, verr.Msg)
		return
	}
	if err != nil {
		h.logger.Error("run daily cycle", "date", req.Date, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "daily cycle failed",
			"summary": sum,
		})
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
