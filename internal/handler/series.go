package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/allowance/internal/materialize"
	"github.com/dukerupert/allowance/internal/model"
	"github.com/dukerupert/allowance/internal/recurrence"
	"github.com/dukerupert/allowance/internal/store"
	"github.com/dukerupert/allowance/internal/taskstatus"
	"github.com/dukerupert/allowance/internal/websocket"
)

// SeriesNotifier regenerates occurrences after a series changes.
// *scheduler.Driver satisfies it.
type SeriesNotifier interface {
	OnSeriesChanged(ctx context.Context, seriesID int64) (materialize.SeriesResult, error)
	Today() time.Time
}

type SeriesHandler struct {
	series      *store.SeriesStore
	users       *store.UserStore
	driver      SeriesNotifier
	horizonDays int
	hub         Broadcaster
	logger      *slog.Logger
}

// NewSeriesHandler creates a SeriesHandler. horizonDays sets the default
// occurrence listing window; zero means materialize.DefaultHorizonDays.
func NewSeriesHandler(ss *store.SeriesStore, us *store.UserStore, driver SeriesNotifier, horizonDays int, hub Broadcaster, logger *slog.Logger) *SeriesHandler {
	if horizonDays <= 0 {
		horizonDays = materialize.DefaultHorizonDays
	}
	return &SeriesHandler{series: ss, users: us, driver: driver, horizonDays: horizonDays, hub: hub, logger: logger}
}

// seriesRequest accepts either a weekday list (Monday=1 ... Sunday=7) or a
// raw RRULE.
type seriesRequest struct {
	Title       string  `json:"title" validate:"required,max=200"`
	Description string  `json:"description" validate:"max=2000"`
	CreatorID   int64   `json:"creator_id" validate:"required,gt=0"`
	StartDate   string  `json:"start_date" validate:"required,datetime=2006-01-02"`
	UntilDate   string  `json:"until_date" validate:"omitempty,datetime=2006-01-02"`
	Weekdays    []int   `json:"weekdays" validate:"omitempty,dive,min=1,max=7"`
	RRule       string  `json:"rrule"`
	Timezone    string  `json:"timezone"`
	AssigneeIDs []int64 `json:"assignee_ids" validate:"dive,gt=0"`
}

type seriesResponse struct {
	*model.TaskSeries
	Schedule     string                    `json:"schedule"`
	Materialized *materialize.SeriesResult `json:"materialized,omitempty"`
}

// badRequest marks a toInput failure the caller should answer with 400.
type badRequest string

func (e badRequest) Error() string { return string(e) }

// toInput validates the request and builds the canonical store input.
func (h *SeriesHandler) toInput(ctx context.Context, req seriesRequest) (store.SeriesInput, error) {
	in := store.SeriesInput{
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		CreatorID:   req.CreatorID,
		Timezone:    req.Timezone,
		AssigneeIDs: req.AssigneeIDs,
	}
	if in.Title == "" {
		return in, badRequest("title is required")
	}
	if in.Timezone == "" {
		in.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(in.Timezone); err != nil {
		return in, badRequest("unknown timezone")
	}

	var rule recurrence.Rule
	var err error
	switch {
	case len(req.Weekdays) > 0 && req.RRule != "":
		return in, badRequest("give either weekdays or rrule, not both")
	case len(req.Weekdays) > 0:
		rule, err = recurrence.WeeklyOn(req.Weekdays)
	case req.RRule != "":
		rule, err = recurrence.Parse(req.RRule)
	default:
		return in, badRequest("weekdays or rrule is required")
	}
	if err != nil {
		return in, badRequest("invalid recurrence: " + err.Error())
	}
	in.RRule = rule.String()

	in.StartDate, _ = recurrence.ParseDate(req.StartDate)
	in.UntilDate, _ = parseOptionalDate(req.UntilDate)
	sched := recurrence.Schedule{Rule: rule, Start: in.StartDate, Until: in.UntilDate}
	if err := sched.Validate(); err != nil {
		return in, badRequest(err.Error())
	}

	creator, err := h.users.GetByID(ctx, req.CreatorID)
	if err != nil {
		return in, err
	}
	if creator == nil || creator.Role != model.RoleParent {
		return in, badRequest("creator must be a parent")
	}
	for _, id := range req.AssigneeIDs {
		u, err := h.users.GetByID(ctx, id)
		if err != nil {
			return in, err
		}
		if u == nil || u.Role != model.RoleChild {
			return in, badRequest("assignees must be children")
		}
	}
	return in, nil
}

// readInput decodes and validates a series body, answering the request
// itself on failure.
func (h *SeriesHandler) readInput(w http.ResponseWriter, r *http.Request) (store.SeriesInput, bool) {
	var req seriesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return store.SeriesInput{}, false
	}
	in, err := h.toInput(r.Context(), req)
	var bad badRequest
	switch {
	case errors.As(err, &bad):
		writeError(w, http.StatusBadRequest, bad.Error())
		return in, false
	case err != nil:
		h.logger.Error("check series users", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to check users")
		return in, false
	}
	return in, true
}

func (h *SeriesHandler) respond(w http.ResponseWriter, status int, s *model.TaskSeries, mat *materialize.SeriesResult) {
	resp := seriesResponse{TaskSeries: s, Materialized: mat}
	if rule, err := recurrence.Parse(s.RRule); err == nil {
		resp.Schedule = rule.Describe()
	}
	writeJSON(w, status, resp)
}

// rematerialize runs the driver hook. A failure is logged but does not fail
// the request; the next daily cycle catches up.
func (h *SeriesHandler) rematerialize(ctx context.Context, id int64) *materialize.SeriesResult {
	res, err := h.driver.OnSeriesChanged(ctx, id)
	if err != nil {
		h.logger.Error("rematerialize after change", "series_id", id, "error", err)
		return nil
	}
	return &res
}

func (h *SeriesHandler) Create(w http.ResponseWriter, r *http.Request) {
	in, ok := h.readInput(w, r)
	if !ok {
		return
	}

	s, err := h.series.Create(r.Context(), in)
	if err != nil {
		h.logger.Error("create series", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create series")
		return
	}

	mat := h.rematerialize(r.Context(), s.ID)
	h.respond(w, http.StatusCreated, s, mat)
}

func (h *SeriesHandler) List(w http.ResponseWriter, r *http.Request) {
	all, err := h.series.List(r.Context())
	if err != nil {
		h.logger.Error("list series", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list series")
		return
	}
	if all == nil {
		all = []model.TaskSeries{}
	}
	writeJSON(w, http.StatusOK, all)
}

func (h *SeriesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s, err := h.series.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get series")
		return
	}
	if s == nil {
		writeError(w, http.StatusNotFound, "series not found")
		return
	}
	h.respond(w, http.StatusOK, s, nil)
}

// Update rewrites the series, drops its occurrences from today on and
// regenerates them from the new rule. Past occurrences are kept.
func (h *SeriesHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	in, ok := h.readInput(w, r)
	if !ok {
		return
	}

	s, err := h.series.Update(r.Context(), id, in, h.driver.Today())
	if err != nil {
		h.logger.Error("update series", "series_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update series")
		return
	}
	if s == nil {
		writeError(w, http.StatusNotFound, "series not found")
		return
	}

	mat := h.rematerialize(r.Context(), id)
	h.respond(w, http.StatusOK, s, mat)
}

// Delete ends the series: future occurrences go, history stays.
func (h *SeriesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	found, err := h.series.EndSeries(r.Context(), id, h.driver.Today())
	if err != nil {
		h.logger.Error("end series", "series_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete series")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "series not found")
		return
	}

	h.rematerialize(r.Context(), id)
	broadcast(h.hub, websocket.NewMessage("series", "deleted", id, nil))
	w.WriteHeader(http.StatusNoContent)
}

// Occurrences lists a series' occurrences in [from, to], defaulting to the
// materialization horizon from today. Each carries its status as of today.
func (h *SeriesHandler) Occurrences(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	today := h.driver.Today()
	from, to := today, recurrence.AddDays(today, h.horizonDays)
	if v := r.URL.Query().Get("from"); v != "" {
		if from, err = recurrence.ParseDate(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid from date")
			return
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if to, err = recurrence.ParseDate(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid to date")
			return
		}
	}
	if from.After(to) {
		writeError(w, http.StatusBadRequest, "from is after to")
		return
	}

	occs, err := h.series.ListOccurrences(r.Context(), id, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list occurrences")
		return
	}
	writeJSON(w, http.StatusOK, taskstatus.Annotate(occs, today))
}

// --- Occurrence actions ---

func (h *SeriesHandler) occurrenceAction(w http.ResponseWriter, r *http.Request, action string, apply func(ctx context.Context, id int64) (*model.TaskOccurrence, error)) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	existing, err := h.series.GetOccurrence(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get occurrence")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "occurrence not found")
		return
	}
	if existing.Cancelled && action != "cancelled" {
		writeError(w, http.StatusConflict, "occurrence is cancelled")
		return
	}

	o, err := apply(r.Context(), id)
	if err != nil {
		h.logger.Error("update occurrence", "occurrence_id", id, "action", action, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update occurrence")
		return
	}

	broadcast(h.hub, websocket.NewMessage("occurrence", "updated", id, map[string]any{
		"series_id": o.SeriesID,
		"due_date":  recurrence.FormatDate(o.DueDate),
		"action":    action,
	}))
	writeJSON(w, http.StatusOK, o)
}

func (h *SeriesHandler) CompleteOccurrence(w http.ResponseWriter, r *http.Request) {
	h.occurrenceAction(w, r, "completed", func(ctx context.Context, id int64) (*model.TaskOccurrence, error) {
		return h.series.SetOccurrenceCompleted(ctx, id, true)
	})
}

func (h *SeriesHandler) UncompleteOccurrence(w http.ResponseWriter, r *http.Request) {
	h.occurrenceAction(w, r, "uncompleted", func(ctx context.Context, id int64) (*model.TaskOccurrence, error) {
		return h.series.SetOccurrenceCompleted(ctx, id, false)
	})
}

func (h *SeriesHandler) CancelOccurrence(w http.ResponseWriter, r *http.Request) {
	h.occurrenceAction(w, r, "cancelled", h.series.CancelOccurrence)
}
