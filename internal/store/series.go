package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/allowance/internal/database"
	"github.com/dukerupert/allowance/internal/model"
)

type SeriesStore struct {
	db *database.DB
}

func NewSeriesStore(db *database.DB) *SeriesStore {
	return &SeriesStore{db: db}
}

// SeriesInput carries the writable fields of a task series.
type SeriesInput struct {
	Title       string
	Description string
	CreatorID   int64
	StartDate   time.Time
	UntilDate   *time.Time
	RRule       string
	Timezone    string
	AssigneeIDs []int64
}

// --- Series methods ---

const seriesCols = `id, title, description, creator_id, start_date, until_date, rrule, timezone, created_at, updated_at`

func scanSeries(sc scanner) (*model.TaskSeries, error) {
	var s model.TaskSeries
	var start string
	var until sql.NullString

	err := sc.Scan(
		&s.ID, &s.Title, &s.Description, &s.CreatorID, &start, &until,
		&s.RRule, &s.Timezone, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if s.StartDate, err = parseDay(start); err != nil {
		return nil, err
	}
	if s.UntilDate, err = parseNullDay(until); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *SeriesStore) Create(ctx context.Context, in SeriesInput) (*model.TaskSeries, error) {
	var id int64
	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		err := tx.QueryRowContext(ctx,
			`INSERT INTO task_series (title, description, creator_id, start_date, until_date, rrule, timezone)
			 VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`,
			in.Title, in.Description, in.CreatorID, dayArg(in.StartDate), nullDayArg(in.UntilDate), in.RRule, in.Timezone,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert series: %w", err)
		}
		return replaceSeriesAssignees(ctx, tx, id, in.AssigneeIDs)
	})
	if err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

func (s *SeriesStore) GetByID(ctx context.Context, id int64) (*model.TaskSeries, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+seriesCols+` FROM task_series WHERE id = ?`, id)
	series, err := scanSeries(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get series: %w", err)
	}
	if series.AssigneeIDs, err = s.assignees(ctx, id); err != nil {
		return nil, err
	}
	return series, nil
}

// List returns every series ordered by id.
func (s *SeriesStore) List(ctx context.Context) ([]model.TaskSeries, error) {
	return s.list(ctx, `SELECT `+seriesCols+` FROM task_series ORDER BY id ASC`)
}

// ListActive returns the series whose until_date is unset or on/after day.
func (s *SeriesStore) ListActive(ctx context.Context, day time.Time) ([]model.TaskSeries, error) {
	return s.list(ctx,
		`SELECT `+seriesCols+` FROM task_series WHERE until_date IS NULL OR until_date >= ? ORDER BY id ASC`,
		dayArg(day),
	)
}

func (s *SeriesStore) list(ctx context.Context, query string, args ...any) ([]model.TaskSeries, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list series: %w", err)
	}

	var all []model.TaskSeries
	for rows.Next() {
		series, err := scanSeries(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan series: %w", err)
		}
		all = append(all, *series)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate series: %w", err)
	}
	rows.Close()

	// Assignees are loaded after the cursor is closed; SQLite runs on a
	// single connection.
	for i := range all {
		if all[i].AssigneeIDs, err = s.assignees(ctx, all[i].ID); err != nil {
			return nil, err
		}
	}
	return all, nil
}

// Update rewrites a series and drops its occurrences due on or after
// today so they can be regenerated from the new rule. Returns nil when the
// series does not exist.
func (s *SeriesStore) Update(ctx context.Context, id int64, in SeriesInput, today time.Time) (*model.TaskSeries, error) {
	found := false
	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE task_series
			 SET title = ?, description = ?, start_date = ?, until_date = ?, rrule = ?, timezone = ?, updated_at = CURRENT_TIMESTAMP
			 WHERE id = ?`,
			in.Title, in.Description, dayArg(in.StartDate), nullDayArg(in.UntilDate), in.RRule, in.Timezone, id,
		)
		if err != nil {
			return fmt.Errorf("update series: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		found = true

		if err := replaceSeriesAssignees(ctx, tx, id, in.AssigneeIDs); err != nil {
			return err
		}
		return deleteOccurrencesFrom(ctx, tx, id, today)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return s.GetByID(ctx, id)
}

// EndSeries stops a series from today on: occurrences due today or later are
// removed and until_date becomes yesterday. A series that has not started
// yet is deleted outright. Reports whether the series existed.
func (s *SeriesStore) EndSeries(ctx context.Context, id int64, today time.Time) (bool, error) {
	found := false
	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		var start string
		err := tx.QueryRowContext(ctx, `SELECT start_date FROM task_series WHERE id = ?`, id).Scan(&start)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get series start: %w", err)
		}
		found = true

		startDay, err := parseDay(start)
		if err != nil {
			return err
		}
		if !startDay.Before(today) {
			if _, err := tx.ExecContext(ctx, `DELETE FROM task_series WHERE id = ?`, id); err != nil {
				return fmt.Errorf("delete series: %w", err)
			}
			return nil
		}

		if err := deleteOccurrencesFrom(ctx, tx, id, today); err != nil {
			return err
		}
		yesterday := today.AddDate(0, 0, -1)
		_, err = tx.ExecContext(ctx,
			`UPDATE task_series SET until_date = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			dayArg(yesterday), id,
		)
		if err != nil {
			return fmt.Errorf("end series: %w", err)
		}
		return nil
	})
	return found, err
}

func (s *SeriesStore) assignees(ctx context.Context, seriesID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM task_series_assignees WHERE series_id = ? ORDER BY user_id ASC`,
		seriesID,
	)
	if err != nil {
		return nil, fmt.Errorf("list series assignees: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan series assignee: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func replaceSeriesAssignees(ctx context.Context, tx *database.Tx, seriesID int64, userIDs []int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_series_assignees WHERE series_id = ?`, seriesID); err != nil {
		return fmt.Errorf("clear series assignees: %w", err)
	}
	for _, uid := range userIDs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO task_series_assignees (series_id, user_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
			seriesID, uid,
		)
		if err != nil {
			return fmt.Errorf("insert series assignee %d: %w", uid, err)
		}
	}
	return nil
}

func deleteOccurrencesFrom(ctx context.Context, tx *database.Tx, seriesID int64, from time.Time) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM task_occurrences WHERE series_id = ? AND due_date >= ?`,
		seriesID, dayArg(from),
	)
	if err != nil {
		return fmt.Errorf("delete future occurrences: %w", err)
	}
	return nil
}

// --- Occurrence methods ---

const occurrenceCols = `id, series_id, due_date, completed, cancelled, created_at`

func scanOccurrence(sc scanner) (*model.TaskOccurrence, error) {
	var o model.TaskOccurrence
	var due string
	if err := sc.Scan(&o.ID, &o.SeriesID, &due, &o.Completed, &o.Cancelled, &o.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if o.DueDate, err = parseDay(due); err != nil {
		return nil, err
	}
	return &o, nil
}

// InsertOccurrences inserts one occurrence per date for the series, skipping
// dates that already have one. All inserts share a transaction, so a failure
// leaves the series untouched. Returns how many rows were created.
func (s *SeriesStore) InsertOccurrences(ctx context.Context, seriesID int64, dates []time.Time) (int, error) {
	created := 0
	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		for _, d := range dates {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO task_occurrences (series_id, due_date) VALUES (?, ?)
				 ON CONFLICT (series_id, due_date) DO NOTHING`,
				seriesID, dayArg(d),
			)
			if err != nil {
				return fmt.Errorf("insert occurrence %s: %w", dayArg(d), err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			created += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

func (s *SeriesStore) GetOccurrence(ctx context.Context, id int64) (*model.TaskOccurrence, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+occurrenceCols+` FROM task_occurrences WHERE id = ?`, id)
	o, err := scanOccurrence(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get occurrence: %w", err)
	}
	return o, nil
}

// ListOccurrences returns a series' occurrences with due dates in [from, to].
func (s *SeriesStore) ListOccurrences(ctx context.Context, seriesID int64, from, to time.Time) ([]model.TaskOccurrence, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+occurrenceCols+` FROM task_occurrences
		 WHERE series_id = ? AND due_date >= ? AND due_date <= ?
		 ORDER BY due_date ASC`,
		seriesID, dayArg(from), dayArg(to),
	)
	if err != nil {
		return nil, fmt.Errorf("list occurrences: %w", err)
	}
	defer rows.Close()

	var occs []model.TaskOccurrence
	for rows.Next() {
		o, err := scanOccurrence(rows)
		if err != nil {
			return nil, fmt.Errorf("scan occurrence: %w", err)
		}
		occs = append(occs, *o)
	}
	return occs, rows.Err()
}

// CountOccurrences returns the number of occurrences stored for a series.
func (s *SeriesStore) CountOccurrences(ctx context.Context, seriesID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM task_occurrences WHERE series_id = ?`, seriesID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count occurrences: %w", err)
	}
	return n, nil
}

func (s *SeriesStore) SetOccurrenceCompleted(ctx context.Context, id int64, completed bool) (*model.TaskOccurrence, error) {
	_, err := s.db.ExecContext(ctx, `UPDATE task_occurrences SET completed = ? WHERE id = ?`, completed, id)
	if err != nil {
		return nil, fmt.Errorf("update occurrence completion: %w", err)
	}
	return s.GetOccurrence(ctx, id)
}

func (s *SeriesStore) CancelOccurrence(ctx context.Context, id int64) (*model.TaskOccurrence, error) {
	_, err := s.db.ExecContext(ctx, `UPDATE task_occurrences SET cancelled = ? WHERE id = ?`, true, id)
	if err != nil {
		return nil, fmt.Errorf("cancel occurrence: %w", err)
	}
	return s.GetOccurrence(ctx, id)
}
