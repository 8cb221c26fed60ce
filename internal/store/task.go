package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/allowance/internal/database"
	"github.com/dukerupert/allowance/internal/model"
)

type TaskStore struct {
	db *database.DB
}

func NewTaskStore(db *database.DB) *TaskStore {
	return &TaskStore{db: db}
}

const taskCols = `id, title, description, due_date, completed, created_by, created_at`

func scanTask(sc scanner) (*model.Task, error) {
	var t model.Task
	var due string
	if err := sc.Scan(&t.ID, &t.Title, &t.Description, &due, &t.Completed, &t.CreatedBy, &t.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if t.DueDate, err = parseDay(due); err != nil {
		return nil, err
	}
	return &t, nil
}

// Create inserts a one-off task and its assignees.
func (s *TaskStore) Create(ctx context.Context, title, description string, due time.Time, createdBy int64, assigneeIDs []int64) (*model.Task, error) {
	var id int64
	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		err := tx.QueryRowContext(ctx,
			`INSERT INTO tasks (title, description, due_date, created_by) VALUES (?, ?, ?, ?) RETURNING id`,
			title, description, dayArg(due), createdBy,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		for _, uid := range assigneeIDs {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO task_assignees (task_id, user_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
				id, uid,
			)
			if err != nil {
				return fmt.Errorf("insert task assignee %d: %w", uid, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

func (s *TaskStore) GetByID(ctx context.Context, id int64) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM task_assignees WHERE task_id = ? ORDER BY user_id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("list task assignees: %w", err)
	}
	defer rows.Close()
	t.AssigneeIDs = []int64{}
	for rows.Next() {
		var uid int64
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("scan task assignee: %w", err)
		}
		t.AssigneeIDs = append(t.AssigneeIDs, uid)
	}
	return t, rows.Err()
}

func (s *TaskStore) SetCompleted(ctx context.Context, id int64, completed bool) (*model.Task, error) {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET completed = ? WHERE id = ?`, completed, id)
	if err != nil {
		return nil, fmt.Errorf("update task completion: %w", err)
	}
	return s.GetByID(ctx, id)
}

// DueCounts reports how many tasks are due for the child on day and how many
// of those are not completed. Both one-off tasks and non-cancelled series
// occurrences count.
func (s *TaskStore) DueCounts(ctx context.Context, childID int64, day time.Time) (total, incomplete int, err error) {
	d := dayArg(day)
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN done THEN 0 ELSE 1 END), 0) FROM (
			SELECT t.completed AS done
			FROM tasks t
			JOIN task_assignees ta ON ta.task_id = t.id
			WHERE ta.user_id = ? AND t.due_date = ?
			UNION ALL
			SELECT o.completed AS done
			FROM task_occurrences o
			JOIN task_series_assignees sa ON sa.series_id = o.series_id
			WHERE sa.user_id = ? AND o.due_date = ? AND o.cancelled = ?
		) due`,
		childID, d, childID, d, false,
	).Scan(&total, &incomplete)
	if err != nil {
		return 0, 0, fmt.Errorf("count due tasks: %w", err)
	}
	return total, incomplete, nil
}
