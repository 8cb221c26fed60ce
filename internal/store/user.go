package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/allowance/internal/database"
	"github.com/dukerupert/allowance/internal/model"
)

type UserStore struct {
	db *database.DB
}

func NewUserStore(db *database.DB) *UserStore {
	return &UserStore{db: db}
}

const userCols = `id, name, role, created_at`

func scanUser(sc scanner) (*model.User, error) {
	var u model.User
	var role string
	if err := sc.Scan(&u.ID, &u.Name, &role, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Role = model.Role(role)
	return &u, nil
}

func (s *UserStore) Create(ctx context.Context, name string, role model.Role) (*model.User, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO users (name, role) VALUES (?, ?) RETURNING id`,
		name, string(role),
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *UserStore) GetByID(ctx context.Context, id int64) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// ListByRole returns users with the given role ordered by name.
func (s *UserStore) ListByRole(ctx context.Context, role model.Role) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userCols+` FROM users WHERE role = ? ORDER BY name ASC, id ASC`,
		string(role),
	)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}
