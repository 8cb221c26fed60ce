package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/allowance/internal/database"
	"github.com/dukerupert/allowance/internal/model"
	"github.com/dukerupert/allowance/internal/recurrence"
	"github.com/shopspring/decimal"
)

type ContractStore struct {
	db *database.DB
}

func NewContractStore(db *database.DB) *ContractStore {
	return &ContractStore{db: db}
}

// --- Contract methods ---

const contractCols = `id, title, child_id, parent_id, daily_reward_cents, start_date, end_date, active, created_at`

func scanContract(sc scanner) (*model.Contract, error) {
	var c model.Contract
	var cents int64
	var start, end string
	err := sc.Scan(&c.ID, &c.Title, &c.ChildID, &c.ParentID, &cents, &start, &end, &c.Active, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.DailyReward = fromCents(cents)
	if c.StartDate, err = parseDay(start); err != nil {
		return nil, err
	}
	if c.EndDate, err = parseDay(end); err != nil {
		return nil, err
	}
	return &c, nil
}

// ContractInput carries the writable fields of a contract.
type ContractInput struct {
	Title       string
	ChildID     int64
	ParentID    int64
	DailyReward decimal.Decimal
	StartDate   time.Time
	EndDate     time.Time
	RuleIDs     []int64
}

func (s *ContractStore) Create(ctx context.Context, in ContractInput) (*model.Contract, error) {
	var id int64
	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		err := tx.QueryRowContext(ctx,
			`INSERT INTO contracts (title, child_id, parent_id, daily_reward_cents, start_date, end_date)
			 VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
			in.Title, in.ChildID, in.ParentID, toCents(in.DailyReward), dayArg(in.StartDate), dayArg(in.EndDate),
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert contract: %w", err)
		}
		for _, rid := range in.RuleIDs {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO contract_rules (contract_id, rule_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
				id, rid,
			)
			if err != nil {
				return fmt.Errorf("insert contract rule %d: %w", rid, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

func (s *ContractStore) GetByID(ctx context.Context, id int64) (*model.Contract, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+contractCols+` FROM contracts WHERE id = ?`, id)
	c, err := scanContract(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get contract: %w", err)
	}
	if c.RuleIDs, err = s.ruleIDs(ctx, id); err != nil {
		return nil, err
	}
	return c, nil
}

// ListActiveOn returns active contracts whose date range covers day.
func (s *ContractStore) ListActiveOn(ctx context.Context, day time.Time) ([]model.Contract, error) {
	d := dayArg(day)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+contractCols+` FROM contracts
		 WHERE active = ? AND start_date <= ? AND end_date >= ?
		 ORDER BY id ASC`,
		true, d, d,
	)
	if err != nil {
		return nil, fmt.Errorf("list active contracts: %w", err)
	}

	var contracts []model.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan contract: %w", err)
		}
		contracts = append(contracts, *c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate contracts: %w", err)
	}
	rows.Close()

	for i := range contracts {
		if contracts[i].RuleIDs, err = s.ruleIDs(ctx, contracts[i].ID); err != nil {
			return nil, err
		}
	}
	return contracts, nil
}

func (s *ContractStore) SetActive(ctx context.Context, id int64, active bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE contracts SET active = ? WHERE id = ?`, active, id)
	if err != nil {
		return fmt.Errorf("update contract active: %w", err)
	}
	return nil
}

func (s *ContractStore) ruleIDs(ctx context.Context, contractID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT rule_id FROM contract_rules WHERE contract_id = ? ORDER BY rule_id ASC`,
		contractID,
	)
	if err != nil {
		return nil, fmt.Errorf("list contract rules: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan contract rule: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Rule methods ---

func (s *ContractStore) CreateRule(ctx context.Context, title, description string) (*model.Rule, error) {
	r := model.Rule{Title: title, Description: description}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO rules (title, description) VALUES (?, ?) RETURNING id`,
		title, description,
	).Scan(&r.ID)
	if err != nil {
		return nil, fmt.Errorf("insert rule: %w", err)
	}
	return &r, nil
}

// --- Violation methods ---

func (s *ContractStore) RecordViolation(ctx context.Context, ruleID, childID int64, day time.Time, description string, reportedBy int64) (*model.RuleViolation, error) {
	v := model.RuleViolation{
		RuleID:      ruleID,
		ChildID:     childID,
		Date:        recurrence.Day(day),
		Description: description,
		ReportedBy:  reportedBy,
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO rule_violations (rule_id, child_id, date, description, reported_by)
		 VALUES (?, ?, ?, ?, ?) RETURNING id`,
		ruleID, childID, dayArg(day), description, reportedBy,
	).Scan(&v.ID)
	if err != nil {
		return nil, fmt.Errorf("insert violation: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `SELECT created_at FROM rule_violations WHERE id = ?`, v.ID).Scan(&v.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get violation: %w", err)
	}
	return &v, nil
}

// CountViolations returns how many violations were recorded for the child on
// day, across all rules.
func (s *ContractStore) CountViolations(ctx context.Context, childID int64, day time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rule_violations WHERE child_id = ? AND date = ?`,
		childID, dayArg(day),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count violations: %w", err)
	}
	return n, nil
}
