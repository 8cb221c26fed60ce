package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/allowance/internal/database"
	"github.com/dukerupert/allowance/internal/model"
	"github.com/shopspring/decimal"
)

var (
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// WalletStore owns the transaction ledger and the cached wallet balance.
// Every write inserts ledger rows and moves the balance in the same
// transaction, so balance always equals the sum of the child's ledger.
type WalletStore struct {
	db *database.DB
}

func NewWalletStore(db *database.DB) *WalletStore {
	return &WalletStore{db: db}
}

func (s *WalletStore) Get(ctx context.Context, childID int64) (*model.Wallet, error) {
	var cents int64
	err := s.db.QueryRowContext(ctx, `SELECT balance_cents FROM wallets WHERE child_id = ?`, childID).Scan(&cents)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return &model.Wallet{ChildID: childID, Balance: fromCents(cents)}, nil
}

const walletTxCols = `id, child_id, amount_cents, tx_date, reason, contract_id, created_at`

func scanWalletTx(sc scanner) (*model.WalletTransaction, error) {
	var t model.WalletTransaction
	var cents int64
	var date string
	var contractID sql.NullInt64
	if err := sc.Scan(&t.ID, &t.ChildID, &cents, &date, &t.Reason, &contractID, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.Amount = fromCents(cents)
	var err error
	if t.Date, err = parseDay(date); err != nil {
		return nil, err
	}
	if contractID.Valid {
		id := contractID.Int64
		t.ContractID = &id
	}
	return &t, nil
}

// ListTransactions returns a child's ledger, newest first.
func (s *WalletStore) ListTransactions(ctx context.Context, childID int64, limit int) ([]model.WalletTransaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+walletTxCols+` FROM wallet_transactions
		 WHERE child_id = ? ORDER BY tx_date DESC, id DESC LIMIT ?`,
		childID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txs []model.WalletTransaction
	for rows.Next() {
		t, err := scanWalletTx(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, *t)
	}
	return txs, rows.Err()
}

// CountDailyRewards returns how many daily reward rows exist for the key.
func (s *WalletStore) CountDailyRewards(ctx context.Context, childID, contractID int64, day time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM wallet_transactions
		 WHERE child_id = ? AND contract_id = ? AND tx_date = ? AND reason = ?`,
		childID, contractID, dayArg(day), model.ReasonDailyReward,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count daily rewards: %w", err)
	}
	return n, nil
}

// CreditDailyReward writes the daily reward for (child, contract, day) and
// bumps the balance. If the key already has a reward nothing changes and
// credited is false; that outcome is not an error.
func (s *WalletStore) CreditDailyReward(ctx context.Context, childID, contractID int64, amount decimal.Decimal, day time.Time) (credited bool, err error) {
	cents := toCents(amount)
	err = s.db.WithTx(ctx, func(tx *database.Tx) error {
		if err := ensureWallet(ctx, tx, childID); err != nil {
			return err
		}

		var id int64
		err := tx.QueryRowContext(ctx,
			`INSERT INTO wallet_transactions (child_id, amount_cents, tx_date, reason, contract_id)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (child_id, contract_id, tx_date) WHERE reason = 'daily reward' DO NOTHING
			 RETURNING id`,
			childID, cents, dayArg(day), model.ReasonDailyReward, contractID,
		).Scan(&id)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("insert daily reward: %w", err)
		}

		if err := addBalance(ctx, tx, childID, cents); err != nil {
			return err
		}
		credited = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return credited, nil
}

// Convert debits amount from the child's wallet as a conversion (e.g. paid
// out as cash). The balance may not go negative.
func (s *WalletStore) Convert(ctx context.Context, childID int64, amount decimal.Decimal, day time.Time) (*model.Wallet, error) {
	cents := toCents(amount)
	if cents <= 0 {
		return nil, fmt.Errorf("conversion amount must be at least 0.01")
	}
	return s.debit(ctx, childID, -cents, day, model.ReasonConversion)
}

// Adjust applies a signed manual correction. A correction that would leave
// the balance negative is rejected.
func (s *WalletStore) Adjust(ctx context.Context, childID int64, amount decimal.Decimal, day time.Time) (*model.Wallet, error) {
	cents := toCents(amount)
	if cents == 0 {
		return nil, fmt.Errorf("adjustment amount must be non-zero")
	}
	if cents < 0 {
		return s.debit(ctx, childID, cents, day, model.ReasonAdjustment)
	}

	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		if err := ensureWallet(ctx, tx, childID); err != nil {
			return err
		}
		if err := insertTx(ctx, tx, childID, cents, day, model.ReasonAdjustment); err != nil {
			return err
		}
		return addBalance(ctx, tx, childID, cents)
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, childID)
}

// debit applies a negative amount guarded by the current balance.
func (s *WalletStore) debit(ctx context.Context, childID int64, cents int64, day time.Time, reason string) (*model.Wallet, error) {
	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE wallets SET balance_cents = balance_cents + ? WHERE child_id = ? AND balance_cents >= ?`,
			cents, childID, -cents,
		)
		if err != nil {
			return fmt.Errorf("debit wallet: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			var exists int
			err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM wallets WHERE child_id = ?`, childID).Scan(&exists)
			if err != nil {
				return fmt.Errorf("check wallet: %w", err)
			}
			if exists == 0 {
				return ErrWalletNotFound
			}
			return ErrInsufficientFunds
		}
		return insertTx(ctx, tx, childID, cents, day, reason)
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, childID)
}

func ensureWallet(ctx context.Context, tx *database.Tx, childID int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO wallets (child_id, balance_cents) VALUES (?, 0) ON CONFLICT (child_id) DO NOTHING`,
		childID,
	)
	if err != nil {
		return fmt.Errorf("ensure wallet: %w", err)
	}
	return nil
}

func insertTx(ctx context.Context, tx *database.Tx, childID, cents int64, day time.Time, reason string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO wallet_transactions (child_id, amount_cents, tx_date, reason) VALUES (?, ?, ?, ?)`,
		childID, cents, dayArg(day), reason,
	)
	if err != nil {
		return fmt.Errorf("insert %s transaction: %w", reason, err)
	}
	return nil
}

func addBalance(ctx context.Context, tx *database.Tx, childID, cents int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE wallets SET balance_cents = balance_cents + ? WHERE child_id = ?`,
		cents, childID,
	)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	return nil
}

// --- Audit ---

// FindDrift returns wallets whose cached balance differs from the sum of
// their ledger rows.
func (s *WalletStore) FindDrift(ctx context.Context) ([]model.BalanceDrift, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT w.child_id, w.balance_cents, COALESCE(SUM(t.amount_cents), 0) AS ledger
		 FROM wallets w
		 LEFT JOIN wallet_transactions t ON t.child_id = w.child_id
		 GROUP BY w.child_id, w.balance_cents
		 HAVING w.balance_cents <> COALESCE(SUM(t.amount_cents), 0)
		 ORDER BY w.child_id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("find drift: %w", err)
	}
	defer rows.Close()

	var drift []model.BalanceDrift
	for rows.Next() {
		var d model.BalanceDrift
		var cached, ledger int64
		if err := rows.Scan(&d.ChildID, &cached, &ledger); err != nil {
			return nil, fmt.Errorf("scan drift: %w", err)
		}
		d.Cached = fromCents(cached)
		d.LedgerSum = fromCents(ledger)
		drift = append(drift, d)
	}
	return drift, rows.Err()
}

// FindDuplicateRewards returns daily reward keys with more than one row.
// The unique index makes this empty unless it was dropped or bypassed.
func (s *WalletStore) FindDuplicateRewards(ctx context.Context) ([]model.DuplicateReward, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT child_id, contract_id, tx_date, COUNT(*)
		 FROM wallet_transactions
		 WHERE reason = ? AND contract_id IS NOT NULL
		 GROUP BY child_id, contract_id, tx_date
		 HAVING COUNT(*) > 1
		 ORDER BY child_id, contract_id, tx_date`,
		model.ReasonDailyReward,
	)
	if err != nil {
		return nil, fmt.Errorf("find duplicate rewards: %w", err)
	}
	defer rows.Close()

	var dups []model.DuplicateReward
	for rows.Next() {
		var d model.DuplicateReward
		var date string
		if err := rows.Scan(&d.ChildID, &d.ContractID, &date, &d.Count); err != nil {
			return nil, fmt.Errorf("scan duplicate: %w", err)
		}
		if d.Date, err = parseDay(date); err != nil {
			return nil, err
		}
		dups = append(dups, d)
	}
	return dups, rows.Err()
}

// RebuildBalances recomputes every cached balance from the ledger and
// returns how many wallets changed.
func (s *WalletStore) RebuildBalances(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE wallets SET balance_cents = (
			SELECT COALESCE(SUM(t.amount_cents), 0) FROM wallet_transactions t WHERE t.child_id = wallets.child_id
		 )
		 WHERE balance_cents <> (
			SELECT COALESCE(SUM(t.amount_cents), 0) FROM wallet_transactions t WHERE t.child_id = wallets.child_id
		 )`,
	)
	if err != nil {
		return 0, fmt.Errorf("rebuild balances: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}
