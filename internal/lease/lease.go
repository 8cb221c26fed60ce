// Package lease elects a single scheduler owner across processes sharing a
// database. It is best effort: every write the scheduler makes is idempotent,
// so two holders at once cost duplicate work, never duplicate credits.
package lease

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/dukerupert/allowance/internal/database"
)

// Locker hands out named leases. The returned release func is safe to call
// once; it is a no-op when ok is false.
type Locker interface {
	TryAcquire(ctx context.Context, name string) (release func(), ok bool, err error)
}

// New returns the locker suited to the database dialect.
func New(db *database.DB, holder string, ttl time.Duration, logger *slog.Logger) Locker {
	logger = logger.With("component", "lease")
	if db.Dialect == database.Postgres {
		return &AdvisoryLocker{db: db, logger: logger}
	}
	return &TableLocker{db: db, holder: holder, ttl: ttl, now: time.Now, logger: logger}
}

// TableLocker claims a scheduler_leases row with an expiring upsert.
type TableLocker struct {
	db     *database.DB
	holder string
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

func (l *TableLocker) TryAcquire(ctx context.Context, name string) (func(), bool, error) {
	now := l.now().Unix()
	res, err := l.db.ExecContext(ctx,
		`INSERT INTO scheduler_leases (name, holder, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
		 WHERE scheduler_leases.expires_at < ? OR scheduler_leases.holder = excluded.holder`,
		name, l.holder, now+int64(l.ttl.Seconds()), now,
	)
	if err != nil {
		return func() {}, false, fmt.Errorf("claim lease %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return func() {}, false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return func() {}, false, nil
	}

	release := func() {
		// Detached so a cancelled run still frees the lease.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := l.db.ExecContext(ctx, `DELETE FROM scheduler_leases WHERE name = ? AND holder = ?`, name, l.holder); err != nil {
			l.logger.Warn("release lease, held until expiry", "name", name, "holder", l.holder, "ttl", l.ttl, "error", err)
		}
	}
	return release, true, nil
}

// AdvisoryLocker uses a session-level pg_try_advisory_lock held on a
// dedicated connection for the life of the lease.
type AdvisoryLocker struct {
	db     *database.DB
	logger *slog.Logger
}

func (l *AdvisoryLocker) TryAcquire(ctx context.Context, name string) (func(), bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return func() {}, false, fmt.Errorf("lease conn: %w", err)
	}

	key := lockKey(name)
	var ok bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&ok); err != nil {
		conn.Close()
		return func() {}, false, fmt.Errorf("advisory lock %s: %w", name, err)
	}
	if !ok {
		conn.Close()
		return func() {}, false, nil
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, key); err != nil {
			l.logger.Warn("release advisory lock", "name", name, "error", err)
		}
		if err := conn.Close(); err != nil {
			l.logger.Warn("close lease conn", "name", name, "error", err)
		}
	}
	return release, true, nil
}

// lockKey maps a lease name onto the bigint advisory lock space.
func lockKey(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return int64(h.Sum64())
}
