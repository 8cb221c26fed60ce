package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrations embed.FS

// DB wraps *sql.DB and rewrites ? placeholders for dialects that need it.
// Stores always write queries with ? placeholders.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Open opens a SQLite database at the given path and runs migrations.
func Open(dbPath string) (*DB, error) {
	return OpenDialect(SQLite, dbPath)
}

// OpenDialect opens a database for the given dialect and runs migrations.
// For SQLite, dsn is a file path (or ":memory:"); for Postgres it is a
// connection URL.
func OpenDialect(dialect Dialect, dsn string) (*DB, error) {
	if err := dialect.validate(); err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open(dialect.driverName(), dialect.dsn(dsn))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if dialect == SQLite {
		// One connection: keeps :memory: databases coherent and serializes
		// SQLite writers instead of surfacing SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := runMigrations(sqlDB, dialect); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &DB{DB: sqlDB, Dialect: dialect}, nil
}

func runMigrations(db *sql.DB, dialect Dialect) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect(dialect.gooseDialect()); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.Up(db, "migrations/"+string(dialect)); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}

	return nil
}

// ExecContext executes a statement after placeholder rewriting.
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.DB.ExecContext(ctx, db.Dialect.Rebind(query), args...)
}

// QueryContext runs a query after placeholder rewriting.
func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.DB.QueryContext(ctx, db.Dialect.Rebind(query), args...)
}

// QueryRowContext runs a single-row query after placeholder rewriting.
func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.DB.QueryRowContext(ctx, db.Dialect.Rebind(query), args...)
}

// BeginTx starts a transaction whose statements are rewritten the same way.
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	tx, err := db.DB.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{Tx: tx, dialect: db.Dialect}, nil
}

// WithTx runs fn inside a transaction, committing on nil and rolling back
// otherwise.
func (db *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Tx wraps *sql.Tx with the owning connection's dialect.
type Tx struct {
	*sql.Tx
	dialect Dialect
}

func (tx *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return tx.Tx.ExecContext(ctx, tx.dialect.Rebind(query), args...)
}

func (tx *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return tx.Tx.QueryContext(ctx, tx.dialect.Rebind(query), args...)
}

func (tx *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return tx.Tx.QueryRowContext(ctx, tx.dialect.Rebind(query), args...)
}
