package database

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect names a supported database engine.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// ParseDialect maps a config value onto a Dialect.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql":
		return Postgres, nil
	}
	return "", fmt.Errorf("unsupported database driver: %q", s)
}

func (d Dialect) validate() error {
	switch d {
	case SQLite, Postgres:
		return nil
	}
	return fmt.Errorf("unsupported dialect: %q", string(d))
}

func (d Dialect) driverName() string {
	return string(d)
}

func (d Dialect) gooseDialect() string {
	if d == SQLite {
		return "sqlite3"
	}
	return "postgres"
}

func (d Dialect) dsn(dsn string) string {
	if d != SQLite {
		return dsn
	}
	pragmas := "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if dsn != ":memory:" {
		pragmas += "&_pragma=journal_mode(WAL)"
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + pragmas
}

// Rebind converts ? placeholders to $1, $2, ... for Postgres. Placeholders
// inside single-quoted literals are left alone.
func (d Dialect) Rebind(query string) string {
	if d != Postgres || !strings.Contains(query, "?") {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
