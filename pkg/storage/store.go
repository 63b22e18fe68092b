package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/rubiojr/pulse/pkg/core"
	"github.com/rubiojr/pulse/pkg/db"
	"github.com/rubiojr/pulse/pkg/log"
)

// timeLayout is fixed width so that text ordering in SQL matches
// chronological ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store is the SQLite backed message, notification and user store.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

var (
	_ core.MessageStore      = (*Store)(nil)
	_ core.NotificationStore = (*Store)(nil)
	_ core.UserDirectory     = (*Store)(nil)
)

// Open opens (creating if needed) the database at path and applies pending
// migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	s, err := OpenWithoutMigrations(path)
	if err != nil {
		return nil, err
	}
	if err := db.InitializeDatabase(ctx, s.db); err != nil {
		s.Close()
		return nil, fmt.Errorf("initializing database: %w", err)
	}
	return s, nil
}

// OpenWithoutMigrations opens the database as is. Used by the migrate
// command to report status before applying anything.
func OpenWithoutMigrations(path string) (*Store, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 30000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = memory",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", pragma, err)
		}
	}

	return &Store{db: conn, logger: log.ForService("storage")}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection for migrations.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		s.logger.Warnf("failed to close rows: %v", err)
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", v, err)
	}
	return t, nil
}

func nullString(p *string) sql.NullString {
	if p == nil || *p == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
