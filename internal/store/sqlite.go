// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Opens the database with per-connection pragmas and creates the schema

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width UTC so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// maxWriteAttempts bounds retries of idempotent writes that hit SQLITE_BUSY.
const maxWriteAttempts = 4

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	memory := path == ":memory:"
	if !memory {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	// Pragmas go in the DSN so every pooled connection gets them, not just the first.
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
	if !memory {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Each connection to :memory: is its own database.
	if memory {
		db.SetMaxOpenConns(1)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS prompts (
			id          TEXT PRIMARY KEY,
			slug        TEXT NOT NULL UNIQUE,
			name        TEXT NOT NULL,
			type        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			tags_json   TEXT NOT NULL DEFAULT '[]',
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL,

			CHECK (type IN ('persona', 'skill', 'constraint', 'template', 'meta'))
		);

		CREATE TABLE IF NOT EXISTS prompt_versions (
			id           TEXT PRIMARY KEY,
			prompt_id    TEXT NOT NULL REFERENCES prompts(id) ON DELETE CASCADE,
			version      INTEGER NOT NULL,
			content      TEXT NOT NULL,
			message      TEXT NOT NULL DEFAULT '',
			author       TEXT NOT NULL DEFAULT '',
			content_hash TEXT NOT NULL,
			created_at   TEXT NOT NULL,

			UNIQUE(prompt_id, version)
		);

		CREATE TABLE IF NOT EXISTS prompt_subscriptions (
			id             TEXT PRIMARY KEY,
			prompt_id      TEXT NOT NULL REFERENCES prompts(id) ON DELETE CASCADE,
			agent_id       TEXT NOT NULL,
			subscribed_at  TEXT NOT NULL,
			last_pulled_at TEXT NOT NULL,

			UNIQUE(prompt_id, agent_id)
		);

		CREATE INDEX IF NOT EXISTS idx_subscriptions_prompt
			ON prompt_subscriptions(prompt_id, subscribed_at);

		CREATE INDEX IF NOT EXISTS idx_subscriptions_agent
			ON prompt_subscriptions(agent_id, subscribed_at);

		CREATE INDEX IF NOT EXISTS idx_subscriptions_last_pulled
			ON prompt_subscriptions(last_pulled_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Ping checks the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// retryBusy runs fn until it succeeds, fails with something other than SQLITE_BUSY,
// or runs out of attempts. Only idempotent writes go through here.
func (s *SQLiteStore) retryBusy(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 25 * time.Millisecond
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: %w", op, ctx.Err())
			case <-time.After(backoff):
			}
		}
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
		s.logger.Debug("database busy, retrying", "op", op, "attempt", attempt+1)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}

// isBusy reports whether err is SQLite lock contention
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "SQLITE_BUSY") ||
		strings.Contains(errStr, "database is locked")
}

// isUniqueViolation checks if the error is a SQLite UNIQUE constraint violation
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isForeignKeyViolation checks if the error is a SQLite FOREIGN KEY constraint violation
func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
