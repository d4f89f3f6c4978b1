package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dennisdiepolder/echo/backend/internal/types"
	"github.com/rs/zerolog"

	// registers the "sqlite" driver
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a local SQLite database
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger
}

// NewSQLiteStore opens (or creates) the database at path and applies the schema
func NewSQLiteStore(ctx context.Context, path string, logger zerolog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// busy_timeout is per connection; the DSN form applies it to every
	// connection the pool opens
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &SQLiteStore{db: db, path: path, logger: logger}

	if err := store.configure(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}
	if err := store.createSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logger.Info().Str("path", path).Msg("SQLite store initialized")
	return store, nil
}

// Path returns the database file path
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) configure(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *SQLiteStore) createSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			profile_picture TEXT NOT NULL DEFAULT '',
			abandoned_calls INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS answered_calls (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			caller_name TEXT NOT NULL DEFAULT 'Unknown',
			transcript TEXT NOT NULL,
			sentiment_score REAL NOT NULL DEFAULT 0,
			positive_keywords TEXT NOT NULL DEFAULT '[]',
			negative_keywords TEXT NOT NULL DEFAULT '[]',
			occurred_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_answered_user_time ON answered_calls(user_id, occurred_at)`,
		`CREATE INDEX IF NOT EXISTS idx_answered_time ON answered_calls(occurred_at)`,
		`CREATE TABLE IF NOT EXISTS abandoned_calls (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			occurred_at TEXT NOT NULL,
			backfilled INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_abandoned_user_time ON abandoned_calls(user_id, occurred_at)`,
		`CREATE INDEX IF NOT EXISTS idx_abandoned_time ON abandoned_calls(occurred_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) InsertAnsweredCall(ctx context.Context, call types.AnsweredCall) error {
	positive, err := json.Marshal(nonNil(call.PositiveKeywords))
	if err != nil {
		return fmt.Errorf("failed to marshal positive keywords: %w", err)
	}
	negative, err := json.Marshal(nonNil(call.NegativeKeywords))
	if err != nil {
		return fmt.Errorf("failed to marshal negative keywords: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO answered_calls (
			id, user_id, caller_name, transcript, sentiment_score,
			positive_keywords, negative_keywords, occurred_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		call.ID, call.UserID, call.CallerName, call.Transcript, call.SentimentScore,
		string(positive), string(negative), formatTime(call.OccurredAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert answered call: %w", err)
	}
	return nil
}

// InsertAbandonedCalls writes all rows in one transaction
func (s *SQLiteStore) InsertAbandonedCalls(ctx context.Context, calls ...types.AbandonedCall) error {
	if len(calls) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO abandoned_calls (id, user_id, occurred_at, backfilled) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare abandoned call insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, call := range calls {
		if _, err := stmt.ExecContext(ctx, call.ID, call.UserID, formatTime(call.OccurredAt), call.Backfilled); err != nil {
			return fmt.Errorf("failed to insert abandoned call: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit abandoned calls: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListAnsweredCalls(ctx context.Context, filter CallFilter) ([]types.AnsweredCall, error) {
	where, args := filterClause(filter)
	query := `
		SELECT id, user_id, caller_name, transcript, sentiment_score,
			   positive_keywords, negative_keywords, occurred_at
		FROM answered_calls` + where + `
		ORDER BY occurred_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query answered calls: %w", err)
	}
	defer func() { _ = rows.Close() }()

	calls := make([]types.AnsweredCall, 0)
	for rows.Next() {
		var call types.AnsweredCall
		var positive, negative, occurredAt string
		if err := rows.Scan(
			&call.ID, &call.UserID, &call.CallerName, &call.Transcript, &call.SentimentScore,
			&positive, &negative, &occurredAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan answered call: %w", err)
		}
		if err := json.Unmarshal([]byte(positive), &call.PositiveKeywords); err != nil {
			return nil, fmt.Errorf("failed to decode positive keywords for %s: %w", call.ID, err)
		}
		if err := json.Unmarshal([]byte(negative), &call.NegativeKeywords); err != nil {
			return nil, fmt.Errorf("failed to decode negative keywords for %s: %w", call.ID, err)
		}
		if call.OccurredAt, err = parseTime(occurredAt); err != nil {
			return nil, err
		}
		calls = append(calls, call)
	}
	return calls, rows.Err()
}

func (s *SQLiteStore) ListAbandonedCalls(ctx context.Context, filter CallFilter) ([]types.AbandonedCall, error) {
	where, args := filterClause(filter)
	query := `SELECT id, user_id, occurred_at, backfilled FROM abandoned_calls` + where + `
		ORDER BY occurred_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query abandoned calls: %w", err)
	}
	defer func() { _ = rows.Close() }()

	calls := make([]types.AbandonedCall, 0)
	for rows.Next() {
		var call types.AbandonedCall
		var occurredAt string
		if err := rows.Scan(&call.ID, &call.UserID, &occurredAt, &call.Backfilled); err != nil {
			return nil, fmt.Errorf("failed to scan abandoned call: %w", err)
		}
		if call.OccurredAt, err = parseTime(occurredAt); err != nil {
			return nil, err
		}
		calls = append(calls, call)
	}
	return calls, rows.Err()
}

func (s *SQLiteStore) CountAnsweredCalls(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM answered_calls WHERE user_id = ?`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count answered calls: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) CountAbandonedCalls(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM abandoned_calls WHERE user_id = ?`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count abandoned calls: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) UpsertUser(ctx context.Context, user types.User) error {
	if user.ID == "" {
		return fmt.Errorf("user id is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, profile_picture, abandoned_calls)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			profile_picture = excluded.profile_picture,
			abandoned_calls = excluded.abandoned_calls`,
		user.ID, user.Name, user.Email, user.ProfilePicture, user.AbandonedCalls,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (types.User, error) {
	var user types.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, profile_picture, abandoned_calls FROM users WHERE id = ?`, userID,
	).Scan(&user.ID, &user.Name, &user.Email, &user.ProfilePicture, &user.AbandonedCalls)
	if errors.Is(err, sql.ErrNoRows) {
		return types.User{}, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return types.User{}, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]types.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, email, profile_picture, abandoned_calls FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	users := make([]types.User, 0)
	for rows.Next() {
		var user types.User
		if err := rows.Scan(&user.ID, &user.Name, &user.Email, &user.ProfilePicture, &user.AbandonedCalls); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *SQLiteStore) IncrementAbandonedCounter(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`UPDATE users SET abandoned_calls = abandoned_calls + 1 WHERE id = ? RETURNING abandoned_calls`, userID,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment abandoned counter: %w", err)
	}
	return count, nil
}

// BackfillAbandonedCalls runs the compare and the insert inside one
// BEGIN IMMEDIATE transaction. The write lock is taken before the counts are
// read, so a second writer (in this process or another) waits and then sees
// the rows this one committed.
func (s *SQLiteStore) BackfillAbandonedCalls(ctx context.Context, userID string, at time.Time, newID func() string) (int, error) {
	// database/sql has no way to request an immediate transaction, so pin a
	// connection and issue the statements directly
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return 0, fmt.Errorf("failed to begin backfill transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	var legacy int
	err = conn.QueryRowContext(ctx, `SELECT abandoned_calls FROM users WHERE id = ?`, userID).Scan(&legacy)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read legacy counter: %w", err)
	}

	var actual int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM abandoned_calls WHERE user_id = ?`, userID).Scan(&actual); err != nil {
		return 0, fmt.Errorf("failed to count abandoned calls: %w", err)
	}

	missing := legacy - actual
	if missing <= 0 {
		return 0, nil
	}

	for _, call := range backfillRows(userID, missing, at, newID) {
		if _, err := conn.ExecContext(ctx,
			`INSERT INTO abandoned_calls (id, user_id, occurred_at, backfilled) VALUES (?, ?, ?, ?)`,
			call.ID, call.UserID, formatTime(call.OccurredAt), call.Backfilled,
		); err != nil {
			return 0, fmt.Errorf("failed to insert backfill row: %w", err)
		}
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return 0, fmt.Errorf("failed to commit backfill: %w", err)
	}
	committed = true
	return missing, nil
}

// TruncateAll deletes every row from all ledger tables
func (s *SQLiteStore) TruncateAll(ctx context.Context) error {
	for _, table := range []string{"answered_calls", "abandoned_calls", "users"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to truncate %s: %w", table, err)
		}
		s.logger.Info().Str("table", table).Msg("table truncated")
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func filterClause(filter CallFilter) (string, []any) {
	var conds []string
	var args []any
	if filter.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if !filter.From.IsZero() {
		conds = append(conds, "occurred_at >= ?")
		args = append(args, formatTime(filter.From))
	}
	if !filter.To.IsZero() {
		conds = append(conds, "occurred_at < ?")
		args = append(args, formatTime(filter.To))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func formatTime(t time.Time) string {
	return t.UTC().Format(types.SortableTimeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(types.SortableTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
