package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Ping checks the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	schema := `
	-- Event log
	CREATE TABLE IF NOT EXISTS events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL,
		round INTEGER NOT NULL DEFAULT 0,
		player TEXT,
		amount TEXT,
		request_id INTEGER,
		subscription_id INTEGER,
		consumer TEXT,
		winner TEXT,
		random_word TEXT,
		created_at TEXT NOT NULL
	);

	-- Finalized rounds
	CREATE TABLE IF NOT EXISTS rounds (
		round INTEGER PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		request_id INTEGER NOT NULL,
		winner TEXT NOT NULL,
		prize TEXT NOT NULL,
		players INTEGER NOT NULL,
		random_word TEXT,
		closed_at TEXT NOT NULL
	);

	-- API keys
	CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		key_hash TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		created_at TEXT DEFAULT (datetime('now')),
		last_used_at TEXT,
		revoked_at TEXT
	);

	-- Indexes
	CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
	CREATE INDEX IF NOT EXISTS idx_events_round ON events(round);
	CREATE INDEX IF NOT EXISTS idx_rounds_winner ON rounds(winner);
	`

	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.logger.Info("database migrations complete")
	return nil
}

// AppendEvent appends an event to the log
func (s *SQLiteStore) AppendEvent(ctx context.Context, e *Event) error {
	if e.ID == "" {
		e.ID = generateID()
	}
	query := `
		INSERT INTO events (id, type, round, player, amount, request_id, subscription_id, consumer, winner, random_word, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := s.db.ExecContext(ctx, query,
		e.ID, e.Type, int64(e.Round), e.Player, e.Amount, int64(e.RequestID), int64(e.SubscriptionID),
		e.Consumer, e.Winner, e.RandomWord, formatTime(e.CreatedAt),
	)
	if err != nil {
		return err
	}
	if seq, err := res.LastInsertId(); err == nil {
		e.Seq = seq
	}
	return nil
}

// ListEvents lists events newest first
func (s *SQLiteStore) ListEvents(ctx context.Context, filter EventFilter, pagination PaginationParams) (*PaginatedResult[Event], error) {
	cursor, err := parseCursor(pagination.Cursor)
	if err != nil {
		return nil, err
	}
	limit := normalizeLimit(pagination.Limit)

	var conds []string
	var args []any
	if cursor > 0 {
		conds = append(conds, "seq < ?")
		args = append(args, cursor)
	}
	if filter.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, filter.Type)
	}
	if filter.Round > 0 {
		conds = append(conds, "round = ?")
		args = append(args, int64(filter.Round))
	}

	query := `SELECT seq, id, type, round, player, amount, request_id, subscription_id, consumer, winner, random_word, created_at FROM events`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY seq DESC LIMIT ?"
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var round, requestID, subID int64
		var player, amount, consumer, winner, word sql.NullString
		var createdAt string
		if err := rows.Scan(&e.Seq, &e.ID, &e.Type, &round, &player, &amount, &requestID, &subID, &consumer, &winner, &word, &createdAt); err != nil {
			return nil, err
		}
		e.Round = uint64(round)
		e.RequestID = uint64(requestID)
		e.SubscriptionID = uint64(subID)
		e.Player = player.String
		e.Amount = amount.String
		e.Consumer = consumer.String
		e.Winner = winner.String
		e.RandomWord = word.String
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return page(out, limit, func(e Event) int64 { return e.Seq }), nil
}

// RecordRound records a finalized round. Recording the same round twice
// returns ErrAlreadyExists.
func (s *SQLiteStore) RecordRound(ctx context.Context, r *Round) error {
	if r.ID == "" {
		r.ID = generateID()
	}
	query := `
		INSERT INTO rounds (round, id, request_id, winner, prize, players, random_word, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(round) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query,
		int64(r.Round), r.ID, int64(r.RequestID), r.Winner, r.Prize, r.Players, r.RandomWord, formatTime(r.ClosedAt),
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// LatestRound returns the highest round number seen in either the round
// history or the event log, or 0 for an empty store. A round that was
// entered but never closed still counts, so a restarted raffle does not
// reuse its number.
func (s *SQLiteStore) LatestRound(ctx context.Context) (uint64, error) {
	query := `
		SELECT COALESCE(MAX(round), 0) FROM (
			SELECT round FROM rounds
			UNION ALL
			SELECT round FROM events
		) AS seen
	`
	var latest int64
	if err := s.db.QueryRowContext(ctx, query).Scan(&latest); err != nil {
		return 0, err
	}
	return uint64(latest), nil
}

// GetRound retrieves a round by number
func (s *SQLiteStore) GetRound(ctx context.Context, round uint64) (*Round, error) {
	query := `SELECT round, id, request_id, winner, prize, players, random_word, closed_at FROM rounds WHERE round = ?`
	r, err := scanSQLiteRound(s.db.QueryRowContext(ctx, query, int64(round)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// ListRounds lists rounds newest first
func (s *SQLiteStore) ListRounds(ctx context.Context, pagination PaginationParams) (*PaginatedResult[Round], error) {
	cursor, err := parseCursor(pagination.Cursor)
	if err != nil {
		return nil, err
	}
	limit := normalizeLimit(pagination.Limit)

	query := `SELECT round, id, request_id, winner, prize, players, random_word, closed_at FROM rounds`
	var args []any
	if cursor > 0 {
		query += ` WHERE round < ?`
		args = append(args, cursor)
	}
	query += ` ORDER BY round DESC LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Round
	for rows.Next() {
		r, err := scanSQLiteRound(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return page(out, limit, func(r Round) int64 { return int64(r.Round) }), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRound(row rowScanner) (*Round, error) {
	var r Round
	var round, requestID int64
	var word sql.NullString
	var closedAt string
	if err := row.Scan(&round, &r.ID, &requestID, &r.Winner, &r.Prize, &r.Players, &word, &closedAt); err != nil {
		return nil, err
	}
	r.Round = uint64(round)
	r.RequestID = uint64(requestID)
	r.RandomWord = word.String
	r.ClosedAt = parseTime(closedAt)
	return &r, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// CreateAPIKey creates a new API key
func (s *SQLiteStore) CreateAPIKey(ctx context.Context, name string) (string, error) {
	key := generateAPIKey()
	hash := hashAPIKey(key)
	id := generateID()
	_, err := s.db.ExecContext(ctx, "INSERT INTO api_keys (id, key_hash, name, created_at) VALUES (?, ?, ?, datetime('now'))", id, hash, name)
	if err != nil {
		return "", err
	}
	return key, nil
}

// ValidateAPIKey validates an API key
func (s *SQLiteStore) ValidateAPIKey(ctx context.Context, key string) (*APIKey, error) {
	hash := hashAPIKey(key)
	var ak APIKey
	err := s.db.QueryRowContext(ctx, "SELECT id, key_hash, name, created_at FROM api_keys WHERE key_hash = ? AND revoked_at IS NULL", hash).Scan(
		&ak.ID, &ak.KeyHash, &ak.Name, &ak.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	// Update last used
	_, _ = s.db.ExecContext(ctx, "UPDATE api_keys SET last_used_at = datetime('now') WHERE id = ?", ak.ID)
	return &ak, nil
}

// ListAPIKeys lists all API keys
func (s *SQLiteStore) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, created_at, last_used_at FROM api_keys WHERE revoked_at IS NULL ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		var k APIKey
		var lastUsed sql.NullString
		if err := rows.Scan(&k.ID, &k.Name, &k.CreatedAt, &lastUsed); err != nil {
			return nil, err
		}
		if lastUsed.Valid {
			k.LastUsedAt = lastUsed.String
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// RevokeAPIKey revokes an API key
func (s *SQLiteStore) RevokeAPIKey(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE api_keys SET revoked_at = datetime('now') WHERE id = ? AND revoked_at IS NULL", id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
