package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new Postgres store
func NewPostgresStore(url string, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &PostgresStore{db: db, logger: logger}, nil
}

// Ping checks the database connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations
func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
	-- Event log
	CREATE TABLE IF NOT EXISTS events (
		seq BIGSERIAL PRIMARY KEY,
		id UUID NOT NULL UNIQUE,
		type TEXT NOT NULL,
		round BIGINT NOT NULL DEFAULT 0,
		player TEXT,
		amount TEXT,
		request_id BIGINT,
		subscription_id BIGINT,
		consumer TEXT,
		winner TEXT,
		random_word TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	-- Finalized rounds
	CREATE TABLE IF NOT EXISTS rounds (
		round BIGINT PRIMARY KEY,
		id UUID NOT NULL UNIQUE,
		request_id BIGINT NOT NULL,
		winner TEXT NOT NULL,
		prize TEXT NOT NULL,
		players INTEGER NOT NULL,
		random_word TEXT,
		closed_at TIMESTAMPTZ NOT NULL
	);

	-- API keys
	CREATE TABLE IF NOT EXISTS api_keys (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		key_hash TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		created_at TIMESTAMPTZ DEFAULT NOW(),
		last_used_at TIMESTAMPTZ,
		revoked_at TIMESTAMPTZ
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
func (s *PostgresStore) AppendEvent(ctx context.Context, e *Event) error {
	if e.ID == "" {
		e.ID = generateID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO events (id, type, round, player, amount, request_id, subscription_id, consumer, winner, random_word, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING seq
	`
	return s.db.QueryRowContext(ctx, query,
		e.ID, e.Type, int64(e.Round), e.Player, e.Amount, int64(e.RequestID), int64(e.SubscriptionID),
		e.Consumer, e.Winner, e.RandomWord, e.CreatedAt.UTC(),
	).Scan(&e.Seq)
}

// ListEvents lists events newest first
func (s *PostgresStore) ListEvents(ctx context.Context, filter EventFilter, pagination PaginationParams) (*PaginatedResult[Event], error) {
	cursor, err := parseCursor(pagination.Cursor)
	if err != nil {
		return nil, err
	}
	limit := normalizeLimit(pagination.Limit)

	var conds []string
	var args []any
	if cursor > 0 {
		args = append(args, cursor)
		conds = append(conds, fmt.Sprintf("seq < $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		conds = append(conds, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.Round > 0 {
		args = append(args, int64(filter.Round))
		conds = append(conds, fmt.Sprintf("round = $%d", len(args)))
	}

	query := `SELECT seq, id, type, round, player, amount, request_id, subscription_id, consumer, winner, random_word, created_at FROM events`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit+1)
	query += fmt.Sprintf(" ORDER BY seq DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var round, requestID, subID sql.NullInt64
		var player, amount, consumer, winner, word sql.NullString
		if err := rows.Scan(&e.Seq, &e.ID, &e.Type, &round, &player, &amount, &requestID, &subID, &consumer, &winner, &word, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Round = uint64(round.Int64)
		e.RequestID = uint64(requestID.Int64)
		e.SubscriptionID = uint64(subID.Int64)
		e.Player = player.String
		e.Amount = amount.String
		e.Consumer = consumer.String
		e.Winner = winner.String
		e.RandomWord = word.String
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return page(out, limit, func(e Event) int64 { return e.Seq }), nil
}

// RecordRound records a finalized round. Recording the same round twice
// returns ErrAlreadyExists.
func (s *PostgresStore) RecordRound(ctx context.Context, r *Round) error {
	if r.ID == "" {
		r.ID = generateID()
	}
	if r.ClosedAt.IsZero() {
		r.ClosedAt = time.Now()
	}
	query := `
		INSERT INTO rounds (round, id, request_id, winner, prize, players, random_word, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (round) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query,
		int64(r.Round), r.ID, int64(r.RequestID), r.Winner, r.Prize, r.Players, r.RandomWord, r.ClosedAt.UTC(),
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
func (s *PostgresStore) LatestRound(ctx context.Context) (uint64, error) {
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
func (s *PostgresStore) GetRound(ctx context.Context, round uint64) (*Round, error) {
	query := `SELECT round, id, request_id, winner, prize, players, random_word, closed_at FROM rounds WHERE round = $1`
	r, err := scanPostgresRound(s.db.QueryRowContext(ctx, query, int64(round)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// ListRounds lists rounds newest first
func (s *PostgresStore) ListRounds(ctx context.Context, pagination PaginationParams) (*PaginatedResult[Round], error) {
	cursor, err := parseCursor(pagination.Cursor)
	if err != nil {
		return nil, err
	}
	limit := normalizeLimit(pagination.Limit)

	var rows *sql.Rows
	if cursor > 0 {
		rows, err = s.db.QueryContext(ctx, `
			SELECT round, id, request_id, winner, prize, players, random_word, closed_at
			FROM rounds WHERE round < $1 ORDER BY round DESC LIMIT $2`, cursor, limit+1)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT round, id, request_id, winner, prize, players, random_word, closed_at
			FROM rounds ORDER BY round DESC LIMIT $1`, limit+1)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Round
	for rows.Next() {
		r, err := scanPostgresRound(rows)
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

func scanPostgresRound(row rowScanner) (*Round, error) {
	var r Round
	var round, requestID int64
	var word sql.NullString
	if err := row.Scan(&round, &r.ID, &requestID, &r.Winner, &r.Prize, &r.Players, &word, &r.ClosedAt); err != nil {
		return nil, err
	}
	r.Round = uint64(round)
	r.RequestID = uint64(requestID)
	r.RandomWord = word.String
	return &r, nil
}

// CreateAPIKey creates a new API key
func (s *PostgresStore) CreateAPIKey(ctx context.Context, name string) (string, error) {
	key := generateAPIKey()
	hash := hashAPIKey(key)
	id := generateID()
	_, err := s.db.ExecContext(ctx, "INSERT INTO api_keys (id, key_hash, name) VALUES ($1, $2, $3)", id, hash, name)
	if err != nil {
		return "", err
	}
	return key, nil
}

// ValidateAPIKey validates an API key
func (s *PostgresStore) ValidateAPIKey(ctx context.Context, key string) (*APIKey, error) {
	hash := hashAPIKey(key)
	var ak APIKey
	var createdAt time.Time
	err := s.db.QueryRowContext(ctx, "SELECT id, key_hash, name, created_at FROM api_keys WHERE key_hash = $1 AND revoked_at IS NULL", hash).Scan(
		&ak.ID, &ak.KeyHash, &ak.Name, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ak.CreatedAt = createdAt.Format("2006-01-02 15:04:05")
	// Update last used
	_, _ = s.db.ExecContext(ctx, "UPDATE api_keys SET last_used_at = NOW() WHERE id = $1", ak.ID)
	return &ak, nil
}

// ListAPIKeys lists all API keys
func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, created_at, last_used_at FROM api_keys WHERE revoked_at IS NULL ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		var k APIKey
		var createdAt time.Time
		var lastUsed sql.NullTime
		if err := rows.Scan(&k.ID, &k.Name, &createdAt, &lastUsed); err != nil {
			return nil, err
		}
		k.CreatedAt = createdAt.Format("2006-01-02 15:04:05")
		if lastUsed.Valid {
			k.LastUsedAt = lastUsed.Time.Format("2006-01-02 15:04:05")
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// RevokeAPIKey revokes an API key
func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE api_keys SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL", id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
