package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pendergraft/raffle/internal/config"
)

// EventStore persists the raffle and coordinator event log
type EventStore interface {
	AppendEvent(ctx context.Context, e *Event) error
	ListEvents(ctx context.Context, filter EventFilter, pagination PaginationParams) (*PaginatedResult[Event], error)
}

// RoundStore persists finalized rounds
type RoundStore interface {
	RecordRound(ctx context.Context, r *Round) error
	GetRound(ctx context.Context, round uint64) (*Round, error)
	ListRounds(ctx context.Context, pagination PaginationParams) (*PaginatedResult[Round], error)
	LatestRound(ctx context.Context) (uint64, error)
}

// APIKeyStore handles API key operations
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, name string) (key string, err error)
	ValidateAPIKey(ctx context.Context, key string) (*APIKey, error)
	ListAPIKeys(ctx context.Context) ([]APIKey, error)
	RevokeAPIKey(ctx context.Context, id string) error
}

// Store combines all storage interfaces with lifecycle methods.
// Domain services define their own minimal interfaces based on their actual usage.
type Store interface {
	EventStore
	RoundStore
	APIKeyStore

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
}

// Event is a persisted event. Seq orders events and backs the list cursor.
type Event struct {
	Seq            int64
	ID             string
	Type           string
	Round          uint64
	Player         string
	Amount         string
	RequestID      uint64
	SubscriptionID uint64
	Consumer       string
	Winner         string
	RandomWord     string
	CreatedAt      time.Time
}

// Round is a finalized raffle round
type Round struct {
	ID         string
	Round      uint64
	RequestID  uint64
	Winner     string
	Prize      string // wei
	Players    int
	RandomWord string
	ClosedAt   time.Time
}

// APIKey represents an API key
type APIKey struct {
	ID         string
	Name       string
	KeyHash    string
	CreatedAt  string
	LastUsedAt string
	RevokedAt  string
}

// EventFilter contains filter options for listing events
type EventFilter struct {
	Type  string
	Round uint64 // 0 means any round
}

// PaginationParams contains pagination options
type PaginationParams struct {
	Limit  int
	Cursor string
}

// PaginatedResult contains paginated results
type PaginatedResult[T any] struct {
	Data       []T
	HasMore    bool
	NextCursor string
}

// New creates a new store based on configuration
func New(cfg config.StorageConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Type {
	case "sqlite":
		return NewSQLiteStore(cfg.SQLite.Path, logger)
	case "postgres":
		return NewPostgresStore(cfg.Postgres.URL, logger)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
