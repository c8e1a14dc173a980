package domain

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pendergraft/raffle/internal/vrf"
)

// LoggingMiddleware returns a service middleware that logs all operations.
func LoggingMiddleware(logger *slog.Logger) func(Service) Service {
	return func(next Service) Service {
		return &loggingMiddleware{
			next:   next,
			logger: logger,
		}
	}
}

type loggingMiddleware struct {
	next   Service
	logger *slog.Logger
}

func (m *loggingMiddleware) Enter(ctx context.Context, sender common.Address, amount *big.Int) (*Entry, error) {
	start := time.Now()
	entry, err := m.next.Enter(ctx, sender, amount)
	m.logger.Info("Enter",
		"player", sender.Hex(),
		"amount", amount,
		"duration", time.Since(start),
		"error", err,
	)
	return entry, err
}

func (m *loggingMiddleware) CheckUpkeep(ctx context.Context) UpkeepStatus {
	start := time.Now()
	status := m.next.CheckUpkeep(ctx)
	m.logger.Debug("CheckUpkeep",
		"needed", status.Needed,
		"state", status.State,
		"players", status.Players,
		"balance", status.Balance,
		"elapsed", status.Elapsed,
		"duration", time.Since(start),
	)
	return status
}

func (m *loggingMiddleware) PerformUpkeep(ctx context.Context) (vrf.RequestID, error) {
	start := time.Now()
	id, err := m.next.PerformUpkeep(ctx)
	m.logger.Info("PerformUpkeep",
		"requestId", id,
		"duration", time.Since(start),
		"error", err,
	)
	return id, err
}

func (m *loggingMiddleware) FulfillRandomWords(ctx context.Context, id vrf.RequestID, words []*big.Int) error {
	start := time.Now()
	err := m.next.FulfillRandomWords(ctx, id, words)
	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelWarn
	}
	m.logger.Log(ctx, level, "FulfillRandomWords",
		"requestId", id,
		"words", len(words),
		"duration", time.Since(start),
		"error", err,
	)
	return err
}

func (m *loggingMiddleware) Status(ctx context.Context) Status {
	return m.next.Status(ctx)
}

func (m *loggingMiddleware) Player(ctx context.Context, index int) (common.Address, error) {
	start := time.Now()
	addr, err := m.next.Player(ctx, index)
	m.logger.Debug("Player",
		"index", index,
		"duration", time.Since(start),
		"error", err,
	)
	return addr, err
}

func (m *loggingMiddleware) Players(ctx context.Context) []common.Address {
	return m.next.Players(ctx)
}

func (m *loggingMiddleware) Winners(ctx context.Context, pagination PaginationParams) (*WinnersResult, error) {
	start := time.Now()
	result, err := m.next.Winners(ctx, pagination)
	m.logger.Debug("Winners",
		"limit", pagination.Limit,
		"cursor", pagination.Cursor,
		"duration", time.Since(start),
		"error", err,
	)
	return result, err
}

func (m *loggingMiddleware) Events(ctx context.Context, filter EventFilter, pagination PaginationParams) (*EventsResult, error) {
	start := time.Now()
	result, err := m.next.Events(ctx, filter, pagination)
	m.logger.Debug("Events",
		"type", filter.Type,
		"round", filter.Round,
		"limit", pagination.Limit,
		"duration", time.Since(start),
		"error", err,
	)
	return result, err
}
