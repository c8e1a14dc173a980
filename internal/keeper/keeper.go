// Package keeper runs the upkeep loop that closes raffle rounds.
package keeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pendergraft/raffle/internal/observability/metrics"
	"github.com/pendergraft/raffle/internal/raffle/domain"
	"github.com/pendergraft/raffle/internal/vrf"
)

// Raffle is the part of the raffle service the keeper drives.
type Raffle interface {
	CheckUpkeep(ctx context.Context) domain.UpkeepStatus
	PerformUpkeep(ctx context.Context) (vrf.RequestID, error)
}

// Result describes what a single tick did.
type Result string

const (
	ResultIdle      Result = "idle"
	ResultPerformed Result = "performed"
	ResultLostRace  Result = "lost_race"
	ResultFailed    Result = "failed"
)

// Keeper polls the raffle and performs upkeep when it is due.
type Keeper struct {
	raffle   Raffle
	interval time.Duration
	logger   *slog.Logger
}

// New creates a keeper polling every interval.
func New(raffle Raffle, interval time.Duration, logger *slog.Logger) *Keeper {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Keeper{raffle: raffle, interval: interval, logger: logger}
}

// Run polls until ctx is cancelled.
func (k *Keeper) Run(ctx context.Context) {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	k.logger.Info("keeper started", "interval", k.interval)
	for {
		select {
		case <-ctx.Done():
			k.logger.Info("keeper stopped")
			return
		case <-ticker.C:
			k.Tick(ctx)
		}
	}
}

// Tick checks upkeep once and performs it when needed. A perform that loses
// a race with another caller is logged and left for the next tick.
func (k *Keeper) Tick(ctx context.Context) Result {
	status := k.raffle.CheckUpkeep(ctx)
	metrics.KeeperCheck(status.Needed)
	metrics.Pool(status.Players, status.Balance)
	if !status.Needed {
		k.logger.Debug("upkeep not needed",
			"state", status.State,
			"players", status.Players,
			"balance", status.Balance,
		)
		return ResultIdle
	}

	id, err := k.raffle.PerformUpkeep(ctx)
	switch {
	case err == nil:
		metrics.UpkeepPerform("performed")
		k.logger.Info("upkeep performed", "requestId", id, "players", status.Players)
		return ResultPerformed
	case errors.Is(err, domain.ErrUpkeepNotNeeded):
		metrics.UpkeepPerform("not_needed")
		k.logger.Debug("upkeep no longer needed", "error", err)
		return ResultLostRace
	default:
		metrics.UpkeepPerform("error")
		k.logger.Error("perform upkeep failed", "error", err)
		return ResultFailed
	}
}
