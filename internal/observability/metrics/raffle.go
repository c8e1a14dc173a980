package metrics

import (
	"context"
	"math/big"

	"github.com/pendergraft/raffle/internal/events"
)

// RaffleEntry records an entrance attempt.
func RaffleEntry(status string) {
	if !enabled {
		return
	}
	raffleEntriesTotal.WithLabelValues(status).Inc()
}

// KeeperCheck records an upkeep check.
func KeeperCheck(needed bool) {
	if !enabled {
		return
	}
	label := "false"
	if needed {
		label = "true"
	}
	keeperChecksTotal.WithLabelValues(label).Inc()
}

// UpkeepPerform records a perform-upkeep attempt.
func UpkeepPerform(result string) {
	if !enabled {
		return
	}
	upkeepPerformTotal.WithLabelValues(result).Inc()
}

// Fulfillment records a fulfillment attempt.
func Fulfillment(result string) {
	if !enabled {
		return
	}
	vrfFulfillmentsTotal.WithLabelValues(result).Inc()
}

// RoundFailed records a fulfillment that did not finalize the round.
func RoundFailed(result string) {
	if !enabled {
		return
	}
	raffleRoundsTotal.WithLabelValues(result).Inc()
}

// Pool sets the current round gauges.
func Pool(players int, balance *big.Int) {
	if !enabled {
		return
	}
	rafflePlayers.Set(float64(players))
	if balance != nil {
		f, _ := new(big.Float).SetInt(balance).Float64()
		rafflePoolWei.Set(f)
	}
}

// EventHandler updates metrics from the event bus.
type EventHandler struct{}

// Handle implements events.Handler.
func (EventHandler) Handle(ctx context.Context, e events.Event) error {
	if !enabled {
		return nil
	}
	switch e.Type {
	case events.RaffleEnter:
		raffleEntriesTotal.WithLabelValues("success").Inc()
	case events.RandomWordsRequested:
		vrfRequestsTotal.Inc()
	case events.RandomWordsFulfilled:
		vrfFulfillmentsTotal.WithLabelValues("success").Inc()
	case events.WinnerPicked:
		raffleRoundsTotal.WithLabelValues("finalized").Inc()
		if prize, ok := new(big.Float).SetString(e.Amount); ok {
			f, _ := prize.Float64()
			rafflePrizeWei.Observe(f)
		}
		rafflePlayers.Set(0)
		rafflePoolWei.Set(0)
	}
	return nil
}
