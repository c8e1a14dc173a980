package vrf

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pendergraft/raffle/internal/observability/metrics"
)

// Responder plays the oracle node on development chains: it fulfills every
// request that has been pending for at least Delay.
type Responder struct {
	coordinator *Coordinator
	delay       time.Duration
	tick        time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// NewResponder creates a responder. tick is how often pending requests are
// scanned.
func NewResponder(coordinator *Coordinator, delay, tick time.Duration, logger *slog.Logger) *Responder {
	if tick <= 0 {
		tick = time.Second
	}
	return &Responder{
		coordinator: coordinator,
		delay:       delay,
		tick:        tick,
		logger:      logger,
		now:         time.Now,
	}
}

// Run scans until ctx is cancelled.
func (r *Responder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	r.logger.Info("vrf responder started", "delay", r.delay)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("vrf responder stopped")
			return
		case <-ticker.C:
			r.FulfillDue(ctx)
		}
	}
}

// FulfillDue fulfills each request old enough and returns how many succeeded.
func (r *Responder) FulfillDue(ctx context.Context) int {
	fulfilled := 0
	now := r.now()
	for _, req := range r.coordinator.Pending() {
		if now.Sub(req.RequestedAt) < r.delay {
			continue
		}
		if err := r.coordinator.FulfillRandomWords(ctx, req.ID, req.Consumer); err != nil {
			r.logger.Warn("fulfilling request failed", "requestId", req.ID, "error", err)
			RecordFulfillmentError(err)
			continue
		}
		r.logger.Info("request fulfilled", "requestId", req.ID, "consumer", req.Consumer.Hex())
		fulfilled++
	}
	return fulfilled
}

// RecordFulfillmentError counts a failed fulfillment, and the round left
// open when the consumer rejected the callback.
func RecordFulfillmentError(err error) {
	metrics.Fulfillment("error")
	if errors.Is(err, ErrCallbackFailed) {
		metrics.RoundFailed("callback_failed")
	}
}
