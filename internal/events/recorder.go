package events

import (
	"context"
	"fmt"

	"github.com/pendergraft/raffle/internal/storage"
)

// Store is the persistence the recorder needs.
type Store interface {
	AppendEvent(ctx context.Context, e *storage.Event) error
	RecordRound(ctx context.Context, r *storage.Round) error
}

// Recorder persists every event, and a round summary for each WinnerPicked.
type Recorder struct {
	store Store
}

// NewRecorder creates a recorder.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// Handle implements Handler.
func (r *Recorder) Handle(ctx context.Context, e Event) error {
	if err := r.store.AppendEvent(ctx, &storage.Event{
		ID:             e.ID,
		Type:           string(e.Type),
		Round:          e.Round,
		Player:         e.Player,
		Amount:         e.Amount,
		RequestID:      e.RequestID,
		SubscriptionID: e.SubscriptionID,
		Consumer:       e.Consumer,
		Winner:         e.Winner,
		RandomWord:     e.RandomWord,
		CreatedAt:      e.Timestamp,
	}); err != nil {
		return fmt.Errorf("appending event: %w", err)
	}

	if e.Type != WinnerPicked {
		return nil
	}

	if err := r.store.RecordRound(ctx, &storage.Round{
		ID:         e.ID,
		Round:      e.Round,
		RequestID:  e.RequestID,
		Winner:     e.Winner,
		Prize:      e.Amount,
		Players:    e.Players,
		RandomWord: e.RandomWord,
		ClosedAt:   e.Timestamp,
	}); err != nil {
		return fmt.Errorf("recording round: %w", err)
	}
	return nil
}
