// Package events carries raffle and coordinator notifications to persistent
// handlers and live subscribers.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type names an event.
type Type string

const (
	RaffleEnter           Type = "RaffleEnter"
	RequestedRaffleWinner Type = "RequestedRaffleWinner"
	WinnerPicked          Type = "WinnerPicked"
	RandomWordsRequested  Type = "RandomWordsRequested"
	RandomWordsFulfilled  Type = "RandomWordsFulfilled"
)

// Event is a single notification. Fields not relevant to a type are left zero.
type Event struct {
	ID             string    `json:"id"`
	Type           Type      `json:"type"`
	Round          uint64    `json:"round"`
	Player         string    `json:"player,omitempty"`
	Amount         string    `json:"amount,omitempty"` // wei
	RequestID      uint64    `json:"requestId,omitempty"`
	SubscriptionID uint64    `json:"subscriptionId,omitempty"`
	Consumer       string    `json:"consumer,omitempty"`
	Winner         string    `json:"winner,omitempty"`
	RandomWord     string    `json:"randomWord,omitempty"`
	Players        int       `json:"players,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Emitter publishes events.
type Emitter interface {
	Emit(ctx context.Context, e Event)
}

// Handler consumes every emitted event synchronously.
type Handler interface {
	Handle(ctx context.Context, e Event) error
}

// Subscription receives events on a buffered channel. Events are dropped
// for a subscriber whose buffer is full.
type Subscription struct {
	ch chan Event
}

// C returns the receive channel. It is closed on Unsubscribe.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Bus fans events out to handlers and subscribers.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	subs     map[*Subscription]struct{}
	logger   *slog.Logger
	now      func() time.Time
}

// NewBus creates an event bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[*Subscription]struct{}),
		logger: logger,
		now:    time.Now,
	}
}

// Register adds a synchronous handler.
func (b *Bus) Register(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Subscribe registers a live subscriber.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 16
	}
	s := &Subscription{ch: make(chan Event, buffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[s] = struct{}{}
	return s
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		close(s.ch)
	}
}

// Emit stamps the event and delivers it. Handler failures are logged; the
// state change that produced the event has already happened.
func (b *Bus) Emit(ctx context.Context, e Event) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = b.now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, h := range b.handlers {
		if err := h.Handle(ctx, e); err != nil {
			b.logger.Error("event handler failed", "type", e.Type, "id", e.ID, "error", err)
		}
	}

	for s := range b.subs {
		select {
		case s.ch <- e:
		default:
			b.logger.Warn("dropping event for slow subscriber", "type", e.Type)
		}
	}
}
