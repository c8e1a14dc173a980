package domain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pendergraft/raffle/internal/events"
	"github.com/pendergraft/raffle/internal/storage"
	"github.com/pendergraft/raffle/internal/vrf"
)

// Service defines the raffle service interface.
type Service interface {
	// Enter records sender as a player and moves amount into the pool.
	Enter(ctx context.Context, sender common.Address, amount *big.Int) (*Entry, error)

	// CheckUpkeep evaluates the upkeep predicate against current state.
	CheckUpkeep(ctx context.Context) UpkeepStatus

	// PerformUpkeep closes the round and requests randomness.
	PerformUpkeep(ctx context.Context) (vrf.RequestID, error)

	// FulfillRandomWords picks the winner for the pending request and pays out.
	FulfillRandomWords(ctx context.Context, id vrf.RequestID, words []*big.Int) error

	// Status returns a snapshot of the raffle.
	Status(ctx context.Context) Status

	// Player returns the player at index in the current round.
	Player(ctx context.Context, index int) (common.Address, error)

	// Players returns the players of the current round in entry order.
	Players(ctx context.Context) []common.Address

	// Winners lists finalized rounds, newest first.
	Winners(ctx context.Context, pagination PaginationParams) (*WinnersResult, error)

	// Events lists the event log, newest first.
	Events(ctx context.Context, filter EventFilter, pagination PaginationParams) (*EventsResult, error)
}

// Ledger holds native balances.
type Ledger interface {
	Balance(addr common.Address) *big.Int
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error
}

// Coordinator issues randomness requests.
type Coordinator interface {
	RequestRandomWords(ctx context.Context, consumer common.Address, params vrf.RequestParams) (vrf.RequestID, error)
}

// History is the read side of persisted rounds and events.
type History interface {
	ListRounds(ctx context.Context, pagination storage.PaginationParams) (*storage.PaginatedResult[storage.Round], error)
	ListEvents(ctx context.Context, filter storage.EventFilter, pagination storage.PaginationParams) (*storage.PaginatedResult[storage.Event], error)
}

// Clock tells the time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Deps are the raffle's collaborators. Emitter, History and Clock are optional.
type Deps struct {
	Address     common.Address
	Ledger      Ledger
	Coordinator Coordinator
	Emitter     events.Emitter
	History     History
	Clock       Clock
}

// Raffle is the raffle state machine. Every method is safe for concurrent
// use; mutating calls are serialized.
type Raffle struct {
	mu sync.Mutex

	cfg         Config
	address     common.Address
	ledger      Ledger
	coordinator Coordinator
	emitter     events.Emitter
	history     History
	clock       Clock

	state         State
	players       []common.Address
	pending       *vrf.RequestID // set iff state is StateCalculating
	recentWinner  common.Address
	lastTimestamp time.Time
	round         uint64
}

// New creates a raffle in the OPEN state with lastTimestamp set to now.
func New(cfg Config, deps Deps) (*Raffle, error) {
	if cfg.EntranceFee == nil || cfg.EntranceFee.Sign() < 0 {
		return nil, fmt.Errorf("%w: entrance fee must be non-negative", ErrInvalidConfig)
	}
	if cfg.Interval < 0 {
		return nil, fmt.Errorf("%w: interval must be non-negative", ErrInvalidConfig)
	}
	if deps.Ledger == nil || deps.Coordinator == nil {
		return nil, fmt.Errorf("%w: ledger and coordinator are required", ErrInvalidConfig)
	}
	if cfg.NumWords == 0 {
		cfg.NumWords = 1
	}
	if cfg.MinConfirmations == 0 {
		cfg.MinConfirmations = 3
	}
	if cfg.FirstRound == 0 {
		cfg.FirstRound = 1
	}
	cfg.EntranceFee = new(big.Int).Set(cfg.EntranceFee)

	clock := deps.Clock
	if clock == nil {
		clock = systemClock{}
	}

	return &Raffle{
		cfg:           cfg,
		address:       deps.Address,
		ledger:        deps.Ledger,
		coordinator:   deps.Coordinator,
		emitter:       deps.Emitter,
		history:       deps.History,
		clock:         clock,
		state:         StateOpen,
		lastTimestamp: clock.Now(),
		round:         cfg.FirstRound,
	}, nil
}

// Address returns the raffle's account on the ledger.
func (r *Raffle) Address() common.Address {
	return r.address
}

// Enter records sender as a player and moves amount into the pool.
func (r *Raffle) Enter(ctx context.Context, sender common.Address, amount *big.Int) (*Entry, error) {
	if amount == nil || amount.Cmp(r.cfg.EntranceFee) < 0 {
		return nil, fmt.Errorf("%w: minimum is %s wei", ErrNotEnoughFunds, r.cfg.EntranceFee)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateOpen {
		return nil, ErrRaffleNotOpen
	}

	if err := r.ledger.Transfer(ctx, sender, r.address, amount); err != nil {
		return nil, fmt.Errorf("collecting entrance fee: %w", err)
	}
	r.players = append(r.players, sender)

	entry := &Entry{
		Player: sender,
		Amount: new(big.Int).Set(amount),
		Round:  r.round,
		Index:  len(r.players) - 1,
	}
	r.emit(ctx, events.Event{
		Type:   events.RaffleEnter,
		Round:  r.round,
		Player: sender.Hex(),
		Amount: amount.String(),
	})
	return entry, nil
}

// CheckUpkeep evaluates the upkeep predicate against current state.
func (r *Raffle) CheckUpkeep(ctx context.Context) UpkeepStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.checkUpkeepLocked()
}

func (r *Raffle) checkUpkeepLocked() UpkeepStatus {
	balance := r.ledger.Balance(r.address)
	elapsed := r.clock.Now().Sub(r.lastTimestamp)

	s := UpkeepStatus{
		IsOpen:     r.state == StateOpen,
		TimePassed: elapsed >= r.cfg.Interval,
		HasPlayers: len(r.players) > 0,
		HasBalance: balance.Sign() > 0,
		State:      r.state,
		Players:    len(r.players),
		Balance:    balance,
		Elapsed:    elapsed,
	}
	s.Needed = s.IsOpen && s.TimePassed && s.HasPlayers && s.HasBalance
	return s
}

// PerformUpkeep closes the round and requests randomness. It fails with an
// *UpkeepNotNeededError whenever CheckUpkeep would report false.
func (r *Raffle) PerformUpkeep(ctx context.Context) (vrf.RequestID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := r.checkUpkeepLocked()
	if !status.Needed {
		return 0, &UpkeepNotNeededError{
			Balance: status.Balance,
			Players: status.Players,
			State:   status.State,
		}
	}

	id, err := r.coordinator.RequestRandomWords(ctx, r.address, vrf.RequestParams{
		KeyHash:          r.cfg.KeyHash,
		SubscriptionID:   r.cfg.SubscriptionID,
		MinConfirmations: r.cfg.MinConfirmations,
		CallbackGasLimit: r.cfg.CallbackGasLimit,
		NumWords:         r.cfg.NumWords,
	})
	if err != nil {
		return 0, fmt.Errorf("requesting random words: %w", err)
	}

	r.state = StateCalculating
	r.pending = &id

	r.emit(ctx, events.Event{
		Type:           events.RequestedRaffleWinner,
		Round:          r.round,
		RequestID:      uint64(id),
		SubscriptionID: r.cfg.SubscriptionID,
		Players:        len(r.players),
	})
	return id, nil
}

// FulfillRandomWords picks players[words[0] mod len(players)], pays it the
// whole pool and reopens the raffle. If the payout fails nothing changes.
func (r *Raffle) FulfillRandomWords(ctx context.Context, id vrf.RequestID, words []*big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pending == nil || *r.pending != id {
		return fmt.Errorf("%w: %d", ErrUnknownOrStaleRequest, id)
	}
	if len(words) == 0 || words[0] == nil {
		return ErrNoRandomWords
	}
	if len(r.players) == 0 {
		return fmt.Errorf("%w: no players in round %d", ErrUnknownOrStaleRequest, r.round)
	}

	idx := new(big.Int).Mod(words[0], big.NewInt(int64(len(r.players)))).Int64()
	winner := r.players[idx]
	prize := r.ledger.Balance(r.address)

	if prize.Sign() > 0 {
		if err := r.ledger.Transfer(ctx, r.address, winner, prize); err != nil {
			return fmt.Errorf("%w: %w", ErrPayoutFailed, err)
		}
	}

	closed := r.round
	count := len(r.players)

	r.recentWinner = winner
	r.players = nil
	r.state = StateOpen
	r.pending = nil
	r.lastTimestamp = r.clock.Now()
	r.round++

	r.emit(ctx, events.Event{
		Type:       events.WinnerPicked,
		Round:      closed,
		RequestID:  uint64(id),
		Winner:     winner.Hex(),
		Amount:     prize.String(),
		RandomWord: words[0].String(),
		Players:    count,
	})
	return nil
}

// Status returns a snapshot of the raffle.
func (r *Raffle) Status(ctx context.Context) Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pending *vrf.RequestID
	if r.pending != nil {
		id := *r.pending
		pending = &id
	}
	return Status{
		Address:          r.address,
		State:            r.state,
		EntranceFee:      new(big.Int).Set(r.cfg.EntranceFee),
		Interval:         r.cfg.Interval,
		Players:          len(r.players),
		Balance:          r.ledger.Balance(r.address),
		RecentWinner:     r.recentWinner,
		LastTimestamp:    r.lastTimestamp,
		PendingRequest:   pending,
		Round:            r.round,
		SubscriptionID:   r.cfg.SubscriptionID,
		KeyHash:          r.cfg.KeyHash,
		CallbackGasLimit: r.cfg.CallbackGasLimit,
	}
}

// Player returns the player at index in the current round.
func (r *Raffle) Player(ctx context.Context, index int) (common.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if index < 0 || index >= len(r.players) {
		return common.Address{}, fmt.Errorf("%w: %d", ErrPlayerNotFound, index)
	}
	return r.players[index], nil
}

// Players returns the players of the current round in entry order.
func (r *Raffle) Players(ctx context.Context) []common.Address {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]common.Address(nil), r.players...)
}

// Winners lists finalized rounds, newest first.
func (r *Raffle) Winners(ctx context.Context, pagination PaginationParams) (*WinnersResult, error) {
	if r.history == nil {
		return &WinnersResult{}, nil
	}

	result, err := r.history.ListRounds(ctx, storage.PaginationParams{
		Limit:  pagination.Limit,
		Cursor: pagination.Cursor,
	})
	if err != nil {
		return nil, fmt.Errorf("listing rounds: %w", err)
	}

	winners := make([]Winner, len(result.Data))
	for i, rd := range result.Data {
		winners[i] = Winner{
			Round:      rd.Round,
			RequestID:  rd.RequestID,
			Winner:     rd.Winner,
			Prize:      rd.Prize,
			Players:    rd.Players,
			RandomWord: rd.RandomWord,
			ClosedAt:   rd.ClosedAt,
		}
	}

	return &WinnersResult{
		Winners:    winners,
		HasMore:    result.HasMore,
		NextCursor: result.NextCursor,
	}, nil
}

// Events lists the event log, newest first.
func (r *Raffle) Events(ctx context.Context, filter EventFilter, pagination PaginationParams) (*EventsResult, error) {
	if r.history == nil {
		return &EventsResult{}, nil
	}

	result, err := r.history.ListEvents(ctx, storage.EventFilter{
		Type:  filter.Type,
		Round: filter.Round,
	}, storage.PaginationParams{
		Limit:  pagination.Limit,
		Cursor: pagination.Cursor,
	})
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}

	evs := make([]Event, len(result.Data))
	for i, e := range result.Data {
		evs[i] = Event(e)
	}

	return &EventsResult{
		Events:     evs,
		HasMore:    result.HasMore,
		NextCursor: result.NextCursor,
	}, nil
}

func (r *Raffle) emit(ctx context.Context, e events.Event) {
	if r.emitter != nil {
		r.emitter.Emit(ctx, e)
	}
}

// AsConsumer adapts a raffle service to the coordinator's callback.
func AsConsumer(s Service) vrf.Consumer {
	return consumer{s}
}

type consumer struct {
	s Service
}

func (c consumer) RawFulfillRandomWords(ctx context.Context, id vrf.RequestID, words []*big.Int) error {
	return c.s.FulfillRandomWords(ctx, id, words)
}
