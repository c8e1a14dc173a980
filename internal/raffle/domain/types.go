// Package domain contains the raffle state machine.
package domain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pendergraft/raffle/internal/vrf"
)

// State is the raffle lifecycle state.
type State int

const (
	StateOpen State = iota
	StateCalculating
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateCalculating:
		return "CALCULATING"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config is fixed at construction.
type Config struct {
	EntranceFee      *big.Int // wei
	Interval         time.Duration
	KeyHash          common.Hash
	SubscriptionID   uint64
	CallbackGasLimit uint32
	MinConfirmations uint16
	NumWords         uint32
	FirstRound       uint64 // number of the opening round, 1 when zero
}

// UpkeepStatus is the upkeep predicate together with its inputs.
type UpkeepStatus struct {
	Needed     bool
	IsOpen     bool
	TimePassed bool
	HasPlayers bool
	HasBalance bool

	State   State
	Players int
	Balance *big.Int
	Elapsed time.Duration
}

// Status is a read-only snapshot of the raffle.
type Status struct {
	Address          common.Address
	State            State
	EntranceFee      *big.Int
	Interval         time.Duration
	Players          int
	Balance          *big.Int
	RecentWinner     common.Address
	LastTimestamp    time.Time
	PendingRequest   *vrf.RequestID
	Round            uint64
	SubscriptionID   uint64
	KeyHash          common.Hash
	CallbackGasLimit uint32
}

// Entry is the receipt for a successful entrance.
type Entry struct {
	Player common.Address
	Amount *big.Int
	Round  uint64
	Index  int
}

// Winner is a finalized round.
type Winner struct {
	Round      uint64
	RequestID  uint64
	Winner     string
	Prize      string
	Players    int
	RandomWord string
	ClosedAt   time.Time
}

// Event is an entry in the raffle event log.
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

// EventFilter contains filter options for listing events.
type EventFilter struct {
	Type  string
	Round uint64
}

// PaginationParams contains pagination options.
type PaginationParams struct {
	Limit  int
	Cursor string
}

// WinnersResult is a page of finalized rounds.
type WinnersResult struct {
	Winners    []Winner
	HasMore    bool
	NextCursor string
}

// EventsResult is a page of events.
type EventsResult struct {
	Events     []Event
	HasMore    bool
	NextCursor string
}
