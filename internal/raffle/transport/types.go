// Package transport provides HTTP request/response types for the raffle domain.
package transport

import (
	"time"

	"github.com/pendergraft/raffle/internal/raffle/domain"
	"github.com/pendergraft/raffle/internal/validation"
)

// EnterRequest is the HTTP request body for entering the raffle.
// Amount accepts "0.01ether", "10gwei" or a plain wei integer.
type EnterRequest struct {
	Player string `json:"player"`
	Amount string `json:"amount"`
}

// EnterResponse is the response for a successful entrance.
type EnterResponse struct {
	Player string `json:"player"`
	Amount string `json:"amount"`
	Round  uint64 `json:"round"`
	Index  int    `json:"index"`
}

// StatusResponse describes the raffle.
type StatusResponse struct {
	Address          string  `json:"address"`
	State            string  `json:"state"`
	EntranceFee      string  `json:"entranceFee"`
	EntranceFeeEther string  `json:"entranceFeeEther"`
	Interval         int64   `json:"interval"`
	Players          int     `json:"players"`
	Balance          string  `json:"balance"`
	RecentWinner     string  `json:"recentWinner"`
	LastTimestamp    int64   `json:"lastTimestamp"`
	PendingRequestID *uint64 `json:"pendingRequestId"`
	Round            uint64  `json:"round"`
	SubscriptionID   uint64  `json:"subscriptionId"`
	KeyHash          string  `json:"keyHash"`
	CallbackGasLimit uint32  `json:"callbackGasLimit"`
}

func toStatusResponse(s domain.Status) StatusResponse {
	var pending *uint64
	if s.PendingRequest != nil {
		id := uint64(*s.PendingRequest)
		pending = &id
	}
	return StatusResponse{
		Address:          s.Address.Hex(),
		State:            s.State.String(),
		EntranceFee:      s.EntranceFee.String(),
		EntranceFeeEther: validation.FormatEther(s.EntranceFee),
		Interval:         int64(s.Interval / time.Second),
		Players:          s.Players,
		Balance:          s.Balance.String(),
		RecentWinner:     s.RecentWinner.Hex(),
		LastTimestamp:    s.LastTimestamp.Unix(),
		PendingRequestID: pending,
		Round:            s.Round,
		SubscriptionID:   s.SubscriptionID,
		KeyHash:          s.KeyHash.Hex(),
		CallbackGasLimit: s.CallbackGasLimit,
	}
}

// UpkeepResponse reports the upkeep predicate and its inputs.
type UpkeepResponse struct {
	UpkeepNeeded   bool   `json:"upkeepNeeded"`
	IsOpen         bool   `json:"isOpen"`
	TimePassed     bool   `json:"timePassed"`
	HasPlayers     bool   `json:"hasPlayers"`
	HasBalance     bool   `json:"hasBalance"`
	State          string `json:"state"`
	Players        int    `json:"players"`
	Balance        string `json:"balance"`
	ElapsedSeconds int64  `json:"elapsedSeconds"`
}

func toUpkeepResponse(s domain.UpkeepStatus) UpkeepResponse {
	return UpkeepResponse{
		UpkeepNeeded:   s.Needed,
		IsOpen:         s.IsOpen,
		TimePassed:     s.TimePassed,
		HasPlayers:     s.HasPlayers,
		HasBalance:     s.HasBalance,
		State:          s.State.String(),
		Players:        s.Players,
		Balance:        s.Balance.String(),
		ElapsedSeconds: int64(s.Elapsed / time.Second),
	}
}

// PerformUpkeepResponse is returned when a round is closed.
type PerformUpkeepResponse struct {
	RequestID uint64 `json:"requestId"`
	State     string `json:"state"`
}

// PlayersResponse lists the current round's players.
type PlayersResponse struct {
	Players []string `json:"players"`
	Count   int      `json:"count"`
}

// PlayerResponse is a single player.
type PlayerResponse struct {
	Index  int    `json:"index"`
	Player string `json:"player"`
}

// WinnerItem is a finalized round in a list.
type WinnerItem struct {
	Round      uint64    `json:"round"`
	RequestID  uint64    `json:"requestId"`
	Winner     string    `json:"winner"`
	Prize      string    `json:"prize"`
	Players    int       `json:"players"`
	RandomWord string    `json:"randomWord"`
	ClosedAt   time.Time `json:"closedAt"`
}

// WinnersResponse is the response for listing winners.
type WinnersResponse struct {
	Data       []WinnerItem `json:"data"`
	Pagination Pagination   `json:"pagination"`
}

// EventItem is an event in a list.
type EventItem struct {
	Seq            int64     `json:"seq"`
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	Round          uint64    `json:"round"`
	Player         string    `json:"player,omitempty"`
	Amount         string    `json:"amount,omitempty"`
	RequestID      uint64    `json:"requestId,omitempty"`
	SubscriptionID uint64    `json:"subscriptionId,omitempty"`
	Consumer       string    `json:"consumer,omitempty"`
	Winner         string    `json:"winner,omitempty"`
	RandomWord     string    `json:"randomWord,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// EventsResponse is the response for listing events.
type EventsResponse struct {
	Data       []EventItem `json:"data"`
	Pagination Pagination  `json:"pagination"`
}

// Pagination provides pagination metadata.
type Pagination struct {
	Limit      int    `json:"limit"`
	HasMore    bool   `json:"hasMore"`
	NextCursor string `json:"nextCursor"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
