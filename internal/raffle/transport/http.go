// Package transport provides HTTP handlers for the raffle domain.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"github.com/pendergraft/raffle/internal/events"
	"github.com/pendergraft/raffle/internal/ledger"
	"github.com/pendergraft/raffle/internal/observability/metrics"
	"github.com/pendergraft/raffle/internal/raffle/domain"
	"github.com/pendergraft/raffle/internal/storage"
	"github.com/pendergraft/raffle/internal/validation"
	"github.com/pendergraft/raffle/internal/vrf"
)

// Service defines the raffle service interface for HTTP transport.
type Service interface {
	Enter(ctx context.Context, sender common.Address, amount *big.Int) (*domain.Entry, error)
	CheckUpkeep(ctx context.Context) domain.UpkeepStatus
	PerformUpkeep(ctx context.Context) (vrf.RequestID, error)
	Status(ctx context.Context) domain.Status
	Player(ctx context.Context, index int) (common.Address, error)
	Players(ctx context.Context) []common.Address
	Winners(ctx context.Context, pagination domain.PaginationParams) (*domain.WinnersResult, error)
	Events(ctx context.Context, filter domain.EventFilter, pagination domain.PaginationParams) (*domain.EventsResult, error)
}

// Stream delivers live events.
type Stream interface {
	Subscribe(buffer int) *events.Subscription
	Unsubscribe(s *events.Subscription)
}

// Handler handles HTTP requests for the raffle.
type Handler struct {
	svc       Service
	stream    Stream
	heartbeat time.Duration
}

// NewHandler creates a new raffle HTTP handler. stream may be nil, in which
// case the event stream route is not served.
func NewHandler(svc Service, stream Stream) *Handler {
	return &Handler{svc: svc, stream: stream, heartbeat: 15 * time.Second}
}

// RegisterReadRoutes registers read-only raffle routes (no auth required).
func (h *Handler) RegisterReadRoutes(r chi.Router) {
	r.Get("/", h.handleStatus)
	r.Get("/players", h.handlePlayers)
	r.Get("/players/{index}", h.handlePlayer)
	r.Get("/upkeep", h.handleCheckUpkeep)
	r.Get("/winners", h.handleWinners)
	r.Get("/events", h.handleEvents)
	if h.stream != nil {
		r.Get("/events/stream", h.handleStream)
	}
}

// RegisterWriteRoutes registers write raffle routes (auth required).
func (h *Handler) RegisterWriteRoutes(r chi.Router) {
	r.Post("/entries", h.handleEnter)
	r.Post("/upkeep", h.handlePerformUpkeep)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toStatusResponse(h.svc.Status(r.Context())))
}

func (h *Handler) handlePlayers(w http.ResponseWriter, r *http.Request) {
	players := h.svc.Players(r.Context())
	out := make([]string, len(players))
	for i, p := range players {
		out[i] = p.Hex()
	}
	writeJSON(w, http.StatusOK, PlayersResponse{Players: out, Count: len(out)})
}

func (h *Handler) handlePlayer(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Index must be an integer")
		return
	}

	player, err := h.svc.Player(r.Context(), index)
	if err != nil {
		if errors.Is(err, domain.ErrPlayerNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get player")
		return
	}

	writeJSON(w, http.StatusOK, PlayerResponse{Index: index, Player: player.Hex()})
}

func (h *Handler) handleCheckUpkeep(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toUpkeepResponse(h.svc.CheckUpkeep(r.Context())))
}

func (h *Handler) handleEnter(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read request body")
		return
	}

	var req EnterRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON")
		return
	}

	player, err := validation.ParseAddress(req.Player)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	amount, err := validation.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	entry, err := h.svc.Enter(r.Context(), player, amount)
	if err != nil {
		metrics.RaffleEntry("rejected")
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, EnterResponse{
		Player: entry.Player.Hex(),
		Amount: entry.Amount.String(),
		Round:  entry.Round,
		Index:  entry.Index,
	})
}

func (h *Handler) handlePerformUpkeep(w http.ResponseWriter, r *http.Request) {
	id, err := h.svc.PerformUpkeep(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, PerformUpkeepResponse{
		RequestID: uint64(id),
		State:     domain.StateCalculating.String(),
	})
}

func (h *Handler) handleWinners(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)

	result, err := h.svc.Winners(r.Context(), domain.PaginationParams{
		Limit:  limit,
		Cursor: r.URL.Query().Get("cursor"),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	data := make([]WinnerItem, len(result.Winners))
	for i, wn := range result.Winners {
		data[i] = WinnerItem{
			Round:      wn.Round,
			RequestID:  wn.RequestID,
			Winner:     wn.Winner,
			Prize:      wn.Prize,
			Players:    wn.Players,
			RandomWord: wn.RandomWord,
			ClosedAt:   wn.ClosedAt,
		}
	}

	writeJSON(w, http.StatusOK, WinnersResponse{
		Data: data,
		Pagination: Pagination{
			Limit:      limit,
			HasMore:    result.HasMore,
			NextCursor: result.NextCursor,
		},
	})
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)

	var round uint64
	if v := r.URL.Query().Get("round"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Round must be a positive integer")
			return
		}
		round = parsed
	}

	result, err := h.svc.Events(r.Context(), domain.EventFilter{
		Type:  r.URL.Query().Get("type"),
		Round: round,
	}, domain.PaginationParams{
		Limit:  limit,
		Cursor: r.URL.Query().Get("cursor"),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	data := make([]EventItem, len(result.Events))
	for i, e := range result.Events {
		data[i] = EventItem(e)
	}

	writeJSON(w, http.StatusOK, EventsResponse{
		Data: data,
		Pagination: Pagination{
			Limit:      limit,
			HasMore:    result.HasMore,
			NextCursor: result.NextCursor,
		},
	})
}

// handleStream relays live events as server-sent events until the client
// disconnects.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	sub := h.stream.Subscribe(32)
	defer h.stream.Unsubscribe(sub)

	// The stream outlives the server's write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
		case e, ok := <-sub.C():
			if !ok {
				return
			}
			data, err := json.Marshal(streamItem(e))
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

// streamItem shapes a live event like a recorded one so clients decode both
// the same way.
func streamItem(e events.Event) EventItem {
	return EventItem{
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
	}
}

// writeDomainError maps raffle and ledger errors to HTTP responses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotEnoughFunds):
		writeError(w, http.StatusBadRequest, "NOT_ENOUGH_ETH_ENTERED", err.Error())
	case errors.Is(err, domain.ErrRaffleNotOpen):
		writeError(w, http.StatusConflict, "RAFFLE_NOT_OPEN", err.Error())
	case errors.Is(err, domain.ErrUpkeepNotNeeded):
		writeError(w, http.StatusConflict, "UPKEEP_NOT_NEEDED", err.Error())
	case errors.Is(err, domain.ErrUnknownOrStaleRequest), errors.Is(err, vrf.ErrNonexistentRequest):
		writeError(w, http.StatusNotFound, "NONEXISTENT_REQUEST", err.Error())
	case errors.Is(err, domain.ErrPayoutFailed):
		writeError(w, http.StatusBadGateway, "PAYOUT_FAILED", err.Error())
	case errors.Is(err, ledger.ErrInsufficientBalance):
		writeError(w, http.StatusPaymentRequired, "INSUFFICIENT_BALANCE", err.Error())
	case errors.Is(err, storage.ErrInvalidCursor):
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, vrf.ErrInvalidSubscription), errors.Is(err, vrf.ErrInvalidConsumer):
		writeError(w, http.StatusServiceUnavailable, "COORDINATOR_UNAVAILABLE", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}

func parseLimit(r *http.Request) int {
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	return limit
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}
