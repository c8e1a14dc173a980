// Package transport provides HTTP handlers for the mock randomness coordinator.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"github.com/pendergraft/raffle/internal/raffle/domain"
	"github.com/pendergraft/raffle/internal/vrf"
)

// Coordinator defines the coordinator operations exposed over HTTP.
type Coordinator interface {
	Address() common.Address
	BaseFee() *big.Int
	GasPriceLink() *big.Int
	GetSubscription(subID uint64) (*vrf.Subscription, error)
	Pending() []vrf.Request
	FulfillRandomWordsWithOverride(ctx context.Context, id vrf.RequestID, consumer common.Address, words []*big.Int) error
}

// Handler handles HTTP requests for the coordinator.
type Handler struct {
	coord Coordinator
}

// NewHandler creates a new coordinator HTTP handler.
func NewHandler(coord Coordinator) *Handler {
	return &Handler{coord: coord}
}

// RegisterReadRoutes registers read-only coordinator routes (no auth required).
func (h *Handler) RegisterReadRoutes(r chi.Router) {
	r.Get("/", h.handleInfo)
	r.Get("/subscriptions/{id}", h.handleSubscription)
	r.Get("/requests", h.handlePending)
}

// RegisterWriteRoutes registers write coordinator routes (auth required).
func (h *Handler) RegisterWriteRoutes(r chi.Router) {
	r.Post("/requests/{id}/fulfill", h.handleFulfill)
}

// InfoResponse describes the coordinator.
type InfoResponse struct {
	Address      string `json:"address"`
	BaseFee      string `json:"baseFee"`
	GasPriceLink string `json:"gasPriceLink"`
}

// SubscriptionResponse describes a subscription.
type SubscriptionResponse struct {
	ID        uint64   `json:"id"`
	Owner     string   `json:"owner"`
	Balance   string   `json:"balance"`
	Requests  uint64   `json:"requests"`
	Consumers []string `json:"consumers"`
}

// RequestItem is a pending request.
type RequestItem struct {
	ID               uint64    `json:"id"`
	SubscriptionID   uint64    `json:"subscriptionId"`
	Consumer         string    `json:"consumer"`
	KeyHash          string    `json:"keyHash"`
	CallbackGasLimit uint32    `json:"callbackGasLimit"`
	NumWords         uint32    `json:"numWords"`
	RequestedAt      time.Time `json:"requestedAt"`
}

// PendingResponse lists pending requests.
type PendingResponse struct {
	Data []RequestItem `json:"data"`
}

// FulfillRequest optionally overrides the derived random words.
// Words are decimal strings.
type FulfillRequest struct {
	Consumer    string   `json:"consumer,omitempty"`
	RandomWords []string `json:"randomWords,omitempty"`
}

// FulfillResponse is returned after a successful fulfillment.
type FulfillResponse struct {
	RequestID uint64 `json:"requestId"`
	Fulfilled bool   `json:"fulfilled"`
}

func (h *Handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, InfoResponse{
		Address:      h.coord.Address().Hex(),
		BaseFee:      h.coord.BaseFee().String(),
		GasPriceLink: h.coord.GasPriceLink().String(),
	})
}

func (h *Handler) handleSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Subscription id must be a positive integer")
		return
	}

	sub, err := h.coord.GetSubscription(id)
	if err != nil {
		if errors.Is(err, vrf.ErrInvalidSubscription) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Subscription not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get subscription")
		return
	}

	consumers := make([]string, len(sub.Consumers))
	for i, c := range sub.Consumers {
		consumers[i] = c.Hex()
	}
	writeJSON(w, http.StatusOK, SubscriptionResponse{
		ID:        sub.ID,
		Owner:     sub.Owner.Hex(),
		Balance:   sub.Balance.String(),
		Requests:  sub.Requests,
		Consumers: consumers,
	})
}

func (h *Handler) handlePending(w http.ResponseWriter, r *http.Request) {
	pending := h.coord.Pending()
	data := make([]RequestItem, len(pending))
	for i, p := range pending {
		data[i] = RequestItem{
			ID:               uint64(p.ID),
			SubscriptionID:   p.SubscriptionID,
			Consumer:         p.Consumer.Hex(),
			KeyHash:          p.KeyHash.Hex(),
			CallbackGasLimit: p.CallbackGasLimit,
			NumWords:         p.NumWords,
			RequestedAt:      p.RequestedAt,
		}
	}
	writeJSON(w, http.StatusOK, PendingResponse{Data: data})
}

func (h *Handler) handleFulfill(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Request id must be a positive integer")
		return
	}

	var req FulfillRequest
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read request body")
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON")
			return
		}
	}

	var consumer common.Address
	if req.Consumer != "" {
		if !common.IsHexAddress(req.Consumer) {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid consumer address")
			return
		}
		consumer = common.HexToAddress(req.Consumer)
	}

	words := make([]*big.Int, 0, len(req.RandomWords))
	for _, s := range req.RandomWords {
		word, ok := new(big.Int).SetString(s, 10)
		if !ok || word.Sign() < 0 {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Random words must be non-negative decimal integers")
			return
		}
		words = append(words, word)
	}

	if err := h.coord.FulfillRandomWordsWithOverride(r.Context(), vrf.RequestID(id), consumer, words); err != nil {
		vrf.RecordFulfillmentError(err)
		writeFulfillError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FulfillResponse{RequestID: id, Fulfilled: true})
}

func writeFulfillError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, vrf.ErrNonexistentRequest), errors.Is(err, domain.ErrUnknownOrStaleRequest):
		writeError(w, http.StatusNotFound, "NONEXISTENT_REQUEST", err.Error())
	case errors.Is(err, domain.ErrPayoutFailed):
		writeError(w, http.StatusBadGateway, "PAYOUT_FAILED", err.Error())
	case errors.Is(err, vrf.ErrRequestInFlight):
		writeError(w, http.StatusConflict, "REQUEST_IN_FLIGHT", err.Error())
	case errors.Is(err, vrf.ErrInsufficientBalance):
		writeError(w, http.StatusPaymentRequired, "INSUFFICIENT_BALANCE", err.Error())
	case errors.Is(err, vrf.ErrInvalidRandomWords), errors.Is(err, vrf.ErrInvalidConsumer):
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to fulfill request")
	}
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
