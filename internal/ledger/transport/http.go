// Package transport provides HTTP handlers for ledger accounts.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"github.com/pendergraft/raffle/internal/ledger"
	"github.com/pendergraft/raffle/internal/validation"
)

// Ledger defines the account operations exposed over HTTP.
type Ledger interface {
	Balance(addr common.Address) *big.Int
	Credit(ctx context.Context, addr common.Address, amount *big.Int) error
	RejectPayments(addr common.Address, reject bool)
}

// Handler handles HTTP requests for accounts.
type Handler struct {
	ledger Ledger
}

// NewHandler creates a new accounts HTTP handler.
func NewHandler(l Ledger) *Handler {
	return &Handler{ledger: l}
}

// RegisterReadRoutes registers read-only account routes (no auth required).
func (h *Handler) RegisterReadRoutes(r chi.Router) {
	r.Get("/{address}", h.handleBalance)
}

// RegisterWriteRoutes registers faucet routes (auth required, development chains only).
func (h *Handler) RegisterWriteRoutes(r chi.Router) {
	r.Post("/{address}/fund", h.handleFund)
	r.Post("/{address}/reject", h.handleReject)
}

// BalanceResponse describes an account.
type BalanceResponse struct {
	Address      string `json:"address"`
	Balance      string `json:"balance"`
	BalanceEther string `json:"balanceEther"`
}

// FundRequest credits an account. Amount accepts the same units as entries.
type FundRequest struct {
	Amount string `json:"amount"`
}

// RejectRequest toggles whether an account refuses incoming transfers.
type RejectRequest struct {
	Reject bool `json:"reject"`
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := validation.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.balance(addr))
}

func (h *Handler) handleFund(w http.ResponseWriter, r *http.Request) {
	addr, err := validation.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	var req FundRequest
	if !decode(w, r, &req) {
		return
	}
	amount, err := validation.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if amount.Sign() == 0 {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Amount must be positive")
		return
	}

	if err := h.ledger.Credit(r.Context(), addr, amount); err != nil {
		if errors.Is(err, ledger.ErrInvalidAmount) {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to fund account")
		return
	}

	writeJSON(w, http.StatusOK, h.balance(addr))
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	addr, err := validation.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	var req RejectRequest
	if !decode(w, r, &req) {
		return
	}
	h.ledger.RejectPayments(addr, req.Reject)

	writeJSON(w, http.StatusOK, map[string]any{
		"address": addr.Hex(),
		"reject":  req.Reject,
	})
}

func (h *Handler) balance(addr common.Address) BalanceResponse {
	bal := h.ledger.Balance(addr)
	return BalanceResponse{
		Address:      addr.Hex(),
		Balance:      bal.String(),
		BalanceEther: validation.FormatEther(bal),
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON")
		return false
	}
	return true
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
