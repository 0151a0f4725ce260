// Package handlers provides HTTP handlers for the order ledger.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/bridgebot/internal/domain"
)

// OrderLedger is the read side of the executed order ledger
type OrderLedger interface {
	ListByStrategy(ctx context.Context, strategy string, limit int) ([]domain.ExecutedOrder, error)
	ListByCycle(ctx context.Context, cycleID string) ([]domain.ExecutedOrder, error)
}

// TradingHandlers contains HTTP handlers for the order ledger
type TradingHandlers struct {
	ledger OrderLedger
	log    zerolog.Logger
}

// NewTradingHandlers creates a new trading handlers instance
func NewTradingHandlers(ledger OrderLedger, log zerolog.Logger) *TradingHandlers {
	return &TradingHandlers{
		ledger: ledger,
		log:    log.With().Str("handler", "trading").Logger(),
	}
}

// HandleGetOrders returns the latest orders of a strategy
// GET /api/orders?strategy=alpha&limit=50
func (h *TradingHandlers) HandleGetOrders(w http.ResponseWriter, r *http.Request) {
	strategy := r.URL.Query().Get("strategy")
	if strategy == "" {
		h.writeError(w, http.StatusBadRequest, "strategy is required")
		return
	}

	limit := 50
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		if parsed, err := strconv.Atoi(limitParam); err == nil {
			limit = parsed
		}
	}

	orders, err := h.ledger.ListByStrategy(r.Context(), strategy, limit)
	if err != nil {
		h.log.Error().Err(err).Str("strategy", strategy).Msg("Failed to get order history")
		h.writeError(w, http.StatusInternalServerError, "failed to get order history")
		return
	}
	if orders == nil {
		orders = []domain.ExecutedOrder{}
	}
	h.writeJSON(w, http.StatusOK, orders)
}

// HandleGetCycleOrders returns every order attempted in one cycle
// GET /api/orders/cycles/{cycleID}
func (h *TradingHandlers) HandleGetCycleOrders(w http.ResponseWriter, r *http.Request) {
	cycleID := chi.URLParam(r, "cycleID")

	orders, err := h.ledger.ListByCycle(r.Context(), cycleID)
	if err != nil {
		h.log.Error().Err(err).Str("cycle_id", cycleID).Msg("Failed to get cycle orders")
		h.writeError(w, http.StatusInternalServerError, "failed to get cycle orders")
		return
	}
	if len(orders) == 0 {
		h.writeError(w, http.StatusNotFound, "no orders for cycle")
		return
	}
	h.writeJSON(w, http.StatusOK, orders)
}

func (h *TradingHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *TradingHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
