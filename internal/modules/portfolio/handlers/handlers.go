// Package handlers provides HTTP handlers for strategy portfolios.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/bridgebot/internal/domain"
	"github.com/aristath/bridgebot/internal/modules/portfolio"
)

// Store is what the handler reads from
type Store interface {
	domain.PortfolioStore
	portfolio.StateStore
}

// Handler serves portfolio and AUM endpoints
type Handler struct {
	store Store
	log   zerolog.Logger
}

// NewHandler creates a new portfolio handler
func NewHandler(store Store, log zerolog.Logger) *Handler {
	return &Handler{
		store: store,
		log:   log.With().Str("handler", "portfolio").Logger(),
	}
}

type holdingResponse struct {
	Ticker      string          `json:"ticker"`
	Kind        string          `json:"kind"`
	Quantity    decimal.Decimal `json:"quantity"`
	BridgeValue decimal.Decimal `json:"bridge_value"`
}

// HandleListStrategies returns the bookkeeping row of every strategy
func (h *Handler) HandleListStrategies(w http.ResponseWriter, r *http.Request) {
	states, err := h.store.States(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list strategies")
		h.writeError(w, http.StatusInternalServerError, "failed to list strategies")
		return
	}
	if states == nil {
		states = []portfolio.StrategyState{}
	}
	h.writeJSON(w, http.StatusOK, states)
}

// HandleGetPortfolio returns the stored holdings of one strategy
func (h *Handler) HandleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	strategy := chi.URLParam(r, "strategy")

	state, err := h.store.State(r.Context(), strategy)
	if errors.Is(err, domain.ErrStrategyNotFound) {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("strategy", strategy).Msg("Failed to load strategy")
		h.writeError(w, http.StatusInternalServerError, "failed to load strategy")
		return
	}

	p, err := h.store.Load(r.Context(), strategy)
	if err != nil {
		h.log.Error().Err(err).Str("strategy", strategy).Msg("Failed to load portfolio")
		h.writeError(w, http.StatusInternalServerError, "failed to load portfolio")
		return
	}

	holdings := make([]holdingResponse, 0, p.Len())
	for _, a := range p.Allocations() {
		holdings = append(holdings, holdingResponse{
			Ticker:      a.Asset.Ticker,
			Kind:        string(a.Asset.Kind),
			Quantity:    a.Quantity,
			BridgeValue: a.BridgeValue,
		})
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"strategy":      strategy,
		"version":       p.Version,
		"aum":           state.AUM,
		"trigger_count": state.TriggerCount,
		"total_value":   p.TotalBridgeValue(),
		"holdings":      holdings,
	})
}

// HandleGetAUMHistory returns AUM points newest first. ?limit=N caps the result.
func (h *Handler) HandleGetAUMHistory(w http.ResponseWriter, r *http.Request) {
	strategy := chi.URLParam(r, "strategy")

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	points, err := h.store.AUMHistory(r.Context(), strategy, limit)
	if err != nil {
		h.log.Error().Err(err).Str("strategy", strategy).Msg("Failed to load AUM history")
		h.writeError(w, http.StatusInternalServerError, "failed to load AUM history")
		return
	}
	if points == nil {
		points = []portfolio.AUMPoint{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"strategy": strategy,
		"history":  points,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
