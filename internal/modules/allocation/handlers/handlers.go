// Package handlers provides HTTP handlers for strategy targets and drift.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/bridgebot/internal/domain"
	"github.com/aristath/bridgebot/internal/modules/allocation"
)

// WeightSource returns the configured weights of a strategy
type WeightSource interface {
	Weights(strategy string) ([]allocation.Weight, bool)
}

// PortfolioLoader loads the stored portfolio of a strategy
type PortfolioLoader interface {
	Load(ctx context.Context, strategy string) (domain.Portfolio, error)
}

// Handler handles allocation HTTP requests
type Handler struct {
	weights WeightSource
	store   PortfolioLoader
	log     zerolog.Logger
}

// NewHandler creates a new allocation handler
func NewHandler(weights WeightSource, store PortfolioLoader, log zerolog.Logger) *Handler {
	return &Handler{
		weights: weights,
		store:   store,
		log:     log.With().Str("handler", "allocation").Logger(),
	}
}

// HandleGetTargets returns the configured weights of a strategy
func (h *Handler) HandleGetTargets(w http.ResponseWriter, r *http.Request) {
	strategy := chi.URLParam(r, "strategy")
	weights, ok := h.weights.Weights(strategy)
	if !ok {
		h.writeError(w, http.StatusNotFound, "unknown strategy")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"strategy": strategy,
		"weights":  weights,
	})
}

// HandleGetDrift compares the stored portfolio with the configured weights
func (h *Handler) HandleGetDrift(w http.ResponseWriter, r *http.Request) {
	strategy := chi.URLParam(r, "strategy")
	weights, ok := h.weights.Weights(strategy)
	if !ok {
		h.writeError(w, http.StatusNotFound, "unknown strategy")
		return
	}

	p, err := h.store.Load(r.Context(), strategy)
	if err != nil {
		h.log.Error().Err(err).Str("strategy", strategy).Msg("Failed to load portfolio")
		h.writeError(w, http.StatusInternalServerError, "failed to load portfolio")
		return
	}

	drift := allocation.Drift(p, weights)
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"strategy":      strategy,
		"max_deviation": allocation.MaxDeviation(drift),
		"assets":        drift,
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
