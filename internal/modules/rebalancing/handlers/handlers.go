// Package handlers provides HTTP handlers for manual rebalance triggers.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/bridgebot/internal/cycle"
	"github.com/aristath/bridgebot/internal/domain"
)

// Cycles runs and previews rebalance cycles
type Cycles interface {
	Run(ctx context.Context, strategy string) (cycle.Report, error)
	Preview(ctx context.Context, strategy string) (cycle.Preview, error)
}

// Handler handles rebalancing HTTP requests
type Handler struct {
	cycles  Cycles
	timeout time.Duration
	log     zerolog.Logger
}

// NewHandler creates a new rebalancing handler. Triggered cycles outlive the
// request and are bounded by timeout instead.
func NewHandler(cycles Cycles, timeout time.Duration, log zerolog.Logger) *Handler {
	return &Handler{
		cycles:  cycles,
		timeout: timeout,
		log:     log.With().Str("handler", "rebalancing").Logger(),
	}
}

type runResponse struct {
	Error  string        `json:"error,omitempty"`
	Report *cycle.Report `json:"report,omitempty"`
}

// HandleTrigger runs one cycle for the strategy and returns its report
func (h *Handler) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	strategy := chi.URLParam(r, "strategy")

	ctx := context.WithoutCancel(r.Context())
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	h.log.Info().Str("strategy", strategy).Msg("Manual rebalance requested")
	rep, err := h.cycles.Run(ctx, strategy)
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, runResponse{Report: &rep})
	case errors.Is(err, domain.ErrStrategyNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrCycleInFlight):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrPersistenceConflict):
		h.writeJSON(w, http.StatusConflict, runResponse{Error: err.Error(), Report: &rep})
	default:
		var body runResponse
		body.Error = err.Error()
		if rep.CycleID != "" {
			body.Report = &rep
		}
		h.writeJSON(w, http.StatusInternalServerError, body)
	}
}

// HandlePreview returns the orders the next rebalance would place
func (h *Handler) HandlePreview(w http.ResponseWriter, r *http.Request) {
	strategy := chi.URLParam(r, "strategy")

	pv, err := h.cycles.Preview(r.Context(), strategy)
	if errors.Is(err, domain.ErrStrategyNotFound) {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("strategy", strategy).Msg("Failed to preview rebalance")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if pv.Orders == nil {
		pv.Orders = []domain.Allocation{}
	}
	h.writeJSON(w, http.StatusOK, pv)
}

// writeJSON writes a JSON response
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
