package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all portfolio routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/strategies", func(r chi.Router) {
		r.Get("/", h.HandleListStrategies)
		r.Get("/{strategy}/portfolio", h.HandleGetPortfolio)
		r.Get("/{strategy}/aum", h.HandleGetAUMHistory) // ?limit=N, newest first
	})
}
