package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all allocation routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/allocation/{strategy}", func(r chi.Router) {
		r.Get("/targets", h.HandleGetTargets)
		r.Get("/drift", h.HandleGetDrift) // uses stored bridge values, no repricing
	})
}
