package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all rebalancing routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/rebalancing", func(r chi.Router) {
		r.Post("/{strategy}", h.HandleTrigger)
		r.Get("/{strategy}/preview", h.HandlePreview)
	})
}
