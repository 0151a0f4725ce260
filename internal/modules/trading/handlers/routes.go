package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all order ledger routes
func (h *TradingHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Get("/", h.HandleGetOrders)                      // ?strategy=&limit=
		r.Get("/cycles/{cycleID}", h.HandleGetCycleOrders) // one cycle, placement order
	})
}
