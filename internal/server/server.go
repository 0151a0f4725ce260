// Package server provides the HTTP server and routing for bridgebot.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/bridgebot/internal/config"
	"github.com/aristath/bridgebot/internal/database"
	allocationhandlers "github.com/aristath/bridgebot/internal/modules/allocation/handlers"
	portfoliohandlers "github.com/aristath/bridgebot/internal/modules/portfolio/handlers"
	rebalancinghandlers "github.com/aristath/bridgebot/internal/modules/rebalancing/handlers"
	tradinghandlers "github.com/aristath/bridgebot/internal/modules/trading/handlers"
)

// Config holds server configuration
type Config struct {
	Log     zerolog.Logger
	Port    int
	DevMode bool

	Strategies *config.Strategies
	Store      portfoliohandlers.Store
	Ledger     tradinghandlers.OrderLedger
	Cycles     rebalancinghandlers.Cycles
	// CycleTimeout bounds manually triggered cycles
	CycleTimeout time.Duration
	// Metrics is mounted at /metrics when set
	Metrics http.Handler
	// Databases are checked by /health
	Databases []*database.DB
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
	cfg    Config
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
		cfg:    cfg,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.CycleTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the root router
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	if s.cfg.Metrics != nil {
		s.router.Handle("/metrics", s.cfg.Metrics)
	}

	s.router.Route("/api", func(r chi.Router) {
		// reads are quick; triggered cycles carry their own timeout
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			if s.cfg.Store != nil {
				portfoliohandlers.NewHandler(s.cfg.Store, s.log).RegisterRoutes(r)
				if s.cfg.Strategies != nil {
					allocationhandlers.NewHandler(s.cfg.Strategies, s.cfg.Store, s.log).RegisterRoutes(r)
				}
			}
			if s.cfg.Ledger != nil {
				tradinghandlers.NewTradingHandlers(s.cfg.Ledger, s.log).RegisterRoutes(r)
			}
		})

		if s.cfg.Cycles != nil {
			rebalancinghandlers.NewHandler(s.cfg.Cycles, s.cfg.CycleTimeout, s.log).RegisterRoutes(r)
		}
	})
}

// Start serves until Shutdown. http.ErrServerClosed is not an error.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
