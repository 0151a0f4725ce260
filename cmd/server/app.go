package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aristath/bridgebot/internal/broker"
	"github.com/aristath/bridgebot/internal/clients/binance"
	"github.com/aristath/bridgebot/internal/config"
	"github.com/aristath/bridgebot/internal/cycle"
	"github.com/aristath/bridgebot/internal/database"
	"github.com/aristath/bridgebot/internal/domain"
	"github.com/aristath/bridgebot/internal/metrics"
	"github.com/aristath/bridgebot/internal/modules/portfolio"
	"github.com/aristath/bridgebot/internal/modules/trading"
	"github.com/aristath/bridgebot/internal/scheduler"
	"github.com/aristath/bridgebot/internal/server"
	"github.com/aristath/bridgebot/pkg/logger"
)

// cycleTimeout bounds one cycle; every broker call inside is bounded separately
const cycleTimeout = 5 * time.Minute

// app holds everything wired at startup
type app struct {
	cfg        *config.Config
	log        zerolog.Logger
	strategies *config.Strategies
	runner     *cycle.Runner
	metrics    *metrics.Registry
	store      *portfolio.Store
	ledger     *trading.OrderRepository
	databases  []*database.DB
	closers    []io.Closer
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Error().Err(err).Msg("Failed to load configuration")
		return nil, err
	}

	log, logFile, err := logger.NewWithFile(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
		File:   cfg.LogFile,
	})
	if err != nil {
		return nil, err
	}
	logger.SetGlobalLogger(log)

	a := &app{cfg: cfg, log: log}
	if logFile != nil {
		a.closers = append(a.closers, logFile)
	}

	if a.strategies, err = config.LoadStrategies(cfg.StrategiesFile); err != nil {
		a.close()
		return nil, err
	}
	bridge, err := a.strategies.Bridge()
	if err != nil {
		a.close()
		return nil, err
	}

	portfolioDB, err := a.openDB(database.NamePortfolio, database.ProfileStandard)
	if err != nil {
		a.close()
		return nil, err
	}
	ledgerDB, err := a.openDB(database.NameLedger, database.ProfileLedger)
	if err != nil {
		a.close()
		return nil, err
	}

	a.store = portfolio.NewStore(portfolioDB.Conn(), log)
	a.ledger = trading.NewOrderRepository(ledgerDB.Conn(), log)
	a.metrics = metrics.NewRegistry()

	exchange := binance.NewClient(binance.Config{
		APIKey:       cfg.BinanceAPIKey,
		APISecret:    cfg.BinanceAPISecret,
		Bridge:       bridge,
		NativeMarket: cfg.BinanceNativeMarket,
	}, log)

	guard := broker.DefaultGuardConfig()
	guard.CallTimeout = cfg.BrokerCallTimeout
	guard.RatePerSecond = cfg.BrokerRateLimit

	deps := cycle.Deps{
		Store:    a.store,
		Feed:     exchange,
		Meta:     exchange,
		Paper:    broker.NewGuarded(broker.NewPaperBroker(exchange, log), exchange, guard, log),
		Ledger:   a.ledger,
		Observer: a.metrics,
	}
	if cfg.HasExchangeCredentials() {
		deps.Live = broker.NewGuarded(exchange, exchange, guard, log)
	} else {
		log.Warn().Msg("No exchange credentials, only paper strategies can trade")
	}
	a.runner = cycle.NewRunner(a.strategies, deps, log)

	log.Info().
		Strs("strategies", a.strategies.Names()).
		Str("bridge", bridge.Ticker).
		Bool("live", deps.Live != nil).
		Msg("bridgebot initialized")
	return a, nil
}

func (a *app) openDB(name string, profile database.DatabaseProfile) (*database.DB, error) {
	db, err := database.New(database.Config{
		Path:    filepath.Join(a.cfg.DataDir, name+".db"),
		Profile: profile,
		Name:    name,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db)
	if err := db.Migrate(); err != nil {
		return nil, err
	}
	a.databases = append(a.databases, db)
	return db, nil
}

// close releases resources in reverse order of acquisition
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.log.Warn().Err(err).Msg("Close failed")
		}
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()
	log := a.log

	sched := scheduler.New(a.cfg.SchedulerWorkers, log)
	n, err := scheduler.RegisterStrategies(sched, a.runner, a.strategies, cycleTimeout)
	if err != nil {
		return err
	}
	if err := sched.AddJob("0 */15 * * * *", scheduler.NewCheckpointJob(log, a.databases...)); err != nil {
		return err
	}

	srv := server.New(server.Config{
		Log:          log,
		Port:         a.cfg.Port,
		DevMode:      a.cfg.DevMode,
		Strategies:   a.strategies,
		Store:        a.store,
		Ledger:       a.ledger,
		Cycles:       a.runner,
		CycleTimeout: cycleTimeout,
		Metrics:      a.metrics.Handler(),
		Databases:    a.databases,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Start()
	}()
	sched.Start()
	log.Info().Int("scheduled", n).Int("port", a.cfg.Port).Msg("bridgebot started")

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down...")
	case err = <-serveErr:
		log.Error().Err(err).Msg("HTTP server stopped unexpectedly")
	}

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Error().Err(shutdownErr).Msg("Server forced to shutdown")
	}
	log.Info().Msg("bridgebot stopped")
	return err
}

func runRebalance(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cycleTimeout)
	defer cancel()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if previewOnly {
		pv, err := a.runner.Preview(ctx, args[0])
		if err != nil {
			return err
		}
		return enc.Encode(pv)
	}

	rep, err := a.runner.Run(ctx, args[0])
	if rep.CycleID != "" {
		if encErr := enc.Encode(rep); encErr != nil {
			return encErr
		}
	}
	if errors.Is(err, domain.ErrPersistenceConflict) {
		return fmt.Errorf("orders were placed but the portfolio was not saved: %w", err)
	}
	return err
}
