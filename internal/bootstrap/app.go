// Package bootstrap wires configuration into running components and owns
// the application lifecycle.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"tradeloop/internal/alert"
	"tradeloop/internal/config"
	"tradeloop/internal/core"
	"tradeloop/internal/exchange/coinbase"
	"tradeloop/internal/market"
	"tradeloop/internal/mock"
	"tradeloop/internal/planner"
	"tradeloop/internal/scheduler"
	"tradeloop/internal/server"
	"tradeloop/internal/storage"
	"tradeloop/internal/trading/constraints"
	"tradeloop/internal/trading/execution"
	"tradeloop/internal/trading/pnl"
	"tradeloop/pkg/concurrency"
	"tradeloop/pkg/telemetry"
)

// mockStartMid seeds the simulated market when running against the mock
// exchange.
var mockStartMid = decimal.NewFromInt(50000)

// exchangeAPI is the union of the market-data and trading surfaces, served
// by either the live Coinbase client or the mock exchange.
type exchangeAPI interface {
	market.Client
	execution.ExchangeClient
}

// App holds the wired components of a running instance.
type App struct {
	cfg       *config.Config
	logger    core.ILogger
	telemetry *telemetry.Telemetry
	store     *storage.Store
	pool      *concurrency.WorkerPool
	orch      *scheduler.Orchestrator
	jobs      *scheduler.Jobs
	server    *server.Server
}

// NewApp builds every component from configuration. Product constraints are
// fetched from the exchange once at startup; increments do not change for
// the lifetime of a product.
func NewApp(cfg *config.Config, logger core.ILogger) (*App, error) {
	tel, err := telemetry.Setup("tradeloop", cfg.Telemetry.EnableTraces)
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}

	store, err := storage.NewStore(cfg.App.DatabasePath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	exch, err := buildExchange(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create exchange client: %w", err)
	}

	marketSvc := market.NewService(exch, cfg.Trading.ProductID, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	productConstraints, err := marketSvc.Constraints(ctx, decimal.NewFromFloat(cfg.Trading.MinDistancePct))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch product constraints: %w", err)
	}
	validator := constraints.NewValidator(productConstraints)

	executor := execution.NewService(exch, store, validator, cfg.Trading.ProductID, logger)

	plannerSvc := buildPlanner(cfg, logger)

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "follow_up",
		MaxWorkers:  cfg.Concurrency.FollowUpPoolSize,
		MaxCapacity: cfg.Concurrency.FollowUpPoolBuffer,
		NonBlocking: true,
	}, logger)

	var alerts *alert.Manager
	if cfg.Alert.Enabled {
		alerts = alert.NewManager(pool, logger)
		if cfg.Alert.SlackWebhookURL != "" {
			alerts.AddChannel(alert.NewSlackChannel(cfg.Alert.SlackWebhookURL))
		}
		if cfg.Alert.TelegramBotToken != "" {
			alerts.AddChannel(alert.NewTelegramChannel(cfg.Alert.TelegramBotToken, cfg.Alert.TelegramChatID))
		}
	}

	pnlEngine := pnl.NewEngine(
		decimal.NewFromFloat(cfg.Exchange.MakerFeeRate),
		decimal.NewFromFloat(cfg.Exchange.TakerFeeRate),
		logger,
	)

	orch := scheduler.NewOrchestrator(scheduler.Options{
		ProductID:       cfg.Trading.ProductID,
		QuoteCurrency:   cfg.Trading.QuoteCurrency,
		BaseCurrency:    cfg.Trading.BaseCurrency,
		MaxPlanOrders:   cfg.Trading.MaxPlanOrders,
		PlanAttempts:    cfg.Scheduler.PlanAttempts,
		DriftPct:        decimal.NewFromFloat(cfg.Trading.DriftPct),
		MakerFeeCushion: decimal.NewFromFloat(cfg.Trading.MakerFeeCushion),
		TakerFeeCushion: decimal.NewFromFloat(cfg.Trading.TakerFeeCushion),
		FollowUpDelay:   time.Duration(cfg.Trading.MarketFollowSecs) * time.Second,
	}, marketSvc, plannerSvc, executor, store, validator, pnlEngine, alerts, tel.Metrics, pool, logger)

	jobs, err := scheduler.NewJobs(cfg.Scheduler, orch, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to register jobs: %w", err)
	}

	srv := server.NewServer(
		fmt.Sprintf(":%d", cfg.Server.Port),
		cfg.Trading.ProductID,
		orch, store, pool, logger,
	)

	return &App{
		cfg:       cfg,
		logger:    logger.WithField("component", "bootstrap"),
		telemetry: tel,
		store:     store,
		pool:      pool,
		orch:      orch,
		jobs:      jobs,
		server:    srv,
	}, nil
}

func buildExchange(cfg *config.Config, logger core.ILogger) (exchangeAPI, error) {
	if cfg.Exchange.UseMock {
		logger.Warn("Using mock exchange, no real orders will be placed")
		return mock.NewExchange(cfg.Trading.ProductID, mockStartMid), nil
	}
	return coinbase.NewClient(coinbase.ClientOptions{
		BaseURL:   cfg.Exchange.BaseURL,
		APIKey:    cfg.Exchange.APIKey,
		APISecret: cfg.Exchange.APISecret,
		Algorithm: coinbase.SigningAlgorithm(cfg.Exchange.SigningAlgo),
		Timeout:   time.Duration(cfg.Exchange.TimeoutSecs) * time.Second,
		RateLimit: cfg.Exchange.RateLimit,
		RateBurst: cfg.Exchange.RateBurst,
	}, logger)
}

func buildPlanner(cfg *config.Config, logger core.ILogger) planner.Service {
	if cfg.Planner.StubMode {
		logger.Warn("Using stub planner, every cycle holds")
		return planner.NewStub()
	}
	return planner.NewClient(planner.ClientOptions{
		BaseURL:     cfg.Planner.BaseURL,
		APIKey:      cfg.Planner.APIKey,
		Model:       cfg.Planner.Model,
		Temperature: cfg.Planner.Temperature,
		Timeout:     time.Duration(cfg.Planner.TimeoutSecs) * time.Second,
	}, logger)
}

// Run starts the scheduler and HTTP server and blocks until a termination
// signal arrives or a component fails.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.jobs.Start()
	a.logger.Info("Application started",
		"product_id", a.cfg.Trading.ProductID,
		"port", a.cfg.Server.Port,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(a.server.ListenAndServe)
	g.Go(func() error {
		<-ctx.Done()
		a.shutdown()
		return nil
	})

	if err := g.Wait(); err != nil {
		a.logger.Error("Application stopped with error", "error", err)
		return err
	}
	a.logger.Info("Application shut down")
	return nil
}

func (a *App) shutdown() {
	timeout := time.Duration(a.cfg.Server.ShutdownTimeout) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	a.logger.Info("Shutting down")
	a.jobs.Stop()
	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Warn("HTTP server shutdown failed", "error", err)
	}
	a.pool.Stop()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("Store close failed", "error", err)
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn("Telemetry shutdown failed", "error", err)
	}
}
