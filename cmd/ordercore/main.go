// Command ordercore is the composition root for the order-processing core:
// it loads configuration, connects and migrates the database, wires the
// resilience fabric, adapters, risk/validation engines, orchestrator,
// lifecycle scheduler and HTTP surface, and serves until signalled to stop.
// Grounded on the jax-orchestrator service's cmd/main.go wiring order
// (config -> db -> dependencies -> server -> graceful shutdown).
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"trading-order-core/internal/adapters"
	"trading-order-core/internal/config"
	"trading-order-core/internal/execution"
	"trading-order-core/internal/httpapi"
	"trading-order-core/internal/orchestration"
	"trading-order-core/internal/scheduler"
	"trading-order-core/libs/database"
	"trading-order-core/libs/observability"
	"trading-order-core/libs/repository"
	"trading-order-core/libs/resilience"
	"trading-order-core/libs/risk"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "ordercore:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("ORDERCORE_CONFIG"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	observability.Init(cfg.Logging.Level)
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "order-core").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.ConnectWithMigrations(ctx, &database.Config{
		DSN: cfg.Database.DSN, MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns, ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, "") // embedded migration set
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	fabric := resilience.NewFabric(cfg.Breakers.FabricTunables(), resilience.DefaultClassifier, log)

	brokerAdapter := adapters.NewBrokerAuthAdapter(cfg.BrokerAuth.BaseURL, cfg.BrokerAuth.APIKey, cfg.Execution.Timeout(), fabric.Broker)
	portfolioAdapter := adapters.NewPortfolioAdapter(cfg.Portfolio.BaseURL, cfg.Execution.Timeout(), fabric.Portfolio)
	eventAdapter := adapters.NewEventAdapter(cfg.EventBus.BaseURL, cfg.Execution.Timeout(), fabric.Order, log)

	policy := policyFromConfig(cfg.Risk)
	dailyTrades := risk.NewDailyTradeCounter()
	riskEngine := risk.NewEngine(policy, portfolioAdapter, dailyTrades)

	execEngine := execution.NewEngine(brokerAdapter, execution.Tunables{
		Timeout:                 cfg.Execution.Timeout(),
		StatusPollInterval:      cfg.Execution.StatusPollInterval(),
		MaxStatusPolls:          cfg.Execution.MaxStatusPolls,
		PartialFillThresholdPct: cfg.Execution.PartialFillThresholdPct,
	})

	orders := repository.NewOrderRepository(db.DB)
	limitsRepo := repository.NewRiskLimitsRepository(db.DB)

	orch := orchestration.NewOrchestrator(
		orders, limitsRepo, nil, riskEngine, execEngine,
		portfolioAdapter, eventAdapter, orchestration.DefaultRouter{Broker: "default"}, log,
	)

	sched := scheduler.New(ctx, log)
	if err := wireJobs(sched, cfg, orders, brokerAdapter, portfolioAdapter, fabric, log); err != nil {
		return fmt.Errorf("wire scheduler jobs: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	api := httpapi.New(orch, orders, log)
	server := &http.Server{
		Addr:         cfg.Server.HTTPAddr,
		Handler:      api,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.HTTPAddr).Msg("order core listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func policyFromConfig(r config.RiskConfig) *risk.Policy {
	p := risk.DefaultPolicy()
	p.MaxOrderValue = decimalFromFloat(r.MaxOrderValue)
	p.MaxDailyTrades = r.MaxDailyTrades
	p.MaxPositionConcentration = decimalFromFloat(r.MaxPositionConcentration)
	p.MinBuyingPowerBuffer = decimalFromFloat(r.MinBuyingPowerBuffer)
	p.MaxMarginUsage = decimalFromFloat(r.MaxMarginUsage)
	p.DefaultReferencePrice = decimalFromFloat(r.DefaultMarketReferencePrice)
	return p
}

func decimalFromFloat(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func wireJobs(
	sched *scheduler.Scheduler,
	cfg *config.Config,
	orders *repository.OrderRepository,
	broker *adapters.BrokerAuthAdapter,
	portfolio *adapters.PortfolioAdapter,
	fabric *resilience.Fabric,
	log zerolog.Logger,
) error {
	if err := sched.AddJob(cfg.Scheduler.ExpireOrdersCron, &scheduler.ExpireOrdersJob{Orders: orders, Broker: broker, Log: log}); err != nil {
		return err
	}
	if err := sched.AddJob(cfg.Scheduler.ReconcileCron, &scheduler.ReconcileJob{Orders: orders, Broker: broker, Log: log}); err != nil {
		return err
	}
	if err := sched.AddJob(cfg.Scheduler.DrainPortfolioCron, &scheduler.DrainPortfolioQueueJob{Portfolio: portfolio, Breaker: fabric.Portfolio, Log: log}); err != nil {
		return err
	}
	breakers := map[string]*resilience.Breaker{
		"order": fabric.Order, "risk": fabric.Risk, "broker": fabric.Broker, "portfolio": fabric.Portfolio,
	}
	return sched.AddJob(cfg.Scheduler.MetricsSnapshotCron, &scheduler.MetricsSnapshotJob{Breakers: breakers, Portfolio: portfolio})
}
