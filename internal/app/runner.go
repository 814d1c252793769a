// Package app wires the engine's components together and owns process
// lifecycle: config, logger, storage, metrics endpoint and graceful shutdown.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/token-engine/internal/config"
	"github.com/rovshanmuradov/token-engine/internal/curve"
	"github.com/rovshanmuradov/token-engine/internal/engine"
	"github.com/rovshanmuradov/token-engine/internal/events"
	"github.com/rovshanmuradov/token-engine/internal/fees"
	"github.com/rovshanmuradov/token-engine/internal/fixedpoint"
	"github.com/rovshanmuradov/token-engine/internal/graduation"
	"github.com/rovshanmuradov/token-engine/internal/ledger"
	"github.com/rovshanmuradov/token-engine/internal/metrics"
	"github.com/rovshanmuradov/token-engine/internal/storage"
	"github.com/rovshanmuradov/token-engine/internal/storage/postgres"
)

// Runner owns the wired engine and its supporting services.
type Runner struct {
	cfg        *config.Config
	logger     *zap.Logger
	service    *engine.Service
	bus        *events.Bus
	buyback    *fees.BuybackQueue
	journal    *ledger.Journal
	metricsSrv *http.Server
	shutdownCh chan os.Signal
}

// NewRunner builds the full engine from configuration.
func NewRunner(cfg *config.Config, logger *zap.Logger) (*Runner, error) {
	journal, err := ledger.NewJournal(cfg.JournalDir, 5*time.Second, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open trade journal: %w", err)
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	var store storage.Storage
	var metricStore fees.MetricStore = fees.NewMemoryMetricStore()
	if cfg.PostgresURL != "" {
		store, err = postgres.NewStorage(cfg.PostgresURL, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect storage: %w", err)
		}
		if err := store.RunMigrations(); err != nil {
			return nil, err
		}
		metricStore = fees.NewDurableMetricStore(store)
	}

	shares := fees.Shares{
		Buyback:        fixedpoint.FromBps(cfg.BuybackShare),
		Treasury:       fixedpoint.FromBps(cfg.TreasuryShare),
		CreatorRewards: fixedpoint.FromBps(cfg.CreatorShare),
	}
	buyback := fees.NewBuybackQueue(logger)
	feeEngine, err := fees.NewEngine(shares, metricStore, buyback, collector, logger)
	if err != nil {
		return nil, err
	}

	coordinator := graduation.NewCoordinator(graduation.Config{
		Threshold:            fixedpoint.MustFromString(cfg.GraduationThreshold),
		SeedSupplyFraction:   fixedpoint.MustFromString(cfg.SeedSupplyFraction),
		SeedProceedsFraction: fixedpoint.MustFromString(cfg.SeedProceedsFraction),
		PoolFeeRate:          fixedpoint.FromBps(cfg.PoolFee),
	}, collector, logger)

	bus := events.NewBus(logger, cfg.EventBufferSize)

	service, err := engine.NewService(engine.Config{
		CurveParams: curve.Params{
			BasePrice: fixedpoint.MustFromString(cfg.BasePrice),
			Scale:     fixedpoint.MustFromString(cfg.CurveScale),
			FeeRate:   fixedpoint.FromBps(cfg.CurveFee),
		},
		LockWait:          time.Duration(cfg.LockWaitMs) * time.Millisecond,
		RetryMaxTries:     uint(cfg.RetryMaxAttempts),
		RetryInitialDelay: time.Duration(cfg.RetryInitialDelay) * time.Millisecond,
	}, engine.Deps{
		Ledger:    ledger.New(journal, logger),
		Fees:      feeEngine,
		Grad:      coordinator,
		Gateway:   engine.ApproveAll(),
		Store:     store,
		Bus:       bus,
		Collector: collector,
	}, logger)
	if err != nil {
		return nil, err
	}

	r := &Runner{
		cfg:        cfg,
		logger:     logger,
		service:    service,
		bus:        bus,
		buyback:    buyback,
		journal:    journal,
		shutdownCh: make(chan os.Signal, 1),
	}
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		r.metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	}
	return r, nil
}

// Service exposes the wired engine to callers embedding the runner.
func (r *Runner) Service() *engine.Service { return r.service }

// Bus exposes the event bus for subscribing consumers.
func (r *Runner) Bus() *events.Bus { return r.bus }

// BuybackQueue exposes the pending buyback batches for the external
// execution service.
func (r *Runner) BuybackQueue() *fees.BuybackQueue { return r.buyback }

// Run serves until the context is cancelled or a termination signal arrives,
// then shuts down in dependency order.
func (r *Runner) Run(ctx context.Context) error {
	signal.Notify(r.shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	if r.metricsSrv != nil {
		go func() {
			r.logger.Info("Metrics endpoint listening", zap.String("addr", r.metricsSrv.Addr))
			if err := r.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("Metrics endpoint failed", zap.Error(err))
			}
		}()
	}

	r.logger.Info("Engine running")
	select {
	case sig := <-r.shutdownCh:
		r.logger.Info("Signal received", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}
	return r.shutdown()
}

func (r *Runner) shutdown() error {
	r.logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if r.metricsSrv != nil {
		if err := r.metricsSrv.Shutdown(shutdownCtx); err != nil {
			r.logger.Warn("Metrics endpoint shutdown failed", zap.Error(err))
		}
	}
	r.service.Close()
	if err := r.bus.Shutdown(shutdownCtx); err != nil {
		r.logger.Warn("Event bus shutdown failed", zap.Error(err))
	}
	if err := r.journal.Close(); err != nil {
		r.logger.Warn("Journal close failed", zap.Error(err))
	}
	return nil
}
