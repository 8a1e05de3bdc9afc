package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lumipay/reconciliation-service/internal/adapters/memory"
	"github.com/lumipay/reconciliation-service/internal/adapters/postgres"
	"github.com/lumipay/reconciliation-service/internal/allocator"
	"github.com/lumipay/reconciliation-service/internal/config"
	"github.com/lumipay/reconciliation-service/internal/dispatch"
	"github.com/lumipay/reconciliation-service/internal/domain"
	"github.com/lumipay/reconciliation-service/internal/domain/ports"
	"github.com/lumipay/reconciliation-service/internal/handlers"
	"github.com/lumipay/reconciliation-service/internal/matcher"
	"github.com/lumipay/reconciliation-service/internal/parser"
	"github.com/lumipay/reconciliation-service/internal/reconcile"
	"github.com/lumipay/reconciliation-service/internal/services/ingest"
	"github.com/lumipay/reconciliation-service/internal/services/sysconfig"
	"github.com/lumipay/reconciliation-service/pkg/middleware"
	"github.com/lumipay/reconciliation-service/pkg/observability"
	"github.com/lumipay/reconciliation-service/pkg/timeutil"
)

const expirySweepInterval = time.Minute

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logger)
	defer logger.Sync()

	logger.Info("starting reconciliation service",
		zap.String("version", "0.1.0"),
	)

	// Storage: Postgres when configured, in-memory otherwise.
	repos, healthChecker, cleanup, err := initStorage(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer cleanup()

	// Core services.
	configCache := sysconfig.NewCache(repos.config, logger)
	textParser := parser.New()
	engine := matcher.New(repos.reservations, repos.unmatched, logger)
	alloc := allocator.New(repos.reservations, logger)
	workflow := reconcile.New(repos.unmatched, repos.reservations, repos.payments, logger)
	dispatcher := dispatch.New(repos.payments, repos.merchants, logger,
		dispatch.WithConfig(configCache),
		dispatch.WithBatch(cfg.Callback.BatchSize, time.Duration(cfg.Callback.BatchPauseMS)*time.Millisecond),
	)
	ingestSvc := ingest.New(textParser, engine, repos.payments, dispatcher, logger)

	rateLimiter := middleware.NewRateLimiter(cfg.Server.RateLimitPerSec, cfg.Server.RateLimitBurst)
	defer rateLimiter.Shutdown()

	api := handlers.New(ingestSvc, workflow, alloc, dispatcher, repos.merchants, rateLimiter, logger)

	// Metrics and health probes on their own port.
	metricsServer := observability.StartMetricsServer(strconv.Itoa(cfg.Server.MetricsPort), healthChecker, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go expirySweeper(sweepCtx, repos.reservations, logger)

	go func() {
		logger.Info("HTTP server listening",
			zap.String("address", httpServer.Addr),
			zap.Int("metrics_port", cfg.Server.MetricsPort),
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to serve HTTP", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	stopSweep()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := observability.ShutdownMetricsServer(metricsServer); err != nil {
		logger.Error("metrics server shutdown error", zap.Error(err))
	}

	logger.Info("stopped")
}

// repositories groups the persistence ports the services are wired with
type repositories struct {
	reservations ports.ReservationRepository
	payments     ports.PaymentRepository
	unmatched    ports.UnmatchedRepository
	merchants    ports.MerchantRepository
	config       ports.ConfigStore
}

// initStorage picks the persistence adapter. An unset DB_HOST selects the
// in-memory store, which is enough for a single node and for local runs.
func initStorage(cfg *config.Config, logger *zap.Logger) (*repositories, *observability.HealthChecker, func(), error) {
	if !cfg.Database.UsesPostgres() {
		logger.Info("using in-memory storage")
		store := memory.NewStore()
		// The migrations seed this row for Postgres; the memory store needs
		// the same fallback profile or every delivery fails config-missing.
		if err := store.Merchants().Upsert(context.Background(), &domain.MerchantProfile{
			ID:       "default",
			Code:     domain.DefaultMerchantCode,
			Name:     "Default Merchant",
			IsActive: false,
		}); err != nil {
			return nil, nil, nil, err
		}
		return &repositories{
			reservations: store.Reservations(),
			payments:     store.Payments(),
			unmatched:    store.Unmatched(),
			merchants:    store.Merchants(),
			config:       store.Config(),
		}, observability.NewHealthChecker(nil), func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pgCfg := postgres.DefaultConfig(cfg.Database.URL())
	pgCfg.MaxConns = cfg.Database.MaxConns
	pgCfg.MinConns = cfg.Database.MinConns

	db, err := postgres.Connect(ctx, pgCfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	logger.Info("database connection established",
		zap.String("database", cfg.Database.Database),
	)

	return &repositories{
		reservations: db.Reservations(),
		payments:     db.Payments(),
		unmatched:    db.Unmatched(),
		merchants:    db.Merchants(),
		config:       db.Config(),
	}, observability.NewHealthChecker(db.Pool()), db.Close, nil
}

// expirySweeper periodically expires stale pending reservations so old
// amounts return to the allocation space
func expirySweeper(ctx context.Context, reservations ports.ReservationRepository, logger *zap.Logger) {
	ticker := time.NewTicker(expirySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := reservations.ExpireBefore(ctx, timeutil.Now())
			if err != nil {
				logger.Error("reservation expiry sweep failed", zap.Error(err))
				continue
			}
			if count > 0 {
				logger.Info("expired stale reservations", zap.Int("count", count))
			}
		}
	}
}

// initLogger builds the zap logger from configuration
func initLogger(cfg config.LoggerConfig) *zap.Logger {
	level := zapcore.InfoLevel
	if parsed, err := zapcore.ParseLevel(cfg.Level); err == nil {
		level = parsed
	}

	if cfg.Development {
		zapCfg := zap.NewDevelopmentConfig()
		zapCfg.Level = zap.NewAtomicLevelAt(level)
		logger, _ := zapCfg.Build()
		return logger
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	logger, _ := zapCfg.Build()
	return logger
}
