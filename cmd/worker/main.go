package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/range-cupp/rangemedical-system-2-sub009/internal/config"
	healthHandler "github.com/range-cupp/rangemedical-system-2-sub009/internal/handler/health"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/repository/postgres"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/service/event"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/service/expiration"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/service/journey"
	internalWorker "github.com/range-cupp/rangemedical-system-2-sub009/internal/worker"
	"github.com/range-cupp/rangemedical-system-2-sub009/pkg/logger"
	"github.com/range-cupp/rangemedical-system-2-sub009/pkg/messaging/redis"
	"github.com/range-cupp/rangemedical-system-2-sub009/pkg/metrics"
	"github.com/range-cupp/rangemedical-system-2-sub009/pkg/worker"
)

type runner interface {
	Start(ctx context.Context)
}

func setupHealthCheck(port int, db healthHandler.Pinger, registry *prometheus.Registry, appLogger *logger.Logger) *http.Server {
	engine := gin.New()
	engine.Use(gin.Recovery())
	metricsHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	healthHandler.NewHandler(db, gin.WrapH(metricsHandler)).RegisterRoutes(&engine.RouterGroup)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: engine,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error(err, "Health check server failed")
			os.Exit(1)
		}
	}()
	return srv
}

func main() {
	cfg, err := config.LoadConfig(os.Getenv("LEDGER_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	appLogger := logger.NewLogger(cfg.Log.ToLoggerConfig())
	log.Logger = appLogger.Zerolog()
	gin.SetMode(gin.ReleaseMode)

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	broker, err := redis.NewRedisBroker(cfg.Redis.ToBrokerConfig(), &log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Redis broker")
	}
	defer broker.Close()

	registry := prometheus.NewRegistry()
	workerMetrics := metrics.New("protocol_ledger_worker")
	if err := workerMetrics.Register(registry); err != nil {
		log.Fatal().Err(err).Msg("Failed to register metrics")
	}

	store := postgres.NewStore(db)
	eventSvc := event.NewService(store.Outbox(), appLogger)

	runners := []runner{
		worker.NewOutboxProcessor(
			store,
			broker,
			cfg.Outbox.ToWorkerConfig(cfg.Redis.Channel),
			appLogger.WithFields(map[string]interface{}{"worker": "outbox"}),
			workerMetrics,
		),
	}

	if cfg.Sweeper.Enabled {
		sweeper := expiration.NewService(store, eventSvc, cfg.Sweeper.ToSweeperConfig(), appLogger, workerMetrics)
		runners = append(runners, internalWorker.NewExpirationSweeper(
			sweeper,
			cfg.Sweeper.Interval,
			appLogger.WithFields(map[string]interface{}{"worker": "expiration"}),
		))
	}

	if cfg.Journey.AutoAdvanceEnabled {
		journeySvc := journey.NewService(store, eventSvc, journey.Config{
			TemplateCacheTTL: cfg.Journey.TemplateCacheTTL,
		}, appLogger, workerMetrics)
		runners = append(runners, internalWorker.NewJourneyAdvancer(
			journeySvc,
			cfg.Journey.AutoAdvanceInterval,
			appLogger.WithFields(map[string]interface{}{"worker": "journey"}),
		))
	}

	healthSrv := setupHealthCheck(cfg.Server.HealthPort, db, registry, appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		appLogger.Info("Shutting down...")
		cancel()
	}()

	var wg sync.WaitGroup
	for _, r := range runners {
		wg.Add(1)
		go func(r runner) {
			defer wg.Done()
			r.Start(ctx)
		}(r)
	}
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(err, "Health check server forced to shutdown")
	}
}
