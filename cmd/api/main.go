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

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/range-cupp/rangemedical-system-2-sub009/internal/config"
	checkinHandler "github.com/range-cupp/rangemedical-system-2-sub009/internal/handler/checkin"
	healthHandler "github.com/range-cupp/rangemedical-system-2-sub009/internal/handler/health"
	journeyHandler "github.com/range-cupp/rangemedical-system-2-sub009/internal/handler/journey"
	promHandler "github.com/range-cupp/rangemedical-system-2-sub009/internal/handler/prometheus"
	protocolHandler "github.com/range-cupp/rangemedical-system-2-sub009/internal/handler/protocol"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/repository/postgres"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/router"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/service/checkin"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/service/event"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/service/followup"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/service/journey"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/service/ledger"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/service/packages"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/service/protocol"
	"github.com/range-cupp/rangemedical-system-2-sub009/pkg/logger"
	"github.com/range-cupp/rangemedical-system-2-sub009/pkg/metrics"
)

const metricsNamespace = "protocol_ledger"

func main() {
	cfg, err := config.LoadConfig(os.Getenv("LEDGER_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(cfg.Log.ToLoggerConfig())
	log.Logger = appLogger.Zerolog()
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.New(metricsNamespace)
	if err := appMetrics.Register(registry); err != nil {
		log.Fatal().Err(err).Msg("failed to register metrics")
	}
	httpMetrics := promHandler.New(registry, metricsNamespace)

	store := postgres.NewStore(db)

	// Initialize services
	eventSvc := event.NewService(store.Outbox(), appLogger)
	ledgerSvc := ledger.NewService(store, eventSvc, ledger.Config{
		MaxCASAttempts: cfg.Ledger.MaxCASAttempts,
	}, appLogger, appMetrics)
	journeySvc := journey.NewService(store, eventSvc, journey.Config{
		TemplateCacheTTL: cfg.Journey.TemplateCacheTTL,
	}, appLogger, appMetrics)
	followUpSvc := followup.NewService(store, followup.Config{
		WindowDays: cfg.Ledger.FollowUpWindowDays,
	}, appLogger, appMetrics)
	protocolSvc := protocol.NewService(store, eventSvc, ledgerSvc, journeySvc, followUpSvc, appLogger)
	packageSvc := packages.NewService(store)
	checkInSvc := checkin.NewService(store, appLogger)

	// Initialize handlers
	r := router.NewRouter(
		router.RouterConfig{
			RateLimitEnabled: cfg.RateLimit.Enabled,
			RateLimit:        cfg.RateLimit.RequestsPerSecond,
			RateBurst:        cfg.RateLimit.Burst,
			Metrics:          httpMetrics.Middleware(),
		},
		healthHandler.NewHandler(db, httpMetrics.Handler()),
		protocolHandler.NewHandler(protocolSvc, ledgerSvc, packageSvc, followUpSvc),
		journeyHandler.NewHandler(journeySvc),
		checkinHandler.NewHandler(checkInSvc),
	)
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		appLogger.Info("starting server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	appLogger.Info("server exited properly")
}
