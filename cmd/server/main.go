package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/intent-settlement/internal/auth"
	"github.com/ksred/intent-settlement/internal/chainsim"
	"github.com/ksred/intent-settlement/internal/config"
	"github.com/ksred/intent-settlement/internal/database"
	"github.com/ksred/intent-settlement/internal/metrics"
	"github.com/ksred/intent-settlement/internal/orchestrator"
	"github.com/ksred/intent-settlement/internal/store"
	"github.com/ksred/intent-settlement/internal/tracker"
	"github.com/ksred/intent-settlement/internal/types"
	"github.com/ksred/intent-settlement/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the settlement coordinator with graceful shutdown
// support: HTTP ingress, the order store and its sweeper, the orchestrator
// and the fill competition tracker.
func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.toml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize database-backed order store
	db, err := database.NewDatabase(cfg.Store.DatabasePath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}
	orderStore := store.NewStore(db, cfg.Store.MaxHeldOrders)

	// Simulated chain collaborators; a production deployment wires real
	// chain clients here instead.
	chain := chainsim.NewSimulatedChain()
	fillExecutor := chainsim.NewFillExecutor(chain)
	finalizeExecutor := chainsim.NewFinalizeExecutor(orderStore)

	// Initialize services and handlers
	authService := auth.NewService(cfg.Server.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	metricsRegistry := metrics.NewRegistry()

	orchestratorService := orchestrator.NewService(orderStore, fillExecutor, finalizeExecutor)
	orchestratorService.SetOutcomeObserver(metricsRegistry)
	orchestratorHandlers := orchestrator.NewGinHandlers(orchestratorService)

	fillTracker := tracker.New(chain, chain, cfg.Tracker.CompetitionWindow(), cfg.Tracker.MonitorFailures)
	trackerHandlers := tracker.NewGinHandlers(fillTracker)

	registerTrackerObservers(fillTracker, orchestratorService, metricsRegistry)

	if err := fillTracker.StartListening(); err != nil {
		zlog.Fatal().Err(err).Msg("Failed to start fill tracker")
	}

	// Start the store sweeper (capacity policy + deadline expiry)
	sweeper := store.NewSweeper(orderStore, cfg.Store.CleanupInterval())
	sweeperCtx, sweeperCancel := context.WithCancel(context.Background())
	defer sweeperCancel()
	go sweeper.Start(sweeperCtx)

	// Initialize router
	router := gin.Default()
	router.Use(middleware.RateLimit())
	setupRoutes(router, cfg.Server.JWTSecret, authHandlers, orchestratorHandlers, trackerHandlers, metricsRegistry)

	// Create server
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Stop scheduling new pipelines and cancel window timers; in-flight
	// external calls run to completion.
	orchestratorService.Stop()
	fillTracker.StopListening()
	sweeperCancel()

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// registerTrackerObservers wires the named observers consumed across the
// service: prometheus counters and the orchestrator's reconciliation view.
func registerTrackerObservers(
	fillTracker *tracker.Tracker,
	orchestratorService *orchestrator.Service,
	metricsRegistry *metrics.Registry,
) {
	fillTracker.RegisterFillHandler("metrics", func(ev types.FillEventData) error {
		metricsRegistry.IncFillEvent("success")
		return nil
	})
	fillTracker.RegisterFailureHandler("metrics", func(ev types.FillFailureData) error {
		metricsRegistry.IncFillEvent("failure")
		return nil
	})
	fillTracker.RegisterCompetitionHandler("metrics", func(comp *tracker.Competition) error {
		outcome := "unfilled"
		if comp.Winner != "" {
			outcome = "won"
		}
		metricsRegistry.IncCompetitionFinalized(outcome)

		open := 0
		for _, c := range fillTracker.GetAllCompetitions() {
			if c.Active {
				open++
			}
		}
		metricsRegistry.SetOpenCompetitions(open)
		return nil
	})
	fillTracker.RegisterCompetitionHandler("orchestrator", orchestratorService.ObserveCompetition)
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Order routes: Protected by JWT authentication
// - Competition routes: Protected by JWT authentication
// - Internal routes: Protected by internal network authentication
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	orchestratorHandlers *orchestrator.GinHandlers,
	trackerHandlers *tracker.GinHandlers,
	metricsRegistry *metrics.Registry,
) {
	router.GET("/metrics", gin.WrapH(metricsRegistry.Handler()))

	v1 := router.Group("/api/v1")
	{
		// Auth routes
		auth := v1.Group("/auth")
		{
			auth.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Order routes
		orders := v1.Group("/orders")
		orders.Use(middleware.JWTAuth(jwtSecret))
		{
			orders.POST("", orchestratorHandlers.AdmitOrderHandler())
			orders.GET("/:order_id", orchestratorHandlers.GetOrderStatusHandler())
			orders.GET("/:order_id/filled", trackerHandlers.IsOrderFilledHandler())
		}

		// Competition observability routes
		competitions := v1.Group("/competitions")
		competitions.Use(middleware.JWTAuth(jwtSecret))
		{
			competitions.GET("", trackerHandlers.GetAllCompetitionsHandler())
			competitions.GET("/:order_id", trackerHandlers.GetCompetitionHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(jwtSecret))
		{
			internal.GET("/events/fills", trackerHandlers.PastFillEventsHandler())
			internal.GET("/stats", orchestratorHandlers.StatsHandler())
		}
	}
}
