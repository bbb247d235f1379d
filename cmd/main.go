package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/streamspace-labs/orchestrator/internal/adminhttp"
	"github.com/streamspace-labs/orchestrator/internal/auth"
	"github.com/streamspace-labs/orchestrator/internal/cache"
	"github.com/streamspace-labs/orchestrator/internal/config"
	"github.com/streamspace-labs/orchestrator/internal/db"
	"github.com/streamspace-labs/orchestrator/internal/events"
	"github.com/streamspace-labs/orchestrator/internal/lease"
	"github.com/streamspace-labs/orchestrator/internal/logger"
	"github.com/streamspace-labs/orchestrator/internal/middleware"
	"github.com/streamspace-labs/orchestrator/internal/routing"
	"github.com/streamspace-labs/orchestrator/internal/scheduler"
	"github.com/streamspace-labs/orchestrator/internal/session"
	"github.com/streamspace-labs/orchestrator/internal/store"
	"github.com/streamspace-labs/orchestrator/internal/workload"
)

func main() {
	cfg := config.Load()
	logger.Initialize(cfg.LogLevel, cfg.LogPretty)
	log := logger.GetLogger()

	log.Info().Msg("starting orchestrator control plane")

	database, err := db.NewDatabase(db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	})
	if err != nil {
		if errors.Is(err, db.ErrInvalidConfig) {
			log.Error().Err(err).Msg("invalid database configuration")
			os.Exit(2)
		}
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	log.Info().Msg("running database migrations")
	if err := database.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	redisCache, err := cache.NewCache(cache.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       0,
		Enabled:  cfg.CacheEnabled,
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to initialize redis cache, continuing without it")
		redisCache, _ = cache.NewCache(cache.Config{Enabled: false})
	}
	defer redisCache.Close()

	sink := events.NewSink(events.Config{
		URL:      cfg.NATSURL,
		User:     cfg.NATSUser,
		Password: cfg.NATSPassword,
		Buffer:   1024,
	})
	defer sink.Close()

	adapter := db.NewAdapter(database)
	clusterStore := store.New(adapter, sink)

	loadCtx, cancelLoad := context.WithTimeout(context.Background(), 30*time.Second)
	if err := clusterStore.LoadFromAdapter(loadCtx); err != nil {
		cancelLoad()
		log.Fatal().Err(err).Msg("failed to load cluster state from durable adapter")
	}
	cancelLoad()

	nodeAuth := auth.NewNodeAuthenticator(clusterStore, cfg.BootstrapKey)
	podTokens := auth.NewPodTokenIssuer()
	credentials := auth.NewCredentials(nodeAuth, podTokens)
	var jwtManager *auth.JWTManager
	if cfg.JWTSecret != "" {
		jwtManager = auth.NewJWTManager(auth.JWTConfig{
			SecretKey:     cfg.JWTSecret,
			Issuer:        "orchestrator",
			TokenDuration: 24 * time.Hour,
		})
	} else {
		log.Warn().Msg("JWT_SECRET_KEY not set; admin node operations are unauthenticated")
	}

	hub := session.NewHub()
	go hub.Run()
	defer hub.Stop()

	sessionHandler := session.NewHandler(hub, clusterStore, clusterStore, credentials, nil)

	routePolicy := routing.AllowAllPolicy{}
	arbiter := routing.New(clusterStore, routePolicy, redisCache)
	sessionHandler.Routes = arbiter

	leaseEngine := lease.New(clusterStore, lease.Config{
		CheckInterval:    cfg.LeaseCheckInterval,
		HeartbeatTimeout: cfg.HeartbeatTimeout,
		LeaseTimeout:     cfg.LeaseTimeout,
	})
	go leaseEngine.Start()
	defer leaseEngine.Stop()

	schedulerEngine := scheduler.New(clusterStore, sessionHandler, podTokens, scheduler.Config{
		PollInterval: cfg.SchedulerPoll,
		Workers:      cfg.SchedulerWorkers,
	})
	go schedulerEngine.Start()
	defer schedulerEngine.Stop()

	workloadEngine := workload.New(clusterStore, sessionHandler, workload.Config{
		ReconcileInterval: cfg.ReconcileInterval,
	})
	go workloadEngine.Start()
	defer workloadEngine.Stop()

	adminServer := adminhttp.NewServer(database.DB(), clusterStore, sessionHandler, sessionHandler, jwtManager)

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(gin.Recovery())
	adminServer.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.AdminAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.AdminAddr).Msg("admin http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("admin http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("admin http server forced to shutdown")
	}

	log.Info().Msg("graceful shutdown complete")
}
