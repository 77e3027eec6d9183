package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"tokenfolio/config"
	"tokenfolio/internal/api"
	"tokenfolio/internal/auth"
	"tokenfolio/internal/circuit"
	"tokenfolio/internal/closure"
	"tokenfolio/internal/database"
	"tokenfolio/internal/decision"
	"tokenfolio/internal/edge"
	"tokenfolio/internal/engine"
	"tokenfolio/internal/events"
	"tokenfolio/internal/executor"
	"tokenfolio/internal/learning"
	"tokenfolio/internal/logging"
	"tokenfolio/internal/position"
	"tokenfolio/internal/signals"
	"tokenfolio/internal/vault"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fallback := logging.New(logging.DefaultConfig())
		fallback.Fatal().Err(err).Msg("Invalid configuration")
	}

	logger := logging.New(cfg.LoggingConfig)
	logger.Info().Str("executor_mode", cfg.ExecutorConfig.Mode).Msg("Starting tokenfolio")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Persistence.
	db, err := database.NewDB(database.Config{
		URL:             cfg.DatabaseConfig.URL,
		MaxConns:        int32(cfg.DatabaseConfig.MaxConns),
		MinConns:        int32(cfg.DatabaseConfig.MinConns),
		ConnTimeoutSecs: cfg.DatabaseConfig.ConnTimeoutSecs,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Database connection failed")
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Database migrations failed")
	}

	var redisClient *redis.Client
	if cfg.RedisConfig.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Address,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
			PoolSize: cfg.RedisConfig.PoolSize,
		})
		defer redisClient.Close()
	}

	positionRepo := database.NewPositionRepository(db)
	coeffStore := database.NewCoefficientCache(database.NewCoefficientRepository(db), redisClient, logger)
	statRepo := database.NewPatternStatRepository(db)
	barRepo := database.NewPriceBarRepository(db)
	userRepo := database.NewUserRepository(db)

	// Learning loop.
	bus := events.NewBus()
	learner := learning.NewEngine(coeffStore, logger)
	edges := edge.NewAggregator(statRepo, logger)
	if err := edges.Load(); err != nil {
		logger.Warn().Err(err).Msg("Failed to load pattern stats, starting cold")
	}
	exposure := edge.NewExposureTracker()
	if cfg.LearningConfig.Enabled {
		bus.SubscribeClosure(learner.HandleClosure)
		bus.SubscribeClosure(edges.HandleClosure)
	}

	// Position book.
	book := position.NewBook(positionRepo, logger)
	if err := book.LoadAll(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to load positions")
	}

	// Execution pipeline.
	vaultClient, err := vault.NewClient(vault.Config{
		Enabled:    cfg.VaultConfig.Enabled,
		Address:    cfg.VaultConfig.Address,
		Token:      cfg.VaultConfig.Token,
		MountPath:  cfg.VaultConfig.MountPath,
		SecretPath: cfg.VaultConfig.SecretPath,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Vault client failed")
	}

	var exec executor.Executor
	if cfg.ExecutorConfig.Mode == "live" {
		exec = executor.NewRemoteExecutor(cfg.ExecutorConfig.BaseURL, vaultClient)
	} else {
		exec = executor.NewPaperExecutor(cfg.ExecutorConfig.PaperSeed, cfg.ExecutorConfig.MaxSlippage)
	}

	breaker := circuit.NewBreaker(cfg.CircuitBreakerConfig)
	breaker.OnTrip(func(chain, reason string) {
		logger.Error().Str("chain", chain).Str("reason", reason).Msg("Executor circuit breaker tripped")
	})

	detector := closure.NewDetector(barRepo, bus, logger)
	coordinator := executor.NewCoordinator(exec, book, detector, breaker,
		time.Duration(cfg.ExecutorConfig.TimeoutSecs)*time.Second, logger)

	// Signal feed.
	feed := signals.NewFeed(cfg.SignalsConfig.FeedURL, logger)
	if cfg.SignalsConfig.FeedURL != "" {
		go feed.Run(ctx)
	}

	// Engine.
	planner := decision.NewPlanner(logger, 0)
	eng := engine.New(engine.Config{
		WorkerCount:       cfg.EngineConfig.WorkerCount,
		HistoryThreshold:  cfg.EngineConfig.HistoryThreshold,
		TickInterval:      time.Duration(cfg.EngineConfig.TickIntervalSecs) * time.Second,
		RecomputeInterval: time.Duration(cfg.LearningConfig.RecomputeIntervalMin) * time.Minute,
	}, book, feed, planner, coordinator, learner, edges, exposure, logger)

	engineDone := make(chan struct{})
	if cfg.EngineConfig.Enabled {
		go func() {
			eng.Run(ctx)
			close(engineDone)
		}()
	} else {
		close(engineDone)
	}

	// Control API.
	var authService *auth.Service
	if cfg.AuthConfig.Enabled {
		authService = auth.NewService(userRepo, cfg.AuthConfig.JWTSecret,
			cfg.AuthConfig.AccessTokenDuration, cfg.AuthConfig.MinPasswordLength)
		if err := authService.SeedAdmin(ctx, cfg.AuthConfig.AdminEmail, cfg.AuthConfig.AdminPassword); err != nil {
			logger.Fatal().Err(err).Msg("Failed to seed admin account")
		}
	}

	server := api.NewServer(api.Config{
		Port:             cfg.ServerConfig.Port,
		Host:             cfg.ServerConfig.Host,
		AllowedOrigins:   cfg.ServerConfig.AllowedOrigins,
		ReadTimeout:      time.Duration(cfg.ServerConfig.ReadTimeout) * time.Second,
		WriteTimeout:     time.Duration(cfg.ServerConfig.WriteTimeout) * time.Second,
		ShutdownTimeout:  time.Duration(cfg.ServerConfig.ShutdownTimeout) * time.Second,
		HistoryThreshold: cfg.EngineConfig.HistoryThreshold,
		ProductionMode:   cfg.LoggingConfig.Format == "json",
	}, book, coeffStore, edges, breaker, feed, authService, logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("API server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("API server shutdown failed")
	}
	<-engineDone

	logger.Info().Msg("Stopped cleanly")
}
