package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mindcraft/mindcraft-backend/internal/config"
	"github.com/mindcraft/mindcraft-backend/internal/database"
	"github.com/mindcraft/mindcraft-backend/internal/executor"
	"github.com/mindcraft/mindcraft-backend/internal/handler"
	"github.com/mindcraft/mindcraft-backend/internal/logger"
	"github.com/mindcraft/mindcraft-backend/internal/middleware"
	"github.com/mindcraft/mindcraft-backend/internal/observability"
	"github.com/mindcraft/mindcraft-backend/internal/repository"
	"github.com/mindcraft/mindcraft-backend/internal/router"
	"github.com/mindcraft/mindcraft-backend/internal/service"
	"github.com/mindcraft/mindcraft-backend/internal/validator"
	"github.com/rs/zerolog"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Str("executor", cfg.ExecutorBackend).
		Msg("Starting MindCraft Backend")

	validator.Setup()
	observability.RegisterMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Code Executor ─────────────────────────────────────────────────
	var exec executor.Executor
	switch cfg.ExecutorBackend {
	case config.ExecutorDocker:
		docker, err := executor.NewDockerExecutor(executor.DockerConfig{
			Host:          cfg.DockerHost,
			Timeout:       cfg.ExecutorTimeout,
			MemoryLimitMB: cfg.CodeRunMemoryMB,
			CPUShares:     cfg.CodeRunCPUShares,
			Logger:        log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Docker executor")
		}
		defer docker.Close()
		exec = docker
	default:
		exec = executor.NewRemoteExecutor(cfg.ExecutorURL, cfg.ExecutorTimeout, log)
	}
	runner := executor.NewRunner(exec, log)

	// ─── Initialize Repositories ───────────────────────────────────────
	examRepo := repository.NewExamRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool)
	grantRepo := repository.NewGrantRepository(pool)
	helpRepo := repository.NewHelpRequestRepository(pool)
	stateRepo := repository.NewSessionStateRepository(rdb)
	monitorRepo := repository.NewMonitorRepository(pool, rdb)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg)
	attemptService := service.NewAttemptService(examRepo, questionRepo, attemptRepo, grantRepo, helpRepo, log)
	monitorService := service.NewMonitorService(monitorRepo)
	registry := service.NewSessionRegistry(attemptService, stateRepo, monitorRepo, runner, service.RegistryConfig{
		ViolationLimit:   cfg.ViolationLimit,
		ForceSubmitDelay: cfg.ForceSubmitDelay,
		StateGrace:       cfg.DraftTTLGraceTime,
	}, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		StudentPortal: handler.NewStudentPortalHandler(attemptService, registry, log),
		CodeRun:       handler.NewCodeRunHandler(runner, log),
		WS:            handler.NewWSHandler(registry, log, cfg.AllowedOrigins),
		Admin:         handler.NewAdminHandler(attemptService, log),
		Monitor:       handler.NewMonitorHandler(monitorRepo, attemptService, monitorService, log),
		System:        handler.NewSystemHandler(pool, rdb, registry, log),
	}

	codeRunLimiter := middleware.NewRateLimiter(cfg.CodeRunRateLimit, time.Minute)
	defer codeRunLimiter.Stop()

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, codeRunLimiter, cfg)

	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop live countdowns. Drafts stay in Redis so students can resume
	// on the next instance.
	registry.Shutdown()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
