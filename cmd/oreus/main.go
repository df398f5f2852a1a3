package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/timomeintjes-cmd/oreus-api/internal/app/migrate"
	httpx "github.com/timomeintjes-cmd/oreus-api/internal/http"
	"github.com/timomeintjes-cmd/oreus-api/internal/repository/postgres"
	"github.com/timomeintjes-cmd/oreus-api/internal/secrets"
	"github.com/timomeintjes-cmd/oreus-api/internal/service/ai"
	"github.com/timomeintjes-cmd/oreus-api/internal/service/deploy"
	"github.com/timomeintjes-cmd/oreus-api/internal/service/devserver"
	"github.com/timomeintjes-cmd/oreus-api/internal/service/project"
	"github.com/timomeintjes-cmd/oreus-api/internal/template"
	"github.com/timomeintjes-cmd/oreus-api/internal/workspace"
	"github.com/timomeintjes-cmd/oreus-api/internal/ws"
	"github.com/timomeintjes-cmd/oreus-api/pkg/config"
	"github.com/timomeintjes-cmd/oreus-api/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.New("oreus", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)

	store, err := workspace.New(cfg.WorkspaceRoot)
	if err != nil {
		log.Error("failed to prepare workspace root", "error", err, "root", cfg.WorkspaceRoot)
		os.Exit(1)
	}

	templates := template.NewRegistry()
	hub := ws.NewHub()

	servers := devserver.New(templates, hub, log, devserver.Config{
		PortBase:     cfg.DevServerPortBase,
		PortCount:    cfg.DevServerPortCount,
		LogLines:     cfg.DevServerLogLines,
		ReadyTimeout: cfg.DevServerReady,
		StopTimeout:  cfg.DevServerStop,
	})

	projectSvc := project.New(repo, store, templates, servers, log, cfg)

	var backend deploy.Backend
	if url := strings.TrimSpace(cfg.DeployBackendURL); url != "" {
		backend = deploy.NewHTTPBackend(url, cfg.DeployBackendToken, cfg.DeployRequestTimeout, cfg.DeployDispatchRetry, log)
	}
	deploySvc := deploy.New(repo, repo, store, backend, hub, log)

	aiSvc := ai.New(secrets.NewEnvResolver(), log)

	var limiter httpx.RateLimiter
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable, falling back to memory", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(httpx.Deps{
		Logger:         log,
		Project:        projectSvc,
		Deploy:         deploySvc,
		AI:             aiSvc,
		Hub:            hub,
		Limiter:        limiter,
		DBHealth:       pool.Ping,
		DevServerCount: func() int { return len(servers.Summaries()) },
		Config:         cfg,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("oreus api starting", "addr", cfg.Addr, "env", cfg.Environment)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		servers.StopAll(shutdownCtx)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("oreus api stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
