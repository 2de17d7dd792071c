package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dontdude/feedrelay/internal/config"
	"github.com/dontdude/feedrelay/internal/platform/events"
	"github.com/dontdude/feedrelay/internal/platform/queue"
	"github.com/dontdude/feedrelay/internal/platform/web"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	// 1. Initialize logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if cfg.QueueBackend != config.BackendRedis {
		slog.Error("The API server needs the redis backend; use the worker's built-in endpoint for memory")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Initialize Redis Queue (as a dependency)
	rdb := queue.NewRedisClient(cfg.RedisAddr)
	defer rdb.Close()
	redisQ, err := queue.NewRedisQueue(ctx, rdb, cfg.QueueStream, cfg.QueueGroup)
	if err != nil {
		slog.Error("Failed to initialise queue", "error", err)
		os.Exit(1)
	}

	// 3. Start event broadcaster (background goroutine)
	evs, err := events.NewRedisSink(rdb, cfg.EventsChannel).Subscribe(ctx)
	if err != nil {
		slog.Error("Failed to subscribe to events", "error", err)
		os.Exit(1)
	}
	hub := web.NewHub()
	go hub.Forward(evs)

	// 4. Router with per-IP submit rate limit
	limiter := web.NewRateLimiter(cfg.SubmitRate, cfg.SubmitBurst)
	if err := limiter.TrustProxies(cfg.TrustedProxies); err != nil {
		slog.Error("Invalid TRUSTED_PROXIES", "error", err)
		os.Exit(1)
	}
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: web.NewRouter(redisQ, hub, limiter)}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("API Server starting", "addr", cfg.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}
