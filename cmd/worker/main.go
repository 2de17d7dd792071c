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
	"github.com/dontdude/feedrelay/internal/dispatcher"
	"github.com/dontdude/feedrelay/internal/domain"
	"github.com/dontdude/feedrelay/internal/platform/events"
	"github.com/dontdude/feedrelay/internal/platform/queue"
	"github.com/dontdude/feedrelay/internal/platform/telegram"
	"github.com/dontdude/feedrelay/internal/platform/web"
	"github.com/dontdude/feedrelay/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	// 1. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	slog.Info("Starting feedrelay worker...", "backend", cfg.QueueBackend)

	if cfg.TelegramToken == "" {
		slog.Error("TELEGRAM_TOKEN is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Observability sinks
	sinks := events.Multi{events.NewLogSink(logger), events.NewMetricsSink(prometheus.DefaultRegisterer)}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	// 3. Queue
	var q domain.JobQueue
	switch cfg.QueueBackend {
	case config.BackendMemory:
		mem := queue.NewMemoryQueue(queue.DefaultPollWindow)
		// Nothing else can reach an in-process queue, so accept submissions here.
		limiter := web.NewRateLimiter(cfg.SubmitRate, cfg.SubmitBurst)
		if err := limiter.TrustProxies(cfg.TrustedProxies); err != nil {
			slog.Error("Invalid TRUSTED_PROXIES", "error", err)
			os.Exit(1)
		}
		mux.HandleFunc("POST /api/send", limiter.Middleware(web.HandleSubmit(mem)))
		q = mem
	default:
		rdb := queue.NewRedisClient(cfg.RedisAddr)
		defer rdb.Close()
		rq, err := queue.NewRedisQueue(ctx, rdb, cfg.QueueStream, cfg.QueueGroup)
		if err != nil {
			slog.Error("Failed to initialise queue", "error", err)
			os.Exit(1)
		}
		sinks = append(sinks, events.NewRedisSink(rdb, cfg.EventsChannel))
		q = rq
	}

	// 4. Sender and dispatcher
	sender := telegram.NewClient(cfg.TelegramToken,
		telegram.WithAPIURL(cfg.TelegramAPIURL),
		telegram.WithRate(cfg.TelegramRate),
	)
	d := dispatcher.New(q, sender, sinks,
		dispatcher.WithMaxAttempts(cfg.MaxAttempts),
		dispatcher.WithCooldown(cfg.PauseCooldown),
		dispatcher.WithMaxCooldown(cfg.MaxCooldown),
		dispatcher.WithLogger(logger),
	)

	pool := worker.NewPool(d, q, cfg.StallInterval, cfg.StallMaxAge)
	pool.Start(ctx)

	// 5. Metrics endpoint
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		slog.Info("Metrics server starting", "addr", cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "error", err)
		}
	}()

	<-ctx.Done()
	pool.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}
