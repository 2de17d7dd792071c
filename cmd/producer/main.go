package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/dontdude/feedrelay/internal/config"
	"github.com/dontdude/feedrelay/internal/domain"
	"github.com/dontdude/feedrelay/internal/platform/queue"
)

func main() {
	chatID := flag.Int64("chat", 0, "destination chat id")
	title := flag.String("title", "", "optional title sent above each link")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s -chat ID LINK [LINK...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	// 1. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if *chatID == 0 || flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize Redis Queue (Producer Mode)
	ctx := context.Background()
	rdb := queue.NewRedisClient(cfg.RedisAddr)
	defer rdb.Close()
	redisQ, err := queue.NewRedisQueue(ctx, rdb, cfg.QueueStream, cfg.QueueGroup)
	if err != nil {
		slog.Error("Failed to initialise queue", "error", err)
		os.Exit(1)
	}

	// 3. Publish Jobs
	for _, link := range flag.Args() {
		job := domain.NewJob(*chatID, domain.FeedItem{Link: link, Title: *title})

		slog.Info("Publishing job", "jobID", job.ID, "link", link)
		if err := redisQ.Publish(ctx, job); err != nil {
			slog.Error("Failed to publish job", "error", err)
			os.Exit(1)
		}
	}

	slog.Info("Successfully published jobs", "count", flag.NArg())
}
