package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dontdude/feedrelay/internal/domain"
)

// Dispatcher is the part of dispatcher.Dispatcher the pool drives.
type Dispatcher interface {
	Run(ctx context.Context) error
	OnStalled(ctx context.Context, job domain.Job)
}

// Pool runs the single dispatch loop alongside the stall recovery routine.
type Pool struct {
	dispatcher Dispatcher
	queue      domain.JobQueue

	// stallInterval is how often the recovery routine runs.
	stallInterval time.Duration
	// stallMaxAge is the age at which an active job is considered stalled.
	stallMaxAge time.Duration

	// wg tracks both goroutines to ensure graceful shutdown.
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewPool wires a dispatcher to the queue it consumes.
func NewPool(d Dispatcher, q domain.JobQueue, stallInterval, stallMaxAge time.Duration) *Pool {
	return &Pool{
		dispatcher:    d,
		queue:         q,
		stallInterval: stallInterval,
		stallMaxAge:   stallMaxAge,
	}
}

// Start spawns the dispatch loop and the recovery routine.
// It returns immediately.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	slog.Info("Starting worker pool", "stallInterval", p.stallInterval, "stallMaxAge", p.stallMaxAge)

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		if err := p.dispatcher.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("Dispatch loop exited", "error", err)
		}
	}()
	go func() {
		defer p.wg.Done()
		p.runRecovery(ctx)
	}()
}

// Stop cancels both goroutines and blocks until they have exited.
// An in-flight send is abandoned and left for stall recovery.
func (p *Pool) Stop() {
	slog.Info("Stopping worker pool...")
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	slog.Info("Worker pool stopped")
}
