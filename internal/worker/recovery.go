package worker

import (
	"context"
	"log/slog"
	"time"
)

// runRecovery polls the queue for stalled jobs until ctx is cancelled.
func (p *Pool) runRecovery(ctx context.Context) {
	interval := p.stallInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("Starting stall recovery routine", "interval", interval, "maxAge", p.stallMaxAge)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.RecoverOnce(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Recovery routine failed", "error", err)
			}
		}
	}
}

// RecoverOnce runs one stall pass: the queue requeues every job active for
// longer than stallMaxAge and each one is reported to the dispatcher.
func (p *Pool) RecoverOnce(ctx context.Context) (int, error) {
	jobs, err := p.queue.ReclaimStalled(ctx, p.stallMaxAge)
	for _, job := range jobs {
		p.dispatcher.OnStalled(ctx, job)
	}
	if len(jobs) > 0 {
		slog.Info("Recovered stale jobs", "count", len(jobs))
	}
	return len(jobs), err
}
