package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/dontdude/feedrelay/internal/domain"
	"github.com/redis/go-redis/v9"
)

// recoveryConsumer is the consumer name the stall pass claims entries under.
const recoveryConsumer = "recovery-agent"

// ReclaimStalled claims PEL entries idle for longer than maxAge with XAUTOCLAIM
// and re-adds each one at the tail with its attempt count incremented.
func (r *RedisQueue) ReclaimStalled(ctx context.Context, maxAge time.Duration) ([]domain.Job, error) {
	var reclaimed []domain.Job
	start := "-" // Start from beginning of the PEL

	for {
		// We claim batches of 10
		messages, nextStart, err := r.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   r.stream,
			Group:    r.group,
			MinIdle:  maxAge,
			Start:    start,
			Count:    10,
			Consumer: recoveryConsumer,
		}).Result()
		if err != nil {
			return reclaimed, err
		}

		for _, msg := range messages {
			job, err := decodeJob(msg)
			if err != nil {
				slog.Error("Dead-lettering undecodable stale entry", "msgID", msg.ID, "error", err)
				if dlErr := r.deadLetterRaw(ctx, msg, err); dlErr != nil {
					slog.Error("Failed to dead-letter stale entry", "msgID", msg.ID, "error", dlErr)
				}
				continue
			}
			job.Attempts++
			if err := r.requeue(ctx, job, msg.ID); err != nil {
				// Still claimed by the recovery consumer, so the next pass retries it.
				slog.Error("Failed to requeue stale job", "jobID", job.ID, "error", err)
				continue
			}
			job.Status = domain.StatusPending
			reclaimed = append(reclaimed, job)
		}

		start = nextStart
		if len(messages) == 0 || start == "0-0" {
			break
		}
	}
	return reclaimed, nil
}
