package domain

import (
	"context"
	"time"
)

// JobQueue defines the contract for the delivery job queue.
// It decouples the dispatcher from the underlying broker (Redis Streams, in-memory, etc.).
type JobQueue interface {
	// Publish enqueues a job for processing. It is always accepted, even while dispatch is paused.
	Publish(ctx context.Context, job Job) error

	// Dequeue blocks until the next pending job is available or the backend's poll window elapses.
	// A nil job with a nil error means nothing was pending.
	Dequeue(ctx context.Context) (*Job, error)

	// Complete confirms that a job was delivered and removes it from the pending set.
	Complete(ctx context.Context, job Job) error

	// Fail records a terminal failure. The job is removed from the pending set
	// and kept for inspection (dead-letter).
	Fail(ctx context.Context, job Job, cause error) error

	// Requeue appends the job at the tail of the queue as pending.
	Requeue(ctx context.Context, job Job) error

	// Touch resets the liveness clock of an active job the caller still owns,
	// so the stall pass does not reclaim it while it is deliberately held.
	Touch(ctx context.Context, job Job) error

	// ReclaimStalled finds jobs that have been active for longer than maxAge,
	// puts them back as pending with their attempt count incremented and returns them.
	ReclaimStalled(ctx context.Context, maxAge time.Duration) ([]Job, error)
}
