package queue

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dontdude/feedrelay/internal/domain"
)

// DefaultPollWindow is how long Dequeue waits for a job before returning empty-handed.
const DefaultPollWindow = 2 * time.Second

// DeadJob is a terminally failed job kept for inspection.
type DeadJob struct {
	Job   domain.Job
	Cause string
}

type activeJob struct {
	job   domain.Job
	since time.Time
}

// MemoryQueue is an in-process FIFO implementation of domain.JobQueue.
// Jobs do not survive a restart.
type MemoryQueue struct {
	mu      sync.Mutex
	pending []domain.Job
	active  map[string]activeJob
	dead    []DeadJob
	seq     int

	// ready is signalled (non-blocking) whenever a job is appended.
	ready      chan struct{}
	pollWindow time.Duration
	now        func() time.Time
}

// Ensure MemoryQueue satisfies the interface
var _ domain.JobQueue = (*MemoryQueue)(nil)

// NewMemoryQueue returns an empty queue. A zero pollWindow uses DefaultPollWindow.
func NewMemoryQueue(pollWindow time.Duration) *MemoryQueue {
	if pollWindow <= 0 {
		pollWindow = DefaultPollWindow
	}
	return &MemoryQueue{
		active:     make(map[string]activeJob),
		ready:      make(chan struct{}, 1),
		pollWindow: pollWindow,
		now:        time.Now,
	}
}

// Publish appends a job at the tail.
func (q *MemoryQueue) Publish(ctx context.Context, job domain.Job) error {
	if job.ID == "" {
		return fmt.Errorf("publish: job has no id")
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = q.now()
	}
	q.mu.Lock()
	q.append(job)
	q.mu.Unlock()
	return nil
}

// Dequeue pops the head of the queue and marks it active.
func (q *MemoryQueue) Dequeue(ctx context.Context) (*domain.Job, error) {
	timer := time.NewTimer(q.pollWindow)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			job := q.pending[0]
			q.pending = q.pending[1:]
			job.Status = domain.StatusActive
			q.active[job.RawID] = activeJob{job: job, since: q.now()}
			q.mu.Unlock()
			return &job, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-q.ready:
		}
	}
}

// Complete drops the job from the active set.
func (q *MemoryQueue) Complete(ctx context.Context, job domain.Job) error {
	q.mu.Lock()
	delete(q.active, job.RawID)
	q.mu.Unlock()
	return nil
}

// Fail moves the job to the dead-letter list.
func (q *MemoryQueue) Fail(ctx context.Context, job domain.Job, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	q.mu.Lock()
	delete(q.active, job.RawID)
	job.Status = domain.StatusFailed
	q.dead = append(q.dead, DeadJob{Job: job, Cause: msg})
	q.mu.Unlock()
	return nil
}

// Requeue appends the job at the tail as pending.
func (q *MemoryQueue) Requeue(ctx context.Context, job domain.Job) error {
	q.mu.Lock()
	delete(q.active, job.RawID)
	q.append(job)
	q.mu.Unlock()
	return nil
}

// Touch restarts the stall clock of an active job. Unknown jobs are ignored.
func (q *MemoryQueue) Touch(ctx context.Context, job domain.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if a, ok := q.active[job.RawID]; ok {
		a.since = q.now()
		q.active[job.RawID] = a
	}
	return nil
}

// ReclaimStalled requeues jobs that have been active for longer than maxAge.
func (q *MemoryQueue) ReclaimStalled(ctx context.Context, maxAge time.Duration) ([]domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().Add(-maxAge)
	var stale []activeJob
	for rawID, a := range q.active {
		if a.since.After(cutoff) {
			continue
		}
		delete(q.active, rawID)
		stale = append(stale, a)
	}
	slices.SortFunc(stale, func(a, b activeJob) int { return a.since.Compare(b.since) })

	reclaimed := make([]domain.Job, 0, len(stale))
	for _, a := range stale {
		job := a.job
		job.Attempts++
		job.Status = domain.StatusPending
		q.append(job)
		reclaimed = append(reclaimed, job)
	}
	return reclaimed, nil
}

// Len returns the number of pending jobs.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Pending returns a snapshot of the pending jobs in dispatch order.
func (q *MemoryQueue) Pending() []domain.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.Job(nil), q.pending...)
}

// Dead returns a snapshot of terminally failed jobs.
func (q *MemoryQueue) Dead() []DeadJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadJob(nil), q.dead...)
}

// append must be called with mu held. Every append gets a fresh RawID, like
// a new stream entry.
func (q *MemoryQueue) append(job domain.Job) {
	q.seq++
	job.RawID = fmt.Sprintf("mem-%d", q.seq)
	job.Status = domain.StatusPending
	q.pending = append(q.pending, job)

	select {
	case q.ready <- struct{}{}:
	default:
	}
}
