// Package dispatcher delivers queued feed items through a Sender and pauses
// the whole queue when the Sender reports a rate limit.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dontdude/feedrelay/internal/domain"
)

// ErrPaused is returned by DispatchNext while the queue is paused.
var ErrPaused = errors.New("dispatcher: queue is paused")

// State is the queue-wide dispatch state.
type State string

const (
	StateRunning State = "running"
	StatePaused  State = "paused"
)

// Result classifies what a single DispatchNext call did.
type Result int

const (
	// ResultIdle means no job was pending within the queue's poll window.
	ResultIdle Result = iota
	ResultCompleted
	ResultRateLimited
	ResultRetrying
	ResultFailed
)

func (r Result) String() string {
	switch r {
	case ResultIdle:
		return "idle"
	case ResultCompleted:
		return "completed"
	case ResultRateLimited:
		return "rate_limited"
	case ResultRetrying:
		return "retrying"
	case ResultFailed:
		return "failed"
	}
	return fmt.Sprintf("result(%d)", int(r))
}

// Outcome is the explicit result of one dispatch attempt.
type Outcome struct {
	Job    domain.Job
	Result Result
	// Err is the send error for every result except Completed and Idle.
	Err error
	// Cooldown is set when Result is ResultRateLimited.
	Cooldown time.Duration
}

// Dispatcher pulls jobs from a JobQueue one at a time and delivers them.
// All state transitions are made by the goroutine calling DispatchNext/Resume
// (normally Run); mu only guards readers such as State.
type Dispatcher struct {
	queue  domain.JobQueue
	sender domain.Sender
	sink   domain.EventSink
	log    *slog.Logger
	after  func(time.Duration) <-chan time.Time

	maxAttempts int
	cooldown    time.Duration
	maxCooldown time.Duration

	mu       sync.Mutex
	state    State
	held     *domain.Job // rate-limited job, dispatched first after resume
	active   *domain.Job
	pauseFor time.Duration
}

// New builds a Dispatcher in the running state. sink may be nil.
func New(q domain.JobQueue, s domain.Sender, sink domain.EventSink, opts ...Option) *Dispatcher {
	if sink == nil {
		sink = nopSink{}
	}
	d := &Dispatcher{
		queue:       q,
		sender:      s,
		sink:        sink,
		log:         slog.Default(),
		after:       time.After,
		maxAttempts: DefaultMaxAttempts,
		cooldown:    DefaultCooldown,
		maxCooldown: DefaultMaxCooldown,
		state:       StateRunning,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// State returns the current queue state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Active returns a copy of the in-flight job, if any.
func (d *Dispatcher) Active() (domain.Job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active == nil {
		return domain.Job{}, false
	}
	return *d.active, true
}

// Run drives DispatchNext until ctx is cancelled. While paused it waits out
// the cooldown and calls Resume. A single job's failure never stops the loop.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("Dispatcher started", "maxAttempts", d.maxAttempts, "cooldown", d.cooldown)

	for {
		if err := ctx.Err(); err != nil {
			d.shutdown()
			return err
		}

		if wait, paused := d.pausedFor(); paused {
			select {
			case <-ctx.Done():
				d.shutdown()
				return ctx.Err()
			case <-d.after(wait):
			}
			d.Resume(ctx)
			continue
		}

		if _, err := d.DispatchNext(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			d.log.Error("Dispatch failed", "error", err)
			select {
			case <-ctx.Done():
			case <-d.after(errorBackoff):
			}
		}
	}
}

// DispatchNext delivers the next job and applies the pause/retry policy.
// The job held back by a rate limit always goes before anything still in the queue.
func (d *Dispatcher) DispatchNext(ctx context.Context) (Outcome, error) {
	d.mu.Lock()
	if d.state == StatePaused {
		d.mu.Unlock()
		return Outcome{}, ErrPaused
	}
	job := d.held
	d.held = nil
	d.mu.Unlock()

	if job == nil {
		next, err := d.queue.Dequeue(ctx)
		if err != nil {
			return Outcome{}, fmt.Errorf("dequeue: %w", err)
		}
		if next == nil {
			return Outcome{Result: ResultIdle}, nil
		}
		job = next
	}

	job.Status = domain.StatusActive
	d.setActive(job)
	defer d.setActive(nil)

	d.log.Debug("Dispatching job", "jobID", job.ID, "attempts", job.Attempts, "link", job.Item.Link)
	d.sink.Emit(ctx, domain.JobEvent(domain.EventDispatch, *job))

	sendErr := d.sender.Send(ctx, job.ChatID, job.Item)
	if sendErr != nil && ctx.Err() != nil {
		// Shutting down: leave the job unacknowledged so the stall pass reclaims it.
		return Outcome{Job: *job, Err: sendErr}, ctx.Err()
	}

	switch rl, limited := domain.AsRateLimit(sendErr); {
	case sendErr == nil:
		return d.complete(ctx, *job)
	case limited:
		return d.pause(ctx, *job, rl), nil
	case domain.IsPermanent(sendErr):
		return d.fail(ctx, *job, sendErr)
	default:
		return d.retry(ctx, *job, sendErr)
	}
}

// Resume moves a paused queue back to running. The held job, if any, is
// dispatched by the next DispatchNext.
func (d *Dispatcher) Resume(ctx context.Context) {
	d.mu.Lock()
	if d.state != StatePaused {
		d.mu.Unlock()
		return
	}
	d.state = StateRunning
	d.pauseFor = 0
	held := d.held
	d.mu.Unlock()

	ev := domain.Event{Type: domain.EventResumed, At: time.Now()}
	if held != nil {
		ev = domain.JobEvent(domain.EventResumed, *held)
		d.touch(ctx, *held)
	}

	d.log.Info("Resumed queue", "nextJobID", ev.JobID)
	d.sink.Emit(ctx, ev)
}

// OnStalled records a job the queue found active past its liveness deadline.
// Reclaiming it is the queue's job; this only reports it.
func (d *Dispatcher) OnStalled(ctx context.Context, job domain.Job) {
	d.log.Warn("Job stalled", "jobID", job.ID, "attempts", job.Attempts, "link", job.Item.Link)
	d.sink.Emit(ctx, domain.JobEvent(domain.EventStalled, job))
}

func (d *Dispatcher) complete(ctx context.Context, job domain.Job) (Outcome, error) {
	job.Status = domain.StatusCompleted
	out := Outcome{Job: job, Result: ResultCompleted}
	d.sink.Emit(ctx, domain.JobEvent(domain.EventCompleted, job))
	if err := d.queue.Complete(ctx, job); err != nil {
		// The message went out but the entry is still active: the stall pass will send it again.
		d.log.Warn("Delivered job not acknowledged, it may be sent twice", "jobID", job.ID, "error", err)
		return out, fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	return out, nil
}

func (d *Dispatcher) pause(ctx context.Context, job domain.Job, rl *domain.RateLimitError) Outcome {
	cooldown := d.cooldownFor(rl)
	job.Status = domain.StatusRetrying

	d.mu.Lock()
	d.state = StatePaused
	d.pauseFor = cooldown
	held := job
	d.held = &held
	d.mu.Unlock()

	d.touch(ctx, job)

	d.log.Info("Pausing queue", "jobID", job.ID, "cooldown", cooldown, "error", rl.Description)
	ev := domain.JobEvent(domain.EventPaused, job)
	ev.Cooldown = cooldown
	ev.Error = rl.Error()
	d.sink.Emit(ctx, ev)

	return Outcome{Job: job, Result: ResultRateLimited, Err: rl, Cooldown: cooldown}
}

func (d *Dispatcher) retry(ctx context.Context, job domain.Job, sendErr error) (Outcome, error) {
	job.Attempts++
	if job.Attempts >= d.maxAttempts {
		return d.fail(ctx, job, fmt.Errorf("%w after %d attempts: %w", domain.ErrRetriesExhausted, job.Attempts, sendErr))
	}

	job.Status = domain.StatusRetrying
	out := Outcome{Job: job, Result: ResultRetrying, Err: sendErr}
	if err := d.queue.Requeue(ctx, job); err != nil {
		return out, fmt.Errorf("requeue job %s: %w", job.ID, err)
	}

	ev := domain.JobEvent(domain.EventRetry, job)
	ev.Error = sendErr.Error()
	d.sink.Emit(ctx, ev)
	return out, nil
}

func (d *Dispatcher) fail(ctx context.Context, job domain.Job, cause error) (Outcome, error) {
	job.Status = domain.StatusFailed
	out := Outcome{Job: job, Result: ResultFailed, Err: cause}

	ev := domain.JobEvent(domain.EventFailed, job)
	ev.Error = cause.Error()
	d.sink.Emit(ctx, ev)

	if err := d.queue.Fail(ctx, job, cause); err != nil {
		return out, fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	return out, nil
}

// cooldownFor honours the sender's retry-after hint, capped, and falls back
// to the fixed cooldown when there is none.
func (d *Dispatcher) cooldownFor(rl *domain.RateLimitError) time.Duration {
	if rl == nil || rl.RetryAfter <= 0 {
		return d.cooldown
	}
	return min(rl.RetryAfter, d.maxCooldown)
}

// touch keeps a held job out of the stall pass. Each pause is bounded by
// maxCooldown, so refreshing on every hold and resume bounds the idle time
// the queue can observe regardless of how many pauses follow each other.
func (d *Dispatcher) touch(ctx context.Context, job domain.Job) {
	if err := d.queue.Touch(ctx, job); err != nil {
		d.log.Warn("Failed to refresh held job, it may be reclaimed and sent twice", "jobID", job.ID, "error", err)
	}
}

func (d *Dispatcher) pausedFor() (time.Duration, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pauseFor, d.state == StatePaused
}

func (d *Dispatcher) setActive(job *domain.Job) {
	d.mu.Lock()
	d.active = job
	d.mu.Unlock()
}

func (d *Dispatcher) shutdown() {
	d.mu.Lock()
	held := d.held
	d.mu.Unlock()
	if held != nil {
		d.log.Warn("Stopping with held job, stall recovery will reclaim it", "jobID", held.ID)
	}
	d.log.Info("Dispatcher stopped")
}

type nopSink struct{}

func (nopSink) Emit(context.Context, domain.Event) {}
