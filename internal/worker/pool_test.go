package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dontdude/feedrelay/internal/dispatcher"
	"github.com/dontdude/feedrelay/internal/domain"
	"github.com/dontdude/feedrelay/internal/platform/queue"
)

type recordingSender struct {
	mu    sync.Mutex
	sent  []domain.FeedItem
	count atomic.Int32
}

func (s *recordingSender) Send(_ context.Context, _ int64, item domain.FeedItem) error {
	s.mu.Lock()
	s.sent = append(s.sent, item)
	s.mu.Unlock()
	s.count.Add(1)
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingSink) Emit(_ context.Context, ev domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingSink) stalled() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, ev := range r.events {
		if ev.Type == domain.EventStalled {
			out = append(out, ev)
		}
	}
	return out
}

func TestRecoverOnce_StalledJobIsRedispatchedWithAttemptIncremented(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryQueue(10 * time.Millisecond)
	sink := &recordingSink{}
	d := dispatcher.New(q, &recordingSender{}, sink)
	pool := NewPool(d, q, time.Minute, 0)

	job := domain.NewJob(1, domain.FeedItem{Link: "stuck"})
	require.NoError(t, q.Publish(ctx, job))

	// A consumer takes the job and never reports an outcome.
	taken, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, taken)

	n, err := pool.RecoverOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stalled := sink.stalled()
	require.Len(t, stalled, 1)
	assert.Equal(t, job.ID, stalled[0].JobID)
	assert.Equal(t, 1, stalled[0].Attempts)

	out, err := d.DispatchNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.ID, out.Job.ID)
	assert.Equal(t, 1, out.Job.Attempts)
	assert.Equal(t, dispatcher.ResultCompleted, out.Result)
}

func TestPool_StartDeliversAndStops(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryQueue(10 * time.Millisecond)
	sender := &recordingSender{}
	d := dispatcher.New(q, sender, nil)
	pool := NewPool(d, q, 10*time.Millisecond, time.Hour)

	for _, link := range []string{"a", "b", "c"} {
		require.NoError(t, q.Publish(ctx, domain.NewJob(1, domain.FeedItem{Link: link})))
	}

	pool.Start(ctx)
	require.Eventually(t, func() bool { return sender.count.Load() == 3 }, 2*time.Second, 5*time.Millisecond)
	pool.Stop()

	sender.mu.Lock()
	defer sender.mu.Unlock()
	links := make([]string, 0, len(sender.sent))
	for _, item := range sender.sent {
		links = append(links, item.Link)
	}
	assert.Equal(t, []string{"a", "b", "c"}, links)
	assert.Equal(t, 0, q.Len())
}
