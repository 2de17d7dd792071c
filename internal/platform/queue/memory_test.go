package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dontdude/feedrelay/internal/domain"
)

func mustDequeue(t *testing.T, q domain.JobQueue) domain.Job {
	t.Helper()
	job, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.NotNil(t, job)
	return *job
}

func TestMemoryQueue_FIFOAndRequeueAtTail(t *testing.T) {
	q := NewMemoryQueue(10 * time.Millisecond)
	ctx := context.Background()
	for _, link := range []string{"a", "b", "c"} {
		require.NoError(t, q.Publish(ctx, domain.NewJob(1, domain.FeedItem{Link: link})))
	}

	a := mustDequeue(t, q)
	assert.Equal(t, "a", a.Item.Link)
	assert.Equal(t, domain.StatusActive, a.Status)

	a.Attempts++
	require.NoError(t, q.Requeue(ctx, a))

	var order []string
	for q.Len() > 0 {
		job := mustDequeue(t, q)
		order = append(order, job.Item.Link)
		require.NoError(t, q.Complete(ctx, job))
	}
	assert.Equal(t, []string{"b", "c", "a"}, order)
}

func TestMemoryQueue_DequeueEmptyReturnsNilAfterPollWindow(t *testing.T) {
	q := NewMemoryQueue(5 * time.Millisecond)

	job, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestMemoryQueue_DequeueWakesOnPublish(t *testing.T) {
	q := NewMemoryQueue(5 * time.Second)
	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = q.Publish(context.Background(), domain.NewJob(1, domain.FeedItem{Link: "late"}))
	}()

	job, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "late", job.Item.Link)
}

func TestMemoryQueue_DequeueHonoursContext(t *testing.T) {
	q := NewMemoryQueue(5 * time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryQueue_FailMovesToDead(t *testing.T) {
	q := NewMemoryQueue(10 * time.Millisecond)
	ctx := context.Background()
	require.NoError(t, q.Publish(ctx, domain.NewJob(1, domain.FeedItem{Link: "x"})))

	job := mustDequeue(t, q)
	require.NoError(t, q.Fail(ctx, job, errors.New("chat not found")))

	dead := q.Dead()
	require.Len(t, dead, 1)
	assert.Equal(t, "chat not found", dead[0].Cause)
	assert.Equal(t, domain.StatusFailed, dead[0].Job.Status)

	reclaimed, err := q.ReclaimStalled(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, reclaimed, "failed jobs are no longer active")
}

func TestMemoryQueue_ReclaimStalled(t *testing.T) {
	q := NewMemoryQueue(10 * time.Millisecond)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }

	require.NoError(t, q.Publish(ctx, domain.NewJob(1, domain.FeedItem{Link: "old"})))
	require.NoError(t, q.Publish(ctx, domain.NewJob(1, domain.FeedItem{Link: "fresh"})))
	require.NoError(t, q.Publish(ctx, domain.NewJob(1, domain.FeedItem{Link: "waiting"})))

	old := mustDequeue(t, q)
	now = now.Add(4 * time.Minute)
	mustDequeue(t, q)
	now = now.Add(2 * time.Minute)

	reclaimed, err := q.ReclaimStalled(ctx, 5*time.Minute)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, old.ID, reclaimed[0].ID)
	assert.Equal(t, 1, reclaimed[0].Attempts)
	assert.Equal(t, domain.StatusPending, reclaimed[0].Status)

	pending := q.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, "waiting", pending[0].Item.Link)
	assert.Equal(t, "old", pending[1].Item.Link)
}

func TestMemoryQueue_PublishRequiresID(t *testing.T) {
	q := NewMemoryQueue(0)
	err := q.Publish(context.Background(), domain.Job{ChatID: 1})
	assert.Error(t, err)
}

func TestMemoryQueue_TouchRestartsStallClock(t *testing.T) {
	q := NewMemoryQueue(10 * time.Millisecond)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }

	require.NoError(t, q.Publish(ctx, domain.NewJob(1, domain.FeedItem{Link: "held"})))
	held := mustDequeue(t, q)

	now = now.Add(4 * time.Minute)
	require.NoError(t, q.Touch(ctx, held))
	now = now.Add(4 * time.Minute)

	reclaimed, err := q.ReclaimStalled(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Empty(t, reclaimed, "8m since dequeue but only 4m since the last touch")

	now = now.Add(2 * time.Minute)
	reclaimed, err = q.ReclaimStalled(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Len(t, reclaimed, 1)

	assert.NoError(t, q.Touch(ctx, held), "touching a job that is no longer active is a no-op")
}
