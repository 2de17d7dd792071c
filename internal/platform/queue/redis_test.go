package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dontdude/feedrelay/internal/domain"
)

func newTestRedisQueue(t *testing.T) (*RedisQueue, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := NewRedisClient(mr.Addr())
	t.Cleanup(func() { rdb.Close() })

	q, err := NewRedisQueue(context.Background(), rdb, "test:jobs", "test:workers")
	require.NoError(t, err)
	q.pollWindow = 50 * time.Millisecond
	return q, rdb
}

func TestRedisQueue_GroupCreationIsIdempotent(t *testing.T) {
	q, rdb := newTestRedisQueue(t)

	_, err := NewRedisQueue(context.Background(), rdb, q.stream, q.group)
	assert.NoError(t, err)
}

func TestRedisQueue_PublishDequeueComplete(t *testing.T) {
	q, rdb := newTestRedisQueue(t)
	ctx := context.Background()

	job := domain.NewJob(99, domain.FeedItem{Link: "https://example.com/post", Title: "Post"})
	require.NoError(t, q.Publish(ctx, job))

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, int64(99), got.ChatID)
	assert.Equal(t, job.Item, got.Item)
	assert.Equal(t, domain.StatusActive, got.Status)
	assert.NotEmpty(t, got.RawID)

	require.NoError(t, q.Complete(ctx, *got))

	pending, err := rdb.XPending(ctx, q.stream, q.group).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending.Count)

	none, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestRedisQueue_RequeueAppendsAndAcks(t *testing.T) {
	q, rdb := newTestRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, domain.NewJob(1, domain.FeedItem{Link: "a"})))
	require.NoError(t, q.Publish(ctx, domain.NewJob(1, domain.FeedItem{Link: "b"})))

	a, err := q.Dequeue(ctx)
	require.NoError(t, err)
	a.Attempts++
	require.NoError(t, q.Requeue(ctx, *a))

	pending, err := rdb.XPending(ctx, q.stream, q.group).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending.Count)

	b, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", b.Item.Link)

	again, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", again.Item.Link)
	assert.Equal(t, 1, again.Attempts)
	assert.NotEqual(t, a.RawID, again.RawID)
}

func TestRedisQueue_FailWritesDeadLetter(t *testing.T) {
	q, rdb := newTestRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, domain.NewJob(1, domain.FeedItem{Link: "x"})))
	job, err := q.Dequeue(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Fail(ctx, *job, errors.New("chat not found")))

	entries, err := rdb.XRange(ctx, q.DeadLetterStream(), "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "chat not found", entries[0].Values["error"])

	dead, err := decodeJob(entries[0])
	require.NoError(t, err)
	assert.Equal(t, job.ID, dead.ID)
	assert.Equal(t, domain.StatusFailed, dead.Status)
}

func TestRedisQueue_ReclaimStalled(t *testing.T) {
	q, _ := newTestRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, domain.NewJob(1, domain.FeedItem{Link: "stuck"})))
	stuck, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, stuck)

	reclaimed, err := q.ReclaimStalled(ctx, 0)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, stuck.ID, reclaimed[0].ID)
	assert.Equal(t, 1, reclaimed[0].Attempts)

	again, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, stuck.ID, again.ID)
	assert.Equal(t, 1, again.Attempts)
}

func TestRedisQueue_TouchKeepsEntryWithConsumer(t *testing.T) {
	q, rdb := newTestRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, domain.NewJob(1, domain.FeedItem{Link: "held"})))
	held, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, held)

	require.NoError(t, q.Touch(ctx, *held))

	pending, err := rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.stream,
		Group:  q.group,
		Start:  "-",
		End:    "+",
		Count:  10,
	}).Result()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, held.RawID, pending[0].ID)
	assert.Equal(t, q.consumer, pending[0].Consumer)
}

func TestRedisQueue_UndecodableEntryIsDeadLettered(t *testing.T) {
	q, rdb := newTestRedisQueue(t)
	ctx := context.Background()

	id, err := rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]interface{}{"job": "{not json"},
	}).Result()
	require.NoError(t, err)

	job, err := q.Dequeue(ctx)
	require.Error(t, err)
	assert.Nil(t, job)

	pending, err := rdb.XPending(ctx, q.stream, q.group).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending.Count)

	entries, err := rdb.XRange(ctx, q.DeadLetterStream(), "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "{not json", entries[0].Values["job"])
	assert.Equal(t, id, entries[0].Values["source_id"])
	assert.Contains(t, entries[0].Values["error"], "failed to unmarshal job")
}
