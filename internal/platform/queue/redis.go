package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dontdude/feedrelay/internal/domain"
	"github.com/redis/go-redis/v9"
)

// streamMaxLen bounds the job stream; trimming is approximate (~).
const streamMaxLen = 100_000

// RedisQueue implements domain.JobQueue using Redis Streams and a consumer group.
// Pending means "in the stream, not yet delivered to the group"; active means
// "in the group's Pending Entries List (PEL)".
type RedisQueue struct {
	client     *redis.Client
	stream     string
	group      string
	consumer   string
	pollWindow time.Duration
}

// Ensure RedisQueue satisfies the interface
var _ domain.JobQueue = (*RedisQueue)(nil)

// NewRedisClient dials Redis and pings it, panicking if it is unreachable (fail-fast).
func NewRedisClient(addr string) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		panic(fmt.Sprintf("failed to connect to redis: %v", err))
	}
	return rdb
}

// NewRedisQueue returns a Redis-backed queue adapter and makes sure the consumer group exists.
func NewRedisQueue(ctx context.Context, client *redis.Client, stream, group string) (*RedisQueue, error) {
	// Start the group at "0" so jobs published before the first worker came up are not skipped.
	err := client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	// Generate a unique consumer name (e.g: hostname-pid)
	consumer, _ := os.Hostname()
	if consumer == "" {
		consumer = "consumer"
	}
	consumer = fmt.Sprintf("%s-%d", consumer, os.Getpid())

	return &RedisQueue{
		client:     client,
		stream:     stream,
		group:      group,
		consumer:   consumer,
		pollWindow: DefaultPollWindow,
	}, nil
}

// DeadLetterStream is where terminally failed jobs are copied.
func (r *RedisQueue) DeadLetterStream() string {
	return r.stream + ":dead"
}

// Publish enqueues a job to the Redis stream using XADD (Producer)
func (r *RedisQueue) Publish(ctx context.Context, job domain.Job) error {
	if job.ID == "" {
		return fmt.Errorf("publish: job has no id")
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	job.Status = domain.StatusPending

	args, err := r.addArgs(r.stream, job, nil)
	if err != nil {
		return err
	}
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

// Dequeue reads one new job for this consumer using XREADGROUP.
func (r *RedisQueue) Dequeue(ctx context.Context) (*domain.Job, error) {
	streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    r.group,
		Consumer: r.consumer,
		Streams:  []string{r.stream, ">"}, // ">" means new messages
		Count:    1,
		Block:    r.pollWindow,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Timeout
		}
		return nil, fmt.Errorf("redis read failed: %w", err)
	}

	for _, stream := range streams {
		for _, msg := range stream.Messages {
			job, err := decodeJob(msg)
			if err != nil {
				// An undecodable entry can never be delivered; park it so it does not stall forever.
				if dlErr := r.deadLetterRaw(ctx, msg, err); dlErr != nil {
					return nil, errors.Join(err, dlErr)
				}
				return nil, err
			}
			job.Status = domain.StatusActive
			return &job, nil
		}
	}
	return nil, nil
}

// Complete confirms delivery using XACK.
func (r *RedisQueue) Complete(ctx context.Context, job domain.Job) error {
	return r.client.XAck(ctx, r.stream, r.group, job.RawID).Err()
}

// Touch re-claims the entry for this consumer with XCLAIM, which resets its idle time.
func (r *RedisQueue) Touch(ctx context.Context, job domain.Job) error {
	err := r.client.XClaimJustID(ctx, &redis.XClaimArgs{
		Stream:   r.stream,
		Group:    r.group,
		Consumer: r.consumer,
		MinIdle:  0,
		Messages: []string{job.RawID},
	}).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis touch: %w", err)
	}
	return nil
}

// Fail copies the job to the dead-letter stream and acknowledges it.
func (r *RedisQueue) Fail(ctx context.Context, job domain.Job, cause error) error {
	job.Status = domain.StatusFailed
	extra := map[string]interface{}{}
	if cause != nil {
		extra["error"] = cause.Error()
	}
	args, err := r.addArgs(r.DeadLetterStream(), job, extra)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, args)
		pipe.XAck(ctx, r.stream, r.group, job.RawID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis fail job: %w", err)
	}
	return nil
}

// deadLetterRaw copies an entry that is not a valid job to the dead-letter
// stream as-is and acknowledges it.
func (r *RedisQueue) deadLetterRaw(ctx context.Context, msg redis.XMessage, cause error) error {
	values := make(map[string]interface{}, len(msg.Values)+2)
	for k, v := range msg.Values {
		values[k] = v
	}
	values["error"] = cause.Error()
	values["source_id"] = msg.ID

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: r.DeadLetterStream(),
			MaxLen: streamMaxLen,
			Approx: true,
			Values: values,
		})
		pipe.XAck(ctx, r.stream, r.group, msg.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis dead-letter entry %s: %w", msg.ID, err)
	}
	return nil
}

// Requeue appends the job as a new stream entry and acknowledges the old one.
func (r *RedisQueue) Requeue(ctx context.Context, job domain.Job) error {
	if err := r.requeue(ctx, job, job.RawID); err != nil {
		return fmt.Errorf("redis requeue: %w", err)
	}
	return nil
}

func (r *RedisQueue) requeue(ctx context.Context, job domain.Job, ackID string) error {
	job.Status = domain.StatusPending
	args, err := r.addArgs(r.stream, job, nil)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, args)
		pipe.XAck(ctx, r.stream, r.group, ackID)
		return nil
	})
	return err
}

func (r *RedisQueue) addArgs(stream string, job domain.Job, extra map[string]interface{}) (*redis.XAddArgs, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	values := map[string]interface{}{
		"job": data,
	}
	for k, v := range extra {
		values[k] = v
	}
	// We use "*" Id to let Redis generate a timestamp-based ID.
	return &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: values,
	}, nil
}

func decodeJob(msg redis.XMessage) (domain.Job, error) {
	val, ok := msg.Values["job"].(string)
	if !ok {
		return domain.Job{}, fmt.Errorf("invalid message format: %s", msg.ID)
	}
	var job domain.Job
	if err := json.Unmarshal([]byte(val), &job); err != nil {
		return domain.Job{}, fmt.Errorf("failed to unmarshal job %s: %w", msg.ID, err)
	}
	// Capture the Redis Stream ID so we can ACK later
	job.RawID = msg.ID
	return job, nil
}
