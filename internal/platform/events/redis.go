package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dontdude/feedrelay/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RedisSink publishes events to a Redis Pub/Sub channel so other processes
// (the API server) can follow jobs.
type RedisSink struct {
	client  *redis.Client
	channel string
}

var _ domain.EventSink = (*RedisSink)(nil)

func NewRedisSink(client *redis.Client, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

// Emit publishes ev. Publish failures are logged, never returned to the dispatcher.
func (s *RedisSink) Emit(ctx context.Context, ev domain.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("Failed to marshal event", "error", err)
		return
	}
	if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
		slog.Error("Failed to publish event", "event", ev.Type, "jobID", ev.JobID, "error", err)
	}
}

// Subscribe streams events from the channel until ctx is cancelled.
func (s *RedisSink) Subscribe(ctx context.Context) (<-chan domain.Event, error) {
	// Create the PubSub connection
	pubsub := s.client.Subscribe(ctx, s.channel)

	// Wait for confirmation that we are subscribed
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to events: %w", err)
	}

	outCh := make(chan domain.Event)

	go func() {
		defer close(outCh)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var ev domain.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					slog.Error("Failed to unmarshal event", "error", err)
					continue
				}

				select {
				case outCh <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return outCh, nil
}
