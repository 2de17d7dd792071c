package domain

import (
	"context"
	"time"
)

// EventType names a dispatcher lifecycle event.
type EventType string

const (
	EventDispatch  EventType = "dispatch"
	EventCompleted EventType = "completed"
	EventRetry     EventType = "retry"
	EventFailed    EventType = "failed"
	EventPaused    EventType = "paused"
	EventResumed   EventType = "resumed"
	EventStalled   EventType = "stalled"
)

// Event is a structured observability record emitted by the dispatcher.
// Queue-level events (paused, resumed) carry the job that caused them when there is one.
type Event struct {
	Type     EventType     `json:"type"`
	JobID    string        `json:"job_id,omitempty"`
	ChatID   int64         `json:"chat_id,omitempty"`
	Link     string        `json:"link,omitempty"`
	Attempts int           `json:"attempts"`
	Error    string        `json:"error,omitempty"`
	Cooldown time.Duration `json:"cooldown,omitempty"`
	At       time.Time     `json:"at"`
}

// EventSink accepts dispatcher events. Emit must not block the dispatch loop for long.
type EventSink interface {
	Emit(ctx context.Context, ev Event)
}

// JobEvent builds an event of type t describing job.
func JobEvent(t EventType, job Job) Event {
	return Event{
		Type:     t,
		JobID:    job.ID,
		ChatID:   job.ChatID,
		Link:     job.Item.Link,
		Attempts: job.Attempts,
		At:       time.Now(),
	}
}
