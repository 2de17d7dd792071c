package domain

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRetrying  Status = "retrying"
)

// FeedItem is the part of a parsed RSS item that gets delivered.
type FeedItem struct {
	Link  string `json:"link"`
	Title string `json:"title,omitempty"`
}

// Job represents one delivery: this feed item to this chat.
type Job struct {
	ID         string    `json:"id"`
	ChatID     int64     `json:"chat_id"`
	Item       FeedItem  `json:"item"`
	Attempts   int       `json:"attempts"`
	Status     Status    `json:"status"`
	EnqueuedAt time.Time `json:"enqueued_at"`

	// RawID is the backend handle for the job (e.g. the Redis Stream ID 1700000-0).
	// We need this to Acknowledge the message later.
	RawID string `json:"-"`
}

// NewJob creates a pending job with a fresh UUID.
func NewJob(chatID int64, item FeedItem) Job {
	return Job{
		ID:         uuid.New().String(),
		ChatID:     chatID,
		Item:       item,
		Status:     StatusPending,
		EnqueuedAt: time.Now(),
	}
}
