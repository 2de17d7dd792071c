package domain

import "context"

// Sender delivers a feed item to a chat on the messaging platform.
// Implementations signal throttling with *RateLimitError and unrecoverable
// rejections with *PermanentError; any other error is treated as transient.
type Sender interface {
	Send(ctx context.Context, chatID int64, item FeedItem) error
}
