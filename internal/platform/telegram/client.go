// Package telegram implements domain.Sender on top of the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dontdude/feedrelay/internal/domain"
	"golang.org/x/time/rate"
)

const (
	DefaultAPIURL = "https://api.telegram.org"

	// DefaultRate stays under the Bot API's ~30 messages/second global limit.
	DefaultRate = 25
)

// Client sends feed items with sendMessage.
type Client struct {
	http    *http.Client
	apiURL  string
	token   string
	limiter *rate.Limiter
}

// Check if Client implements domain.Sender
var _ domain.Sender = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithAPIURL points the client at another Bot API server (tests, local bot API).
func WithAPIURL(u string) Option {
	return func(c *Client) { c.apiURL = u }
}

// WithHTTPClient replaces the default 10s-timeout client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithRate sets the client-side send rate in messages per second. Zero disables pacing.
func WithRate(perSecond float64) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		http:    &http.Client{Timeout: 10 * time.Second},
		apiURL:  DefaultAPIURL,
		token:   token,
		limiter: rate.NewLimiter(rate.Limit(DefaultRate), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type sendMessageRequest struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Send posts the item's link to chatID.
func (c *Client) Send(ctx context.Context, chatID int64, item domain.FeedItem) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(sendMessageRequest{ChatID: chatID, Text: messageText(item)})
	if err != nil {
		return fmt.Errorf("marshal sendMessage: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.apiURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build sendMessage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sendMessage: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("read sendMessage response: %w", err)
	}

	var out apiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		if resp.StatusCode == http.StatusOK {
			return fmt.Errorf("decode sendMessage response: %w", err)
		}
		// Proxies and gateways answer with HTML; classify by status code alone.
		out = apiResponse{}
	}
	if resp.StatusCode == http.StatusOK && out.OK {
		return nil
	}
	return classify(resp, out)
}

func classify(resp *http.Response, out apiResponse) error {
	code := out.ErrorCode
	if code == 0 {
		code = resp.StatusCode
	}
	desc := out.Description
	if desc == "" {
		desc = resp.Status
	}

	switch code {
	case http.StatusTooManyRequests:
		rl := &domain.RateLimitError{Description: desc}
		if out.Parameters != nil && out.Parameters.RetryAfter > 0 {
			rl.RetryAfter = time.Duration(out.Parameters.RetryAfter) * time.Second
		} else if s, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && s > 0 {
			rl.RetryAfter = time.Duration(s) * time.Second
		}
		return rl
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return &domain.PermanentError{Code: code, Err: errors.New(desc)}
	}
	return fmt.Errorf("sendMessage failed (code %d): %s", code, desc)
}

func messageText(item domain.FeedItem) string {
	if item.Title == "" {
		return item.Link
	}
	return item.Title + "\n" + item.Link
}
