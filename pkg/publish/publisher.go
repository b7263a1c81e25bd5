// Package publish delivers rendered chain messages to presentation
// surfaces. Failures stay local: rate limits get a deferred same-payload
// retry, missing surfaces are logged and kept (pruning is a product
// decision that has not been taken), and nothing here ever rolls back or
// blocks a chain mutation.
package publish

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"chainbot/pkg/telegram"
)

// ErrNotFound marks a surface that no longer exists or is unreachable.
var ErrNotFound = errors.New("surface not found")

// RateLimitedError asks the caller to retry the exact same payload after
// the embedded delay.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Surface addresses one published rendering: either a chat message pair
// (the anchor and group copies) or an inline message reference (shared
// surfaces).
type Surface struct {
	ChatID          int64
	MessageID       int64
	InlineMessageID string
}

func (s Surface) String() string {
	if s.InlineMessageID != "" {
		return "inline:" + s.InlineMessageID
	}
	return fmt.Sprintf("%d:%d", s.ChatID, s.MessageID)
}

// limiterKey buckets rate limiting per chat; inline edits share a bucket.
func (s Surface) limiterKey() string {
	if s.InlineMessageID != "" {
		return "inline"
	}
	return strconv.FormatInt(s.ChatID, 10)
}

// Publisher pushes rendered text to a surface. Implementations classify
// failures as ErrNotFound, *RateLimitedError or other.
type Publisher interface {
	Publish(ctx context.Context, s Surface, text string) error
}

type limiterPool struct {
	mu    sync.Mutex
	m     map[string]*rate.Limiter
	rps   float64
	burst int
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[string]*rate.Limiter)
	}
	if l, ok := p.m[key]; ok {
		return l
	}
	rps := p.rps
	if rps <= 0 {
		rps = 5
	}
	burst := p.burst
	if burst <= 0 {
		burst = 10
	}
	l := rate.NewLimiter(rate.Limit(rps), burst)
	p.m[key] = l
	return l
}

// TelegramPublisher publishes by editing Bot API messages in place. Sends
// are throttled per chat to stay under the channel's own limits.
type TelegramPublisher struct {
	client   *telegram.Client
	limiters limiterPool
}

// NewTelegramPublisher wraps a Bot API client. rps/burst bound outbound
// edits per chat; zero values pick conservative defaults.
func NewTelegramPublisher(client *telegram.Client, rps float64, burst int) *TelegramPublisher {
	return &TelegramPublisher{
		client:   client,
		limiters: limiterPool{rps: rps, burst: burst},
	}
}

// Publish edits the surface's message to the rendered text, classifying
// Bot API failures into the publish error taxonomy.
func (t *TelegramPublisher) Publish(ctx context.Context, s Surface, text string) error {
	if err := t.limiters.get(s.limiterKey()).Wait(ctx); err != nil {
		return err
	}
	var err error
	if s.InlineMessageID != "" {
		err = t.client.EditInlineMessageText(ctx, s.InlineMessageID, text, nil)
	} else {
		err = t.client.EditMessageText(ctx, s.ChatID, s.MessageID, text, nil)
	}
	if err == nil {
		return nil
	}
	if after, ok := telegram.IsRateLimited(err); ok {
		return &RateLimitedError{RetryAfter: after}
	}
	if telegram.IsNotFound(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, s)
	}
	return err
}
