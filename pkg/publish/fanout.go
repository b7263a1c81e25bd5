package publish

import (
	"context"
	"errors"
	"sync"
	"time"

	"chainbot/pkg/chain"
	"chainbot/pkg/logger"
	"chainbot/pkg/models"
	"chainbot/pkg/telemetry"
)

const defaultMaxAttempts = 3

// Fanout re-renders a chain to every registered surface after a
// mutation. Surfaces are independent: publishes run concurrently, a
// failure on one never blocks another, and a rate-limited surface gets a
// deferred retry with the identical payload.
type Fanout struct {
	pub         Publisher
	renderer    chain.Renderer
	maxAttempts int

	wg sync.WaitGroup
}

// NewFanout builds a fanout over the given publisher and renderer.
func NewFanout(pub Publisher, renderer chain.Renderer) *Fanout {
	return &Fanout{pub: pub, renderer: renderer, maxAttempts: defaultMaxAttempts}
}

// PublishChain renders the chain once and pushes the result to the
// anchor surface plus every shared surface. It returns after scheduling;
// use Wait to block until in-flight publishes (including deferred
// retries) settle.
func (f *Fanout) PublishChain(ctx context.Context, c *chain.Chain) {
	snap := c.Snapshot()
	chatID, messageID, err := models.SplitChainID(snap.ID)
	if err != nil {
		logger.Error("fanout_bad_chain_id", "chain", snap.ID, "error", err)
		return
	}
	// One snapshot, one rendering: every surface reflects the same state.
	text := f.renderer.Render(snap, chatID, messageID)

	surfaces := []Surface{{ChatID: chatID, MessageID: messageID}}
	for _, ref := range snap.SharedSurfaces {
		surfaces = append(surfaces, Surface{InlineMessageID: ref})
	}
	for _, s := range surfaces {
		f.wg.Add(1)
		go f.publishWithRetry(ctx, s, text, 1)
	}
}

// publishWithRetry delivers one payload to one surface. Rate limits
// reschedule the same payload after the server-specified delay, up to
// maxAttempts total tries. Owns one wg slot.
func (f *Fanout) publishWithRetry(ctx context.Context, s Surface, text string, attempt int) {
	defer f.wg.Done()
	err := f.pub.Publish(ctx, s, text)
	if err == nil {
		telemetry.Publishes.WithLabelValues("ok").Inc()
		return
	}

	var rl *RateLimitedError
	if errors.As(err, &rl) && attempt < f.maxAttempts {
		delay := rl.RetryAfter
		if delay <= 0 {
			delay = time.Second
		}
		telemetry.Publishes.WithLabelValues("rate_limited").Inc()
		logger.Warn("publish_rate_limited", "surface", s.String(), "attempt", attempt, "retry_after", delay)
		f.wg.Add(1)
		time.AfterFunc(delay, func() {
			f.publishWithRetry(ctx, s, text, attempt+1)
		})
		return
	}
	if errors.Is(err, ErrNotFound) {
		// surface is gone; keep the reference, just log it
		telemetry.Publishes.WithLabelValues("not_found").Inc()
		logger.Warn("publish_surface_missing", "surface", s.String())
		return
	}
	telemetry.Publishes.WithLabelValues("error").Inc()
	logger.Error("publish_failed", "surface", s.String(), "attempt", attempt, "error", err)
}

// Wait blocks until every scheduled publish and deferred retry has
// finished. Used on shutdown and by tests.
func (f *Fanout) Wait() { f.wg.Wait() }
