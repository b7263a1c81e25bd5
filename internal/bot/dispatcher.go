// Package bot is the Telegram transport: it pulls updates off the Bot
// API (long-poll or webhook), routes them to handlers, and keeps the
// per-user conversation state for private-chat entry flows.
package bot

import (
	"context"
	"strconv"
	"sync"
	"time"

	"chainbot/pkg/chain"
	"chainbot/pkg/logger"
	"chainbot/pkg/persist"
	"chainbot/pkg/publish"
	"chainbot/pkg/registry"
	"chainbot/pkg/store"
	"chainbot/pkg/telegram"
	"chainbot/pkg/telemetry"
)

// offsetMetaKey is where the last confirmed update offset is persisted so
// a restart does not replay old updates.
const offsetMetaKey = "update_offset"

// DefaultHelpText is the body shown on a freshly created group chain.
const DefaultHelpText = "Reply to this message to continue the chain!\nA second reply will overwrite your first \n\nChains will end automatically after 1 week"

// Dispatcher routes incoming updates. Pending-state maps track private
// chats that owe the bot a title or a reply; they are keyed by chat id
// and live here rather than as package state.
type Dispatcher struct {
	client   *telegram.Client
	reg      *registry.Registry
	fanout   *publish.Fanout
	queue    *persist.Queue
	renderer chain.Renderer
	botName  string

	pollTimeout int

	mu           sync.Mutex
	pendingTitle map[int64]struct{}
	pendingReply map[int64]string
}

// New builds a dispatcher. pollTimeout is the long-poll hold in seconds;
// zero means the Bot API default of 30.
func New(client *telegram.Client, reg *registry.Registry, fanout *publish.Fanout, queue *persist.Queue, botName string, pollTimeout int) *Dispatcher {
	if pollTimeout <= 0 {
		pollTimeout = 30
	}
	return &Dispatcher{
		client:       client,
		reg:          reg,
		fanout:       fanout,
		queue:        queue,
		renderer:     chain.Renderer{BotName: botName},
		botName:      botName,
		pollTimeout:  pollTimeout,
		pendingTitle: make(map[int64]struct{}),
		pendingReply: make(map[int64]string),
	}
}

// Run long-polls getUpdates until ctx is cancelled. The confirmed offset
// is persisted after every batch so restarts resume where they left off.
func (d *Dispatcher) Run(ctx context.Context) {
	offset := d.loadOffset()
	logger.Info("bot_poller_started", "offset", offset, "timeout", d.pollTimeout)

	for {
		select {
		case <-ctx.Done():
			logger.Info("bot_poller_stopping")
			return
		default:
		}

		updates, next, err := d.client.GetUpdates(ctx, offset, d.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("bot_poller_stopping")
				return
			}
			logger.Warn("bot_poll_failed", "error", err)
			select {
			case <-time.After(2 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, u := range updates {
			d.Dispatch(ctx, u)
		}
		if next != offset {
			offset = next
			d.saveOffset(offset)
		}
	}
}

// Dispatch routes one update to its handler. Unknown update kinds are
// counted and dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, u telegram.Update) {
	switch {
	case u.Message != nil:
		telemetry.Updates.WithLabelValues("message").Inc()
		d.handleMessage(ctx, u.Message)
	case u.InlineQuery != nil:
		telemetry.Updates.WithLabelValues("inline_query").Inc()
		d.handleInlineQuery(ctx, u.InlineQuery)
	case u.CallbackQuery != nil:
		telemetry.Updates.WithLabelValues("callback_query").Inc()
		d.handleCallback(ctx, u.CallbackQuery)
	case u.ChosenInlineResult != nil:
		telemetry.Updates.WithLabelValues("chosen_inline_result").Inc()
		d.handleChosenInlineResult(ctx, u.ChosenInlineResult)
	default:
		telemetry.Updates.WithLabelValues("other").Inc()
	}
}

func (d *Dispatcher) loadOffset() int64 {
	b, err := store.GetMeta(offsetMetaKey)
	if err != nil || len(b) == 0 {
		return 0
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		logger.Warn("bot_offset_corrupt", "value", string(b))
		return 0
	}
	return n
}

func (d *Dispatcher) saveOffset(offset int64) {
	if err := store.SaveMeta(offsetMetaKey, []byte(strconv.FormatInt(offset, 10))); err != nil {
		logger.Warn("bot_offset_save_failed", "error", err)
	}
}

// publishAndPersist pushes the chain's current render to all of its
// surfaces and enqueues a snapshot. Both sides are fire-and-forget.
func (d *Dispatcher) publishAndPersist(ctx context.Context, c *chain.Chain) {
	d.fanout.PublishChain(ctx, c)
	d.queue.EnqueueChain(c.Snapshot())
	telemetry.ActiveChains.Set(float64(d.reg.Len()))
}
