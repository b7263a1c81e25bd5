package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chainbot/pkg/chain"
	"chainbot/pkg/logger"
	"chainbot/pkg/models"
	"chainbot/pkg/registry"
	"chainbot/pkg/telegram"
	"chainbot/pkg/telemetry"
	"chainbot/pkg/validation"
)

const groupsOnlyMsg = "Sorry, this bot only works in groups!"

func (d *Dispatcher) handleMessage(ctx context.Context, msg *telegram.Message) {
	if msg.From == nil || msg.From.IsBot {
		return
	}

	cmd, args := splitCommand(msg.Text)
	switch cmd {
	case "/start":
		d.handleStart(ctx, msg, args)
		return
	case "/chain":
		d.handleChainCommand(ctx, msg, args)
		return
	case "/help":
		d.reply(ctx, msg.Chat.ID, DefaultHelpText)
		return
	}

	if msg.Chat.Type == "private" && d.handlePendingPrivate(ctx, msg) {
		return
	}

	// threaded reply onto a tracked anchor message
	if msg.ReplyTo == nil {
		return
	}
	id := models.ChainID(msg.Chat.ID, msg.ReplyTo.MessageID)
	c, err := d.reg.FindByID(id)
	if err != nil {
		return
	}
	d.applyReply(ctx, c, msg)
}

// handleStart covers the three /start shapes: the `inline` deep link from
// inline mode, the `add__<id>` deep link from a shared chain, and a plain
// /start in a group which behaves like /chain.
func (d *Dispatcher) handleStart(ctx context.Context, msg *telegram.Message, payload string) {
	if payload == "inline" {
		d.reply(ctx, msg.Chat.ID, "Let's create a new chain. Please send me your chain title.")
		d.mu.Lock()
		d.pendingTitle[msg.Chat.ID] = struct{}{}
		d.mu.Unlock()
		return
	}

	if strings.HasPrefix(payload, "add"+models.IDSeparator) {
		chainID := strings.TrimPrefix(payload, "add"+models.IDSeparator)
		c, err := d.reg.FindByID(chainID)
		if err != nil {
			d.reply(ctx, msg.Chat.ID, fmt.Sprintf("No chain found with id %s", chainID))
			return
		}
		d.reply(ctx, msg.Chat.ID, fmt.Sprintf("Please enter your message for the chain %q.", c.Title()))
		d.mu.Lock()
		d.pendingReply[msg.Chat.ID] = c.ID()
		d.mu.Unlock()
		return
	}

	if msg.Chat.Type == "private" {
		d.reply(ctx, msg.Chat.ID, groupsOnlyMsg)
		return
	}
	d.handleChainCommand(ctx, msg, payload)
}

// handleChainCommand creates a group chain anchored to a fresh bot
// message. The anchor edit carries the canonical render.
func (d *Dispatcher) handleChainCommand(ctx context.Context, msg *telegram.Message, rawTitle string) {
	if msg.Chat.Type == "private" {
		d.reply(ctx, msg.Chat.ID, groupsOnlyMsg)
		return
	}
	title, err := validation.Title(rawTitle)
	if err != nil {
		d.reply(ctx, msg.Chat.ID, "Chain title must be less than 256 characters")
		return
	}

	anchor, err := d.client.SendMessage(ctx, msg.Chat.ID, "Please wait...", nil)
	if err != nil {
		logger.Error("chain_anchor_send_failed", "chat", msg.Chat.ID, "error", err)
		return
	}

	id := models.ChainID(msg.Chat.ID, anchor.MessageID)
	c := chain.New(identityOf(msg.From), title, id)
	d.reg.Add(c)
	telemetry.Mutations.WithLabelValues("create").Inc()

	text := d.renderer.Render(c.Snapshot(), msg.Chat.ID, anchor.MessageID)
	if err := d.client.EditMessageText(ctx, msg.Chat.ID, anchor.MessageID, text, nil); err != nil {
		logger.Warn("chain_anchor_edit_failed", "chain", id, "error", err)
	}
	d.queue.EnqueueChain(c.Snapshot())
	telemetry.ActiveChains.Set(float64(d.reg.Len()))
}

// handlePendingPrivate consumes a private-chat message when the chat owes
// either a chain title or a reply. Returns true when the message was
// consumed by one of those flows.
func (d *Dispatcher) handlePendingPrivate(ctx context.Context, msg *telegram.Message) bool {
	d.mu.Lock()
	_, wantTitle := d.pendingTitle[msg.Chat.ID]
	replyChainID, wantReply := d.pendingReply[msg.Chat.ID]
	d.mu.Unlock()

	if wantTitle {
		title, err := validation.Text(msg.Text)
		if err != nil {
			if errors.Is(err, validation.ErrEmpty) {
				d.reply(ctx, msg.Chat.ID, "Chain title cannot be empty")
			} else {
				d.reply(ctx, msg.Chat.ID, "Chain title must be less than 256 characters")
			}
			return true
		}

		anchor, err := d.client.SendMessage(ctx, msg.Chat.ID, "Please wait...", nil)
		if err != nil {
			logger.Error("chain_anchor_send_failed", "chat", msg.Chat.ID, "error", err)
			return true
		}
		id := models.ChainID(msg.Chat.ID, anchor.MessageID)
		c := chain.New(identityOf(msg.From), title, id)
		d.reg.Add(c)
		telemetry.Mutations.WithLabelValues("create").Inc()

		markup := &telegram.InlineKeyboardMarkup{
			InlineKeyboard: [][]telegram.InlineKeyboardButton{
				{
					{Text: "Share chain", SwitchInlineQuery: title},
					{Text: "End chain", CallbackData: "end"},
				},
				{
					{Text: "Toggle public", CallbackData: "public"},
					{Text: "Make anonymous", CallbackData: "anon"},
				},
			},
		}
		text := d.renderer.Render(c.Snapshot(), msg.Chat.ID, anchor.MessageID)
		if err := d.client.EditMessageText(ctx, msg.Chat.ID, anchor.MessageID, text, markup); err != nil {
			logger.Warn("chain_anchor_edit_failed", "chain", id, "error", err)
		}
		d.queue.EnqueueChain(c.Snapshot())
		telemetry.ActiveChains.Set(float64(d.reg.Len()))

		d.mu.Lock()
		delete(d.pendingTitle, msg.Chat.ID)
		d.mu.Unlock()
		return true
	}

	if wantReply {
		c, err := d.reg.FindByID(replyChainID)
		if err != nil {
			d.reply(ctx, msg.Chat.ID, "Chain not found")
			d.mu.Lock()
			delete(d.pendingReply, msg.Chat.ID)
			d.mu.Unlock()
			return true
		}
		if done := d.applyReply(ctx, c, msg); done {
			d.mu.Lock()
			delete(d.pendingReply, msg.Chat.ID)
			d.mu.Unlock()
		}
		return true
	}
	return false
}

// applyReply validates and records one reply, then re-renders every
// surface. Returns false when the input was rejected and the caller
// should keep waiting for a corrected message.
func (d *Dispatcher) applyReply(ctx context.Context, c *chain.Chain, msg *telegram.Message) bool {
	text, err := validation.Text(msg.Text)
	if err != nil {
		if errors.Is(err, validation.ErrEmpty) {
			d.reply(ctx, msg.Chat.ID, "Message cannot be empty")
		} else {
			d.reply(ctx, msg.Chat.ID, "Message must be less than 256 characters")
		}
		return false
	}
	if err := c.UpsertReply(msg.From.ID, text, msg.From.FirstName, msg.From.Username); err != nil {
		if errors.Is(err, chain.ErrChainEnded) {
			d.reply(ctx, msg.Chat.ID, "This chain has ended.")
		}
		return true
	}
	telemetry.Mutations.WithLabelValues("reply").Inc()
	d.publishAndPersist(ctx, c)
	return true
}

// handleInlineQuery answers chain discovery: title substring over chains
// the requester owns or that are public, most recent first.
func (d *Dispatcher) handleInlineQuery(ctx context.Context, q *telegram.InlineQuery) {
	matches := d.reg.Search(strings.TrimSpace(q.Query), q.From.ID)

	results := make([]telegram.InlineQueryResultArticle, 0, len(matches))
	for _, c := range matches {
		snap := c.Snapshot()
		chatID, msgID, err := models.SplitChainID(snap.ID)
		if err != nil {
			logger.Warn("inline_skip_chain", "chain", snap.ID, "error", err)
			continue
		}
		deepLink := fmt.Sprintf("https://t.me/%s?start=add%s%s", d.botName, models.IDSeparator, snap.ID)
		results = append(results, telegram.InlineQueryResultArticle{
			Type:  "article",
			ID:    snap.ID,
			Title: c.Title(),
			InputMessageContent: telegram.InputTextMessageContent{
				MessageText: d.renderer.Render(snap, chatID, msgID),
				ParseMode:   "HTML",
			},
			ReplyMarkup: &telegram.InlineKeyboardMarkup{
				InlineKeyboard: [][]telegram.InlineKeyboardButton{
					{{Text: "Add your message", URL: deepLink}},
				},
			},
		})
	}

	if err := d.client.AnswerInlineQuery(ctx, q.ID, results, "Create a new chain", "inline"); err != nil {
		logger.Warn("inline_answer_failed", "query", q.ID, "error", err)
	}
}

// handleChosenInlineResult records a newly shared surface and pushes the
// current render to it. Stale surfaces are never pruned; failures to
// reach one are logged downstream and the reference kept.
func (d *Dispatcher) handleChosenInlineResult(ctx context.Context, r *telegram.ChosenInlineResult) {
	if r.InlineMessageID == "" {
		return
	}
	c, err := d.reg.FindByID(r.ResultID)
	if err != nil {
		logger.Warn("chosen_result_unknown_chain", "chain", r.ResultID)
		return
	}
	c.AddSharedSurface(r.InlineMessageID)
	telemetry.Mutations.WithLabelValues("share").Inc()
	d.publishAndPersist(ctx, c)
}

// handleCallback handles the anchor keyboard buttons. Every flag change
// is creator-only; ending is terminal and anonymity is one-way.
func (d *Dispatcher) handleCallback(ctx context.Context, cb *telegram.CallbackQuery) {
	if cb.Message == nil {
		d.answerCallback(ctx, cb.ID, "")
		return
	}
	id := models.ChainID(cb.Message.Chat.ID, cb.Message.MessageID)
	c, err := d.reg.FindByID(id)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			d.answerCallback(ctx, cb.ID, "Chain not found")
		}
		return
	}
	if cb.From.ID != c.Creator().ID {
		d.answerCallback(ctx, cb.ID, "Only the chain creator can do that")
		return
	}

	switch cb.Data {
	case "end":
		c.End()
		telemetry.Mutations.WithLabelValues("end").Inc()
		d.publishAndPersist(ctx, c)
		d.reg.Remove(id)
		d.answerCallback(ctx, cb.ID, "Chain ended")
	case "public":
		if c.TogglePublic() {
			d.answerCallback(ctx, cb.ID, "Chain is now public")
		} else {
			d.answerCallback(ctx, cb.ID, "Chain is now private")
		}
		telemetry.Mutations.WithLabelValues("toggle_public").Inc()
		d.queue.EnqueueChain(c.Snapshot())
	case "anon":
		c.MarkAnonymous()
		telemetry.Mutations.WithLabelValues("mark_anonymous").Inc()
		d.publishAndPersist(ctx, c)
		d.answerCallback(ctx, cb.ID, "Chain is now anonymous")
	default:
		d.answerCallback(ctx, cb.ID, "")
	}
}

func (d *Dispatcher) reply(ctx context.Context, chatID int64, text string) {
	if _, err := d.client.SendMessage(ctx, chatID, text, nil); err != nil {
		logger.Warn("bot_reply_failed", "chat", chatID, "error", err)
	}
}

func (d *Dispatcher) answerCallback(ctx context.Context, id, text string) {
	if err := d.client.AnswerCallbackQuery(ctx, id, text); err != nil {
		logger.Warn("callback_answer_failed", "callback", id, "error", err)
	}
}

func identityOf(u *telegram.User) models.Identity {
	return models.Identity{ID: u.ID, FirstName: u.FirstName, Username: u.Username}
}

// splitCommand extracts a leading bot command and its argument string.
// "/chain@somebot hello world" yields ("/chain", "hello world"); plain
// text yields ("", text).
func splitCommand(text string) (cmd, args string) {
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	head, rest, _ := strings.Cut(text, " ")
	if at := strings.Index(head, "@"); at > 0 {
		head = head[:at]
	}
	return head, strings.TrimSpace(rest)
}
