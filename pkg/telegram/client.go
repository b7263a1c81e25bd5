// Package telegram is a minimal Bot API client covering the calls the
// bot dispatches: long-poll updates, message sends/edits (by chat pair or
// inline message id), inline query answers and callback acks.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.telegram.org"

// APIError is a Bot API failure response. RetryAfter is non-zero on rate
// limit responses and carries the server-requested backoff.
type APIError struct {
	Code        int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("telegram api error %d: %s (retry after %s)", e.Code, e.Description, e.RetryAfter)
	}
	return fmt.Sprintf("telegram api error %d: %s", e.Code, e.Description)
}

// IsRateLimited reports whether err is a 429 with a retry_after hint.
func IsRateLimited(err error) (time.Duration, bool) {
	var ae *APIError
	if errors.As(err, &ae) && ae.Code == http.StatusTooManyRequests {
		return ae.RetryAfter, true
	}
	return 0, false
}

// IsNotFound reports whether err indicates the target message or chat no
// longer exists or is unreachable.
func IsNotFound(err error) bool {
	var ae *APIError
	if !errors.As(err, &ae) {
		return false
	}
	if ae.Code == http.StatusForbidden {
		return true
	}
	desc := strings.ToLower(ae.Description)
	return ae.Code == http.StatusBadRequest &&
		(strings.Contains(desc, "not found") || strings.Contains(desc, "message to edit"))
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after,omitempty"`
	} `json:"parameters,omitempty"`
}

// Client calls the Bot API over HTTP. The zero value is not usable; use
// NewClient.
type Client struct {
	token   string
	baseURL string
	http    *http.Client
}

// NewClient builds a client for the given bot token. baseURL is optional
// and exists for tests; httpClient defaults to a 45s-timeout client which
// accommodates long polls.
func NewClient(token, baseURL string, httpClient *http.Client) *Client {
	b := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if b == "" {
		b = defaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 45 * time.Second}
	}
	return &Client{token: token, baseURL: b, http: httpClient}
}

func (c *Client) endpoint(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
}

func (c *Client) call(ctx context.Context, method string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(method), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	var env apiResponse
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("telegram %s: bad response (http %d): %w", method, resp.StatusCode, err)
	}
	if !env.OK {
		ae := &APIError{Code: env.ErrorCode, Description: env.Description}
		if ae.Code == 0 {
			ae.Code = resp.StatusCode
		}
		if env.Parameters != nil && env.Parameters.RetryAfter > 0 {
			ae.RetryAfter = time.Duration(env.Parameters.RetryAfter) * time.Second
		}
		return ae
	}
	if out != nil && len(env.Result) > 0 {
		return json.Unmarshal(env.Result, out)
	}
	return nil
}

// GetUpdates long-polls for updates after offset and returns them with
// the next offset to ack.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeoutSec int) ([]Update, int64, error) {
	values := url.Values{}
	values.Set("offset", strconv.FormatInt(offset, 10))
	values.Set("timeout", strconv.Itoa(timeoutSec))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("getUpdates")+"?"+values.Encode(), nil)
	if err != nil {
		return nil, offset, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, offset, err
	}
	defer resp.Body.Close()

	var env apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, offset, err
	}
	if !env.OK {
		ae := &APIError{Code: env.ErrorCode, Description: env.Description}
		if env.Parameters != nil && env.Parameters.RetryAfter > 0 {
			ae.RetryAfter = time.Duration(env.Parameters.RetryAfter) * time.Second
		}
		return nil, offset, ae
	}
	var updates []Update
	if err := json.Unmarshal(env.Result, &updates); err != nil {
		return nil, offset, err
	}
	next := offset
	for _, u := range updates {
		if u.UpdateID >= next {
			next = u.UpdateID + 1
		}
	}
	return updates, next, nil
}

type sendMessageRequest struct {
	ChatID      int64                 `json:"chat_id"`
	Text        string                `json:"text"`
	ParseMode   string                `json:"parse_mode,omitempty"`
	ReplyMarkup *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

// SendMessage posts an HTML-formatted message and returns the created
// message (the anchor pattern needs its id).
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, markup *InlineKeyboardMarkup) (*Message, error) {
	var msg Message
	err := c.call(ctx, "sendMessage", sendMessageRequest{
		ChatID:      chatID,
		Text:        text,
		ParseMode:   "HTML",
		ReplyMarkup: markup,
	}, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

type editMessageRequest struct {
	ChatID          int64                 `json:"chat_id,omitempty"`
	MessageID       int64                 `json:"message_id,omitempty"`
	InlineMessageID string                `json:"inline_message_id,omitempty"`
	Text            string                `json:"text"`
	ParseMode       string                `json:"parse_mode,omitempty"`
	ReplyMarkup     *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

// EditMessageText rewrites a chat message in place.
func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text string, markup *InlineKeyboardMarkup) error {
	return c.call(ctx, "editMessageText", editMessageRequest{
		ChatID:      chatID,
		MessageID:   messageID,
		Text:        text,
		ParseMode:   "HTML",
		ReplyMarkup: markup,
	}, nil)
}

// EditInlineMessageText rewrites a message addressed by inline message id
// (a shared surface).
func (c *Client) EditInlineMessageText(ctx context.Context, inlineMessageID, text string, markup *InlineKeyboardMarkup) error {
	return c.call(ctx, "editMessageText", editMessageRequest{
		InlineMessageID: inlineMessageID,
		Text:            text,
		ParseMode:       "HTML",
		ReplyMarkup:     markup,
	}, nil)
}

type answerInlineQueryRequest struct {
	InlineQueryID string                     `json:"inline_query_id"`
	Results       []InlineQueryResultArticle `json:"results"`
	CacheTime     int                        `json:"cache_time"`
	SwitchPMText  string                     `json:"switch_pm_text,omitempty"`
	SwitchPMParam string                     `json:"switch_pm_parameter,omitempty"`
}

// AnswerInlineQuery responds to an inline query with article results and
// the standing "create a new chain" switch-to-PM affordance.
func (c *Client) AnswerInlineQuery(ctx context.Context, queryID string, results []InlineQueryResultArticle, switchPMText, switchPMParam string) error {
	if results == nil {
		results = []InlineQueryResultArticle{}
	}
	return c.call(ctx, "answerInlineQuery", answerInlineQueryRequest{
		InlineQueryID: queryID,
		Results:       results,
		CacheTime:     0,
		SwitchPMText:  switchPMText,
		SwitchPMParam: switchPMParam,
	}, nil)
}

type answerCallbackRequest struct {
	CallbackQueryID string `json:"callback_query_id"`
	Text            string `json:"text,omitempty"`
}

// AnswerCallbackQuery acks a callback button press.
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID, text string) error {
	return c.call(ctx, "answerCallbackQuery", answerCallbackRequest{
		CallbackQueryID: callbackID,
		Text:            text,
	}, nil)
}
