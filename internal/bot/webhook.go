package bot

import (
	"context"
	"encoding/json"
	"time"

	"github.com/valyala/fasthttp"

	"chainbot/pkg/logger"
	"chainbot/pkg/telegram"
)

// Webhook is the push-mode alternative to long polling: Telegram POSTs
// updates to a configured path and they enter the same dispatch path.
type Webhook struct {
	d    *Dispatcher
	path string
	srv  *fasthttp.Server
}

// NewWebhook wraps a dispatcher in a fasthttp receiver. path defaults to
// "/telegram/webhook".
func NewWebhook(d *Dispatcher, path string) *Webhook {
	if path == "" {
		path = "/telegram/webhook"
	}
	w := &Webhook{d: d, path: path}
	w.srv = &fasthttp.Server{
		Handler:            w.handle,
		Name:               "chainbot-webhook",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       5 * time.Second,
		MaxRequestBodySize: 1 << 20,
	}
	return w
}

func (w *Webhook) handle(ctx *fasthttp.RequestCtx) {
	if string(ctx.Path()) != w.path || !ctx.IsPost() {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}
	var u telegram.Update
	if err := json.Unmarshal(ctx.PostBody(), &u); err != nil {
		logger.Warn("webhook_bad_update", "error", err)
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		return
	}
	w.d.Dispatch(context.Background(), u)
	ctx.SetStatusCode(fasthttp.StatusOK)
}

// Serve blocks on the listener until Shutdown is called.
func (w *Webhook) Serve(addr string) error {
	logger.Info("webhook_listening", "addr", addr, "path", w.path)
	return w.srv.ListenAndServe(addr)
}

// Shutdown gracefully stops the receiver.
func (w *Webhook) Shutdown() error {
	return w.srv.Shutdown()
}
