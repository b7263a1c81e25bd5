// Package app wires the bot together: config, store, registry, persist
// queue, publisher, sweep scheduler, transports, and the admin HTTP
// server, with an ordered shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/joho/godotenv"

	"chainbot/internal/bot"
	"chainbot/internal/sweep"
	"chainbot/pkg/chain"
	"chainbot/pkg/config"
	"chainbot/pkg/logger"
	"chainbot/pkg/persist"
	"chainbot/pkg/progressor"
	"chainbot/pkg/publish"
	"chainbot/pkg/registry"
	"chainbot/pkg/state"
	"chainbot/pkg/store"
	"chainbot/pkg/telegram"
	"chainbot/pkg/telemetry"
)

const defaultQueueCapacity = 1024

// App encapsulates the bot components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	reg        *registry.Registry
	queue      *persist.Queue
	fanout     *publish.Fanout
	dispatcher *bot.Dispatcher
	sweeper    *sweep.Sweeper
	webhook    *bot.Webhook

	srv *http.Server
}

// New initializes everything that does not need a running context: the
// store is opened and the working set hydrated from it. Call Run to start
// the transports and block until shutdown.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")
	cfg := eff.Config

	if cfg.Bot.Token == "" {
		return nil, errors.New("bot token is required (bot.token or BOT_TOKEN)")
	}
	if cfg.Bot.Name == "" {
		return nil, errors.New("bot name is required (bot.name or BOT_NAME)")
	}

	if err := state.EnsureStateDirs(eff.DBPath); err != nil {
		return nil, fmt.Errorf("failed to prepare state dirs: %w", err)
	}
	if err := store.Open(state.PathsVar.Store); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", state.PathsVar.Store, err)
	}
	if err := progressor.Sync(context.Background(), version); err != nil {
		return nil, fmt.Errorf("snapshot migration failed: %w", err)
	}

	reg := registry.New()
	snaps, err := store.LoadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to load persisted chains: %w", err)
	}
	reg.Load(snaps)
	logger.Info("chains_restored", "count", reg.Len())
	telemetry.ActiveChains.Set(float64(reg.Len()))

	client := telegram.NewClient(cfg.Bot.Token, cfg.Bot.BaseURL, nil)
	pub := publish.NewTelegramPublisher(client, cfg.Publish.RPS, cfg.Publish.Burst)
	fanout := publish.NewFanout(pub, chain.Renderer{BotName: cfg.Bot.Name})

	capQ := cfg.Persist.QueueCapacity
	if capQ <= 0 {
		capQ = defaultQueueCapacity
	}
	queue := persist.NewQueue(capQ, int(cfg.Persist.MaxPayloadBytes))

	pollSec := int(cfg.Bot.PollTimeout.Duration().Seconds())
	d := bot.New(client, reg, fanout, queue, cfg.Bot.Name, pollSec)

	a := &App{
		eff:        eff,
		version:    version,
		commit:     commit,
		buildDate:  buildDate,
		reg:        reg,
		queue:      queue,
		fanout:     fanout,
		dispatcher: d,
		sweeper:    sweep.New(reg, fanout, queue, cfg.RetentionWindow()),
	}
	if cfg.Bot.Webhook.Enabled {
		a.webhook = bot.NewWebhook(d, cfg.Bot.Webhook.Path)
	}
	return a, nil
}

// Run starts the persist worker, sweep scheduler, update transport and
// admin HTTP server, then blocks until ctx is cancelled or a component
// fails. Shutdown order matters: stop intake first, then drain the
// persist queue, snapshot the final working set, and close the store.
func (a *App) Run(ctx context.Context) error {
	a.printBanner()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.queue.Run(runCtx)

	if a.eff.Config.Retention.Enabled {
		stopSweep, err := sweep.Start(runCtx, a.sweeper, a.eff.Config.Retention.Cron)
		if err != nil {
			return err
		}
		defer stopSweep()
	} else {
		logger.Info("sweep_disabled")
	}

	errCh := make(chan error, 2)
	if a.webhook != nil {
		go func() {
			if err := a.webhook.Serve(a.eff.Config.Bot.Webhook.Address); err != nil {
				errCh <- fmt.Errorf("webhook server: %w", err)
			}
		}()
	} else {
		go a.dispatcher.Run(runCtx)
	}

	httpErr := a.startHTTP()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		runErr = err
	case err := <-httpErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	}

	a.shutdown(cancel)
	return runErr
}

// shutdown drains in dependency order. Each step is logged so a stuck
// stop is diagnosable.
func (a *App) shutdown(cancel context.CancelFunc) {
	logger.Info("shutdown_started")

	if a.webhook != nil {
		if err := a.webhook.Shutdown(); err != nil {
			logger.Warn("webhook_shutdown_failed", "error", err)
		}
	}
	cancel() // stops poller, sweep scheduler and persist worker intake

	if a.srv != nil {
		sctx, scancel := context.WithTimeout(context.Background(), httpStopTimeout)
		if err := a.srv.Shutdown(sctx); err != nil {
			logger.Warn("http_shutdown_failed", "error", err)
		}
		scancel()
	}

	// let in-flight publishes and their deferred retries land
	a.fanout.Wait()

	a.queue.Close()
	a.queue.Wait()

	// last full snapshot straight to the store, bypassing the queue
	if err := store.SaveChains(a.reg.Snapshots()); err != nil {
		logger.Error("final_snapshot_failed", "error", err)
	}
	if err := store.Close(); err != nil {
		logger.Warn("store_close_failed", "error", err)
	}
	logger.Info("shutdown_complete")
}
