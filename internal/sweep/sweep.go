// Package sweep runs the periodic retention pass over the chain working
// set: expired chains are finalized, their surfaces get a last render, and
// the surviving set is flushed to disk.
package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"chainbot/pkg/logger"
	"chainbot/pkg/persist"
	"chainbot/pkg/publish"
	"chainbot/pkg/registry"
	"chainbot/pkg/telemetry"
)

// Sweeper owns one registry pass. All collaborators are handles; the
// sweeper keeps no state of its own beyond configuration.
type Sweeper struct {
	reg    *registry.Registry
	fanout *publish.Fanout
	queue  *persist.Queue
	window time.Duration
	nowFn  func() time.Time
}

// New builds a sweeper over the given working set. window is the idle
// period after which a chain is finalized.
func New(reg *registry.Registry, fanout *publish.Fanout, queue *persist.Queue, window time.Duration) *Sweeper {
	return &Sweeper{
		reg:    reg,
		fanout: fanout,
		queue:  queue,
		window: window,
		nowFn:  time.Now,
	}
}

// RunOnce performs a single retention pass. It is idempotent: a second
// call against an unchanged working set finalizes nothing.
func (s *Sweeper) RunOnce(ctx context.Context) {
	start := s.nowFn()
	finalized, dropped := s.reg.Sweep(s.window, s.nowFn)

	for _, c := range finalized {
		snap := c.Snapshot()
		s.fanout.PublishChain(ctx, c)
		s.queue.EnqueueChain(snap)
	}
	// flush the surviving working set in one shot so a crash between
	// sweeps loses at most the last interval
	s.queue.EnqueueAll(s.reg.Snapshots())

	telemetry.SweepRuns.Inc()
	telemetry.SweepFinalized.Add(float64(len(finalized)))
	telemetry.ActiveChains.Set(float64(s.reg.Len()))

	logger.Info("sweep_run",
		"finalized", len(finalized),
		"dropped", len(dropped),
		"active", s.reg.Len(),
		"took", time.Since(start).String())
}

// Start launches the cron-driven scheduler and returns a cancel func.
// cronExpr defaults to daily at 02:00 when empty.
func Start(ctx context.Context, s *Sweeper, cronExpr string) (context.CancelFunc, error) {
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("sweep_invalid_cron", "cron", cronExpr)
		return nil, fmt.Errorf("invalid sweep cron expression: %s", cronExpr)
	}

	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, s, cronExpr)
	logger.Info("sweep_scheduler_started", "cron", cronExpr, "window", s.window.String())
	return cancel, nil
}

// runScheduler computes the next tick with gronx and sleeps until then.
func runScheduler(ctx context.Context, s *Sweeper, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("sweep_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("sweep_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				logger.Info("sweep_scheduler_stopping")
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			s.RunOnce(ctx)
		case <-ctx.Done():
			logger.Info("sweep_scheduler_stopping")
			return
		}
	}
}
