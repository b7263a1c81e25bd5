// Package progressor runs one-shot upgrade work between releases against
// the persisted chain set. Every migration must be idempotent.
package progressor

import (
	"context"
	"slices"
	"time"

	"chainbot/pkg/logger"
	"chainbot/pkg/store"
)

const systemVersionKey = "system:version"

// Sync upgrades persisted snapshots to the current layout and records the
// running version. Edit in-place for migration logic.
func Sync(ctx context.Context, to string) error {
	prev, _ := store.GetMeta(systemVersionKey)
	logger.Info("progressor_sync_start", "from", string(prev), "to", to)
	start := time.Now()

	snaps, err := store.LoadAll()
	if err != nil {
		logger.Error("progressor_load_failed", "error", err)
		return err
	}

	// Migration: snapshots written before reply ordering was tracked have
	// replies but no order array. Derive one (author ids ascending, the
	// best approximation available) and rewrite the record.
	migrated := 0
	for _, s := range snaps {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if len(s.Order) != 0 || len(s.Replies) == 0 {
			continue
		}
		for authorID := range s.Replies {
			s.Order = append(s.Order, authorID)
		}
		slices.Sort(s.Order)
		if err := store.SaveChain(s); err != nil {
			logger.Error("progressor_rewrite_failed", "chain", s.ID, "error", err)
			return err
		}
		migrated++
	}

	if err := store.SaveMeta(systemVersionKey, []byte(to)); err != nil {
		return err
	}
	logger.Info("progressor_sync_done", "migrated", migrated, "took", time.Since(start).String())
	return nil
}
