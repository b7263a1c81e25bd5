// Package registry holds the working set of active chains. It is
// constructed once at process start and passed by handle to every event
// handler; there is no ambient package-level state.
package registry

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"chainbot/pkg/chain"
	"chainbot/pkg/logger"
	"chainbot/pkg/models"
)

// ErrNotFound is returned when a chain id is not in the working set.
var ErrNotFound = errors.New("chain not found")

// MaxSearchResults caps lookup-by-query responses.
const MaxSearchResults = 50

// Registry is the process-wide working set of active chains, keyed by
// chain id.
type Registry struct {
	mu     sync.RWMutex
	chains map[string]*chain.Chain
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{chains: make(map[string]*chain.Chain)}
}

// Load hydrates the registry from persisted snapshots, typically once at
// process start. Later duplicates of an id win (last write wins across
// snapshots). Ended snapshots stay in the store as archive records and
// are not restored into the working set.
func (r *Registry) Load(snaps []models.ChainSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range snaps {
		if s.ID == "" {
			logger.Warn("registry_skip_snapshot", "reason", "empty id")
			continue
		}
		if s.Ended {
			logger.Debug("registry_skip_snapshot", "id", s.ID, "reason", "ended")
			continue
		}
		r.chains[s.ID] = chain.Restore(s)
	}
}

// Add registers a chain under its id, replacing any previous entry.
func (r *Registry) Add(c *chain.Chain) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chains[c.ID()] = c
}

// FindByID returns the chain for id, or ErrNotFound.
func (r *Registry) FindByID(id string) (*chain.Chain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.chains[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

// Remove drops a chain from the working set. Removing an unknown id is a
// no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.chains, id)
}

// Len returns the number of chains in the working set.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.chains)
}

// Snapshots serializes the full working set, ordered by chain id so the
// persisted form is deterministic.
func (r *Registry) Snapshots() []models.ChainSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ChainSnapshot, 0, len(r.chains))
	for _, c := range r.chains {
		out = append(out, c.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Sweep partitions the working set by the retention window. Chains whose
// last mutation is older than the window are finalized (ended) and
// returned so the caller can render and publish their terminal state;
// chains that had already ended are returned in dropped. Both groups
// leave the working set. Sweep is idempotent: a second run with no
// intervening mutation finds nothing to do.
func (r *Registry) Sweep(window time.Duration, nowFn func() time.Time) (finalized []*chain.Chain, dropped []string) {
	if nowFn == nil {
		nowFn = time.Now
	}
	cutoff := nowFn().UTC().UnixNano() - window.Nanoseconds()

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.chains {
		switch {
		case c.Ended():
			dropped = append(dropped, id)
			delete(r.chains, id)
		case c.LastUpdated() < cutoff:
			c.End()
			finalized = append(finalized, c)
			delete(r.chains, id)
		}
	}
	sort.Slice(finalized, func(i, j int) bool { return finalized[i].ID() < finalized[j].ID() })
	sort.Strings(dropped)
	return finalized, dropped
}

// Search implements lookup-by-query discovery: chains whose title contains
// the query, owned by the requester or public, most recently mutated
// first, capped at MaxSearchResults.
func (r *Registry) Search(query string, requesterID int64) []*chain.Chain {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*chain.Chain
	for _, c := range r.chains {
		if !strings.Contains(c.Title(), query) {
			continue
		}
		if c.Creator().ID != requesterID && !c.IsPublic() {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastUpdated() != out[j].LastUpdated() {
			return out[i].LastUpdated() > out[j].LastUpdated()
		}
		return out[i].ID() < out[j].ID()
	})
	if len(out) > MaxSearchResults {
		out = out[:MaxSearchResults]
	}
	return out
}
