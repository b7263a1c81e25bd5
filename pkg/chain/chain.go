package chain

import (
	"slices"
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"chainbot/pkg/models"
)

// Chain is the aggregate tracking one collaborative reply thread anchored
// to an origin message. It holds already-validated data only; sanitization
// and length checks happen before any mutation is invoked. A Chain is safe
// for concurrent use; each instance carries its own lock.
type Chain struct {
	mu sync.Mutex

	id      string
	title   string
	creator models.Identity

	// replies keeps at most one entry per author id, in insertion order.
	replies *orderedmap.OrderedMap[int64, models.Reply]

	createdTS     int64
	lastUpdatedTS int64
	prevUpdatedTS int64

	ended     bool
	public    bool
	anonymous bool

	// sharedSurfaces is append-only; callers avoid double registration when
	// they need exactly-once fan-out.
	sharedSurfaces []string
}

// New creates a chain with an empty reply store and all flags false. The
// title must already be validated (0..256 chars); the id is immutable after
// construction.
func New(creator models.Identity, title, id string) *Chain {
	now := time.Now().UTC().UnixNano()
	return &Chain{
		id:            id,
		title:         title,
		creator:       creator,
		replies:       orderedmap.New[int64, models.Reply](),
		createdTS:     now,
		lastUpdatedTS: now,
		prevUpdatedTS: now,
	}
}

// Restore reconstructs a chain from a snapshot. It is total: snapshots
// written by older revisions without the public/anonymous flags or the
// surface list restore with those fields defaulted. Authors present in
// Replies but missing from Order (snapshots that predate explicit
// ordering) are appended in ascending id order so restore stays
// deterministic.
func Restore(snap models.ChainSnapshot) *Chain {
	c := &Chain{
		id:             snap.ID,
		title:          snap.Title,
		creator:        snap.Creator,
		replies:        orderedmap.New[int64, models.Reply](),
		createdTS:      snap.CreatedTS,
		lastUpdatedTS:  snap.LastUpdatedTS,
		prevUpdatedTS:  snap.PrevUpdatedTS,
		ended:          snap.Ended,
		public:         snap.Public,
		anonymous:      snap.Anonymous,
		sharedSurfaces: append([]string(nil), snap.SharedSurfaces...),
	}
	seen := make(map[int64]struct{}, len(snap.Order))
	for _, id := range snap.Order {
		if r, ok := snap.Replies[id]; ok {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			c.replies.Set(id, r)
		}
	}
	if len(seen) < len(snap.Replies) {
		rest := make([]int64, 0, len(snap.Replies)-len(seen))
		for id := range snap.Replies {
			if _, ok := seen[id]; !ok {
				rest = append(rest, id)
			}
		}
		slices.Sort(rest)
		for _, id := range rest {
			c.replies.Set(id, snap.Replies[id])
		}
	}
	return c
}

// Snapshot exports every field as plain data. Restore(Snapshot()) is
// field-for-field lossless.
func (c *Chain) Snapshot() models.ChainSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := models.ChainSnapshot{
		ID:            c.id,
		Title:         c.title,
		Creator:       c.creator,
		CreatedTS:     c.createdTS,
		LastUpdatedTS: c.lastUpdatedTS,
		PrevUpdatedTS: c.prevUpdatedTS,
		Ended:         c.ended,
		Public:        c.public,
		Anonymous:     c.anonymous,
	}
	if len(c.sharedSurfaces) > 0 {
		snap.SharedSurfaces = append([]string(nil), c.sharedSurfaces...)
	}
	if c.replies.Len() > 0 {
		snap.Order = make([]int64, 0, c.replies.Len())
		snap.Replies = make(map[int64]models.Reply, c.replies.Len())
		for pair := c.replies.Oldest(); pair != nil; pair = pair.Next() {
			snap.Order = append(snap.Order, pair.Key)
			snap.Replies[pair.Key] = pair.Value
		}
	}
	return snap
}

// ID returns the immutable chain id.
func (c *Chain) ID() string { return c.id }

// Creator returns the chain owner's identity.
func (c *Chain) Creator() models.Identity { return c.creator }

// Title returns the chain title; empty is valid.
func (c *Chain) Title() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.title
}

// UpsertReply inserts or overwrites the author's entry and shifts the
// mutation timestamps. Text must be sanitized and length-checked by the
// caller. Returns ErrChainEnded once the chain has ended.
func (c *Chain) UpsertReply(authorID int64, text, firstName, username string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return ErrChainEnded
	}
	c.replies.Set(authorID, models.Reply{Text: text, FirstName: firstName, Username: username})
	c.touch()
	return nil
}

// RemoveReply deletes the author's entry. Returns ErrNotReplied when the
// author has no entry so callers can report the precise condition, and
// ErrChainEnded once the chain has ended.
func (c *Chain) RemoveReply(authorID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return ErrChainEnded
	}
	if _, ok := c.replies.Get(authorID); !ok {
		return ErrNotReplied
	}
	c.replies.Delete(authorID)
	c.touch()
	return nil
}

// HasReply reports whether the author currently has an entry.
func (c *Chain) HasReply(authorID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.replies.Get(authorID)
	return ok
}

// ReplyCount returns the number of distinct authors with an entry.
func (c *Chain) ReplyCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replies.Len()
}

// TogglePublic flips discoverability and returns the new value.
func (c *Chain) TogglePublic() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.public = !c.public
	return c.public
}

// MarkAnonymous suppresses author attribution from all future renders.
// The flag is one-way: marking an already anonymous chain is a no-op.
func (c *Chain) MarkAnonymous() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.anonymous = true
}

// End sets the terminal flag. Idempotent; the flag never reverts.
func (c *Chain) End() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ended = true
}

// Ended reports the terminal flag.
func (c *Chain) Ended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}

// IsPublic reports whether the chain is discoverable by non-creators.
func (c *Chain) IsPublic() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.public
}

// IsAnonymous reports whether attribution is suppressed.
func (c *Chain) IsAnonymous() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.anonymous
}

// AddSharedSurface appends an external message reference. Duplicates are
// kept as-is; exactly-once fan-out is the caller's concern.
func (c *Chain) AddSharedSurface(ref string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sharedSurfaces = append(c.sharedSurfaces, ref)
}

// SharedSurfaces returns a copy of the registered surface references in
// registration order.
func (c *Chain) SharedSurfaces() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sharedSurfaces...)
}

// LastUpdated returns the most recent mutation timestamp (ns).
func (c *Chain) LastUpdated() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUpdatedTS
}

// PrevUpdated returns the second most recent mutation timestamp (ns).
func (c *Chain) PrevUpdated() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prevUpdatedTS
}

// touch shifts lastUpdated into prevUpdated and stamps now. Callers hold
// the lock.
func (c *Chain) touch() {
	c.prevUpdatedTS = c.lastUpdatedTS
	c.lastUpdatedTS = time.Now().UTC().UnixNano()
	if c.lastUpdatedTS < c.prevUpdatedTS {
		// clock went backwards; keep the ordering invariant
		c.lastUpdatedTS = c.prevUpdatedTS
	}
}
