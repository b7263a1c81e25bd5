package registry

import (
	"errors"
	"testing"
	"time"

	"chainbot/pkg/chain"
	"chainbot/pkg/models"
)

func newChain(t *testing.T, creatorID int64, title, id string) *chain.Chain {
	t.Helper()
	return chain.New(models.Identity{ID: creatorID, FirstName: "U", Username: "u"}, title, id)
}

func TestAddFindRemove(t *testing.T) {
	r := New()
	c := newChain(t, 1, "t", models.ChainID(10, 20))
	r.Add(c)

	got, err := r.FindByID(c.ID())
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got != c {
		t.Fatal("find returned a different chain")
	}

	r.Remove(c.ID())
	if _, err := r.FindByID(c.ID()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after remove, got %v", err)
	}
	r.Remove(c.ID()) // no-op
}

func TestLoadRestoresWorkingSet(t *testing.T) {
	r := New()
	c := newChain(t, 1, "t", models.ChainID(10, 20))
	if err := c.UpsertReply(5, "hi", "Ann", "ann"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	snaps := []models.ChainSnapshot{c.Snapshot(), {}} // empty id skipped

	r.Load(snaps)
	if r.Len() != 1 {
		t.Fatalf("len = %d, want 1", r.Len())
	}
	got, err := r.FindByID(c.ID())
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !got.HasReply(5) {
		t.Fatal("loaded chain lost its reply")
	}
}

func TestLoadSkipsEndedSnapshots(t *testing.T) {
	r := New()
	live := newChain(t, 1, "lunch places", models.ChainID(10, 20))
	done := newChain(t, 1, "lunch history", models.ChainID(11, 21))
	done.End()

	r.Load([]models.ChainSnapshot{live.Snapshot(), done.Snapshot()})
	if r.Len() != 1 {
		t.Fatalf("len = %d, want 1", r.Len())
	}
	if _, err := r.FindByID(done.ID()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ended snapshot rehydrated into the working set: %v", err)
	}
	for _, c := range r.Search("lunch", 1) {
		if c.ID() == done.ID() {
			t.Fatal("ended chain discoverable via search")
		}
	}
}

func TestSweepFinalizesStaleChains(t *testing.T) {
	r := New()
	c := newChain(t, 1, "stale", models.ChainID(10, 20))
	if err := c.UpsertReply(5, "hi", "Ann", "ann"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	r.Add(c)

	window := 7 * 24 * time.Hour
	future := func() time.Time {
		return time.Unix(0, c.LastUpdated()).Add(8 * 24 * time.Hour)
	}

	finalized, dropped := r.Sweep(window, future)
	if len(finalized) != 1 || finalized[0] != c {
		t.Fatalf("finalized = %v, want the stale chain", finalized)
	}
	if len(dropped) != 0 {
		t.Fatalf("dropped = %v, want none", dropped)
	}
	if !c.Ended() {
		t.Fatal("stale chain not ended by sweep")
	}
	if _, err := r.FindByID(c.ID()); !errors.Is(err, ErrNotFound) {
		t.Fatal("stale chain still in working set")
	}

	// Idempotent: nothing left to do.
	finalized, dropped = r.Sweep(window, future)
	if len(finalized) != 0 || len(dropped) != 0 {
		t.Fatalf("second sweep finalized=%v dropped=%v, want none", finalized, dropped)
	}
}

func TestSweepKeepsFreshChains(t *testing.T) {
	r := New()
	c := newChain(t, 1, "fresh", models.ChainID(10, 20))
	r.Add(c)

	finalized, dropped := r.Sweep(7*24*time.Hour, time.Now)
	if len(finalized) != 0 || len(dropped) != 0 {
		t.Fatalf("sweep touched a fresh chain: finalized=%v dropped=%v", finalized, dropped)
	}
	if _, err := r.FindByID(c.ID()); err != nil {
		t.Fatalf("fresh chain missing after sweep: %v", err)
	}
}

func TestSweepDropsEndedChains(t *testing.T) {
	r := New()
	c := newChain(t, 1, "done", models.ChainID(10, 20))
	c.End()
	r.Add(c)

	finalized, dropped := r.Sweep(7*24*time.Hour, time.Now)
	if len(finalized) != 0 {
		t.Fatalf("ended chain finalized again: %v", finalized)
	}
	if len(dropped) != 1 || dropped[0] != c.ID() {
		t.Fatalf("dropped = %v, want [%s]", dropped, c.ID())
	}
}

func TestSearchVisibilityAndOrder(t *testing.T) {
	r := New()

	mine := newChain(t, 1, "lunch places", models.ChainID(1, 1))
	r.Add(mine)

	private := newChain(t, 2, "lunch secrets", models.ChainID(2, 1))
	r.Add(private)

	public := newChain(t, 2, "lunch votes", models.ChainID(3, 1))
	public.TogglePublic()
	// Mutate so the public chain sorts first.
	if err := public.UpsertReply(9, "x", "U", "u"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	r.Add(public)

	got := r.Search("lunch", 1)
	if len(got) != 2 {
		t.Fatalf("search returned %d chains, want 2", len(got))
	}
	if got[0] != public || got[1] != mine {
		t.Fatalf("search order wrong: %s, %s", got[0].ID(), got[1].ID())
	}
	if n := len(r.Search("dinner", 1)); n != 0 {
		t.Fatalf("expected no matches for unrelated query, got %d", n)
	}
}

func TestSearchCap(t *testing.T) {
	r := New()
	for i := 0; i < MaxSearchResults+10; i++ {
		c := newChain(t, 1, "topic", models.ChainID(int64(i), 1))
		r.Add(c)
	}
	if got := len(r.Search("topic", 1)); got != MaxSearchResults {
		t.Fatalf("search returned %d results, want cap %d", got, MaxSearchResults)
	}
}

func TestSnapshotsDeterministicOrder(t *testing.T) {
	r := New()
	for i := 5; i > 0; i-- {
		r.Add(newChain(t, 1, "t", models.ChainID(int64(i), 1)))
	}
	snaps := r.Snapshots()
	if len(snaps) != 5 {
		t.Fatalf("len = %d, want 5", len(snaps))
	}
	for i := 1; i < len(snaps); i++ {
		if snaps[i-1].ID >= snaps[i].ID {
			t.Fatalf("snapshots not ordered: %s >= %s", snaps[i-1].ID, snaps[i].ID)
		}
	}
}
