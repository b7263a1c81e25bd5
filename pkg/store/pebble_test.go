package store

import (
	"path/filepath"
	"reflect"
	"testing"

	"chainbot/pkg/chain"
	"chainbot/pkg/models"
)

func openTestStore(t *testing.T) {
	t.Helper()
	if err := Open(filepath.Join(t.TempDir(), "db")); err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = Close() })
}

func TestSaveAndLoadChains(t *testing.T) {
	openTestStore(t)

	c := chain.New(models.Identity{ID: 1, FirstName: "Maya", Username: "maya"},
		"Lunch spot", models.ChainID(10, 20))
	if err := c.UpsertReply(5, "Sushi", "Ann", "ann"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	c.AddSharedSurface("inline-1")
	want := c.Snapshot()

	if err := SaveChains([]models.ChainSnapshot{want}); err != nil {
		t.Fatalf("SaveChains: %v", err)
	}

	got, err := GetChain(want.ID)
	if err != nil {
		t.Fatalf("GetChain: %v", err)
	}
	if !reflect.DeepEqual(want, got) {
		t.Fatalf("persisted snapshot mismatch:\n want %+v\n got  %+v", want, got)
	}

	all, err := LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(all) != 1 || !reflect.DeepEqual(all[0], want) {
		t.Fatalf("LoadAll = %+v, want one snapshot %+v", all, want)
	}
}

func TestSaveChainOverwrites(t *testing.T) {
	openTestStore(t)

	c := chain.New(models.Identity{ID: 1, FirstName: "Maya"}, "t", models.ChainID(1, 2))
	if err := SaveChain(c.Snapshot()); err != nil {
		t.Fatalf("SaveChain: %v", err)
	}
	c.End()
	if err := SaveChain(c.Snapshot()); err != nil {
		t.Fatalf("SaveChain: %v", err)
	}
	got, err := GetChain(c.ID())
	if err != nil {
		t.Fatalf("GetChain: %v", err)
	}
	if !got.Ended {
		t.Fatal("second save did not overwrite the record")
	}
}

func TestLoadAllSkipsCorruptRecords(t *testing.T) {
	openTestStore(t)

	good := chain.New(models.Identity{ID: 1, FirstName: "Maya"}, "t", models.ChainID(1, 2))
	if err := SaveChain(good.Snapshot()); err != nil {
		t.Fatalf("SaveChain: %v", err)
	}
	// Write garbage under the chain prefix directly.
	if err := db.Set([]byte(chainPrefix+"broken"), []byte("{not json"), nil); err != nil {
		t.Fatalf("set corrupt record: %v", err)
	}

	all, err := LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(all) != 1 || all[0].ID != good.ID() {
		t.Fatalf("LoadAll = %+v, want just the good record", all)
	}
}

func TestMetaRoundTrip(t *testing.T) {
	openTestStore(t)

	if err := SaveMeta("update_offset", []byte("12345")); err != nil {
		t.Fatalf("SaveMeta: %v", err)
	}
	got, err := GetMeta("update_offset")
	if err != nil {
		t.Fatalf("GetMeta: %v", err)
	}
	if string(got) != "12345" {
		t.Fatalf("meta = %q, want 12345", got)
	}
}
