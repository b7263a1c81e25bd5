package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"chainbot/pkg/chain"
	"chainbot/pkg/models"
	"chainbot/pkg/persist"
	"chainbot/pkg/registry"
	"chainbot/pkg/store"
)

type fakeSweeper struct{ runs int }

func (f *fakeSweeper) RunOnce(context.Context) { f.runs++ }

func newTestServer(t *testing.T) (*Server, *registry.Registry, *fakeSweeper) {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	reg := registry.New()
	fs := &fakeSweeper{}
	return &Server{Reg: reg, Queue: persist.NewQueue(4, 0), Sweeper: fs, Version: "test"}, reg, fs
}

func TestHealthAndReady(t *testing.T) {
	s, _, _ := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s: status %d", path, resp.StatusCode)
		}
	}
}

func TestListChainsVisibility(t *testing.T) {
	s, reg, _ := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	owner := models.Identity{ID: 1, FirstName: "Ann", Username: "ann"}
	other := models.Identity{ID: 2, FirstName: "Bo", Username: "bo"}

	mine := chain.New(owner, "go meetup", models.ChainID(-1, 1))
	reg.Add(mine)
	private := chain.New(other, "go meetup private", models.ChainID(-1, 2))
	reg.Add(private)
	pub := chain.New(other, "go meetup public", models.ChainID(-1, 3))
	pub.TogglePublic()
	reg.Add(pub)

	resp, err := http.Get(srv.URL + "/v1/chains?q=meetup&requester=1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Chains []models.ChainSnapshot `json:"chains"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Chains) != 2 {
		t.Fatalf("expected own + public = 2 chains, got %d", len(body.Chains))
	}
	for _, c := range body.Chains {
		if c.ID == private.ID() {
			t.Fatal("foreign private chain leaked")
		}
	}
}

func TestListChainsRequiresRequester(t *testing.T) {
	s, _, _ := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/chains?q=x")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestGetChain(t *testing.T) {
	s, reg, _ := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	id := models.ChainID(-1, 9)
	reg.Add(chain.New(models.Identity{ID: 1, FirstName: "Ann"}, "topic", id))

	resp, err := http.Get(srv.URL + "/v1/chains/" + id)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var snap models.ChainSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.ID != id || snap.Title != "topic" {
		t.Fatalf("wrong snapshot: %+v", snap)
	}

	resp2, err := http.Get(srv.URL + "/v1/chains/missing")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp2.StatusCode)
	}
}

func TestAdminStatsAndSweep(t *testing.T) {
	s, reg, fs := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	c := chain.New(models.Identity{ID: 1, FirstName: "Ann"}, "t", models.ChainID(-1, 1))
	if err := c.UpsertReply(2, "hi", "Bo", "bo"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	reg.Add(c)

	resp, err := http.Get(srv.URL + "/admin/stats")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var stats map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats["active_chains"].(float64) != 1 || stats["replies"].(float64) != 1 {
		t.Fatalf("wrong stats: %v", stats)
	}
	if _, ok := stats["store"].(map[string]any); !ok {
		t.Fatalf("store stats missing from response: %v", stats)
	}

	resp2, err := http.Post(srv.URL+"/admin/sweep", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK || fs.runs != 1 {
		t.Fatalf("sweep not triggered: status %d runs %d", resp2.StatusCode, fs.runs)
	}
}
