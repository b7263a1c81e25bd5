// Package api exposes the admin and discovery HTTP surface: health,
// stats, a manual sweep trigger, and read-only chain lookup mirroring
// the inline-query contract.
package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"chainbot/pkg/logger"
	"chainbot/pkg/models"
	"chainbot/pkg/persist"
	"chainbot/pkg/registry"
	"chainbot/pkg/store"
	"chainbot/pkg/utils"
)

// SweepRunner triggers one retention pass on demand.
type SweepRunner interface {
	RunOnce(ctx context.Context)
}

// Server bundles the handles the HTTP surface reads from.
type Server struct {
	Reg     *registry.Registry
	Queue   *persist.Queue
	Sweeper SweepRunner
	Version string
}

// Router builds the gorilla router with all routes registered.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.readyz).Methods(http.MethodGet)
	r.HandleFunc("/v1/chains", s.listChains).Methods(http.MethodGet)
	r.HandleFunc("/v1/chains/{id}", s.getChain).Methods(http.MethodGet)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/stats", s.adminStats).Methods(http.MethodGet)
	admin.HandleFunc("/sweep", s.adminSweep).Methods(http.MethodPost)
	logger.Info("api_routes_registered")
	return r
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok","service":"chainbot"}`))
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !store.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"not ready"}`))
		return
	}
	ver := s.Version
	if ver == "" {
		ver = "dev"
	}
	_, _ = w.Write([]byte(`{"status":"ok","version":"` + ver + `"}`))
}

// listChains mirrors the inline-query lookup: title substring over chains
// the requester owns or that are public, most recently mutated first,
// capped at the registry limit.
func (s *Server) listChains(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	requester, err := strconv.ParseInt(r.URL.Query().Get("requester"), 10, 64)
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, "requester must be a numeric user id")
		return
	}

	matches := s.Reg.Search(q, requester)
	out := make([]models.ChainSnapshot, 0, len(matches))
	for _, c := range matches {
		out = append(out, c.Snapshot())
	}
	_ = utils.JSONWrite(w, 0, struct {
		Chains []models.ChainSnapshot `json:"chains"`
	}{Chains: out})
}

func (s *Server) getChain(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	c, err := s.Reg.FindByID(id)
	if err != nil {
		utils.JSONError(w, http.StatusNotFound, "chain not found")
		return
	}
	_ = utils.JSONWrite(w, 0, c.Snapshot())
}

func (s *Server) adminStats(w http.ResponseWriter, _ *http.Request) {
	replies := 0
	for _, snap := range s.Reg.Snapshots() {
		replies += len(snap.Order)
	}
	enqueued, dropped, applied, failed, depth := s.Queue.Stats()
	st := store.GetStats()

	_ = utils.JSONWrite(w, 0, map[string]any{
		"active_chains": s.Reg.Len(),
		"replies":       replies,
		"persist": map[string]any{
			"enqueued": enqueued,
			"dropped":  dropped,
			"applied":  applied,
			"failed":   failed,
			"depth":    depth,
		},
		"store": st,
	})
}

func (s *Server) adminSweep(w http.ResponseWriter, r *http.Request) {
	if s.Sweeper == nil {
		utils.JSONError(w, http.StatusServiceUnavailable, "sweeper not configured")
		return
	}
	s.Sweeper.RunOnce(r.Context())
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"sweep completed"}`))
}
