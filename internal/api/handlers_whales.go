package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"whalescope/internal/faults"
	"whalescope/internal/models"
	"whalescope/internal/repository"
)

func (s *Server) handleDashboardSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.repo.GetDashboardSummary(r.Context())
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handleListWhales(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := repository.WhaleFilter{
		Chain:   q.Get("chain"),
		Type:    q.Get("type"),
		Search:  q.Get("search"),
		SortBy:  q.Get("sortBy"),
		SortDir: q.Get("sortDir"),
		Limit:   queryInt(r, "limit", 50),
		Offset:  queryInt(r, "offset", 0),
	}
	if v := q.Get("minRoi"); v != "" {
		minROI := queryFloat(r, "minRoi", 0)
		f.MinROI = &minROI
	}
	if v := q.Get("activityWindow"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			f.ActivityWindow = d
		} else if days := queryInt(r, "activityWindow", 0); days > 0 {
			f.ActivityWindow = time.Duration(days) * 24 * time.Hour
		}
	}

	items, total, err := s.repo.ListWhales(r.Context(), f)
	if err != nil {
		respondFault(w, err)
		return
	}
	if items == nil {
		items = []repository.WhaleSummary{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"items": items, "total": total})
}

func (s *Server) handleTopWhales(w http.ResponseWriter, r *http.Request) {
	items, _, err := s.repo.ListWhales(r.Context(), repository.WhaleFilter{
		SortBy:  "roi",
		SortDir: "desc",
		Limit:   queryInt(r, "limit", 10),
	})
	if err != nil {
		respondFault(w, err)
		return
	}
	if items == nil {
		items = []repository.WhaleSummary{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

type createWhaleRequest struct {
	Chain   string   `json:"chain"`
	Address string   `json:"address"`
	Labels  []string `json:"labels,omitempty"`
	Type    string   `json:"type,omitempty"`
}

func (s *Server) handleCreateWhale(w http.ResponseWriter, r *http.Request) {
	var req createWhaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Address = strings.TrimSpace(req.Address)
	if req.Chain == "" || req.Address == "" {
		respondError(w, http.StatusBadRequest, "chain and address are required")
		return
	}

	// Perp accounts get the label up front so the UI can badge them
	// before the first classifier pass.
	if req.Chain == models.ChainPerp && !contains(req.Labels, "perp") {
		req.Labels = append(req.Labels, "perp")
	}

	whale, err := s.repo.CreateWhale(r.Context(), req.Chain, req.Address, req.Labels, req.Type)
	if err != nil {
		respondFault(w, err)
		return
	}

	if _, err := s.orchestrator.StartBackfill(r.Context(), whale); err != nil {
		log.Warn().Err(err).Str("whale", whale.ID).Msg("failed to start initial backfill")
	}

	respondJSON(w, http.StatusCreated, repository.WhaleSummary{Whale: *whale})
}

type updateWhaleRequest struct {
	Labels []string `json:"labels,omitempty"`
	Type   *string  `json:"type,omitempty"`
}

func (s *Server) handleUpdateWhale(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req updateWhaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	whale, err := s.repo.UpdateWhale(r.Context(), id, req.Labels, req.Type)
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusOK, whale)
}

func (s *Server) handleDeleteWhale(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.sessions.StopForWhale(r.Context(), id)
	if err := s.repo.DeleteWhale(r.Context(), id); err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"detail": "deleted"})
}

func (s *Server) handleAddWhaleLabel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req struct {
		Label string `json:"label"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Label == "" {
		respondError(w, http.StatusBadRequest, "label is required")
		return
	}

	if err := s.repo.AddWhaleLabel(r.Context(), id, req.Label); err != nil {
		respondFault(w, err)
		return
	}
	whale, err := s.repo.GetWhale(r.Context(), id)
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusOK, whale)
}

func (s *Server) handleBackfillStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if _, err := s.repo.GetWhale(r.Context(), id); err != nil {
		respondFault(w, err)
		return
	}
	status, err := s.orchestrator.GetStatus(r.Context(), id)
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleStartBackfill(w http.ResponseWriter, r *http.Request) {
	s.startJob(w, r, false)
}

func (s *Server) handleResetPerp(w http.ResponseWriter, r *http.Request) {
	s.startJob(w, r, true)
}

func (s *Server) startJob(w http.ResponseWriter, r *http.Request, reset bool) {
	id := mux.Vars(r)["id"]

	whale, err := s.repo.GetWhale(r.Context(), id)
	if err != nil {
		respondFault(w, err)
		return
	}

	var status models.BackfillStatus
	if reset {
		status, err = s.orchestrator.StartReset(r.Context(), whale)
	} else {
		status, err = s.orchestrator.StartBackfill(r.Context(), whale)
	}
	if err != nil {
		if errors.Is(err, faults.ErrNotFound) {
			respondFault(w, err)
			return
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, status)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
