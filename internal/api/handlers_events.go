package api

import (
	"net/http"
	"time"

	"whalescope/internal/models"
	"whalescope/internal/repository"
)

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := repository.EventFilter{
		Chain:       q.Get("chain"),
		Type:        q.Get("type"),
		MinValueUSD: queryFloat(r, "minValueUsd", 0),
	}
	if v := q.Get("sinceHours"); v != "" {
		if hours := queryInt(r, "sinceHours", 0); hours > 0 {
			f.Since = time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
		}
	}

	events, err := s.repo.RecentEvents(r.Context(), f, queryInt(r, "limit", 50))
	if err != nil {
		respondFault(w, err)
		return
	}
	if events == nil {
		events = []models.LiveEvent{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"items": events})
}
