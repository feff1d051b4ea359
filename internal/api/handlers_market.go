package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"whalescope/internal/models"
)

func (s *Server) handleSpotPrice(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(mux.Vars(r)["symbol"])

	price, err := s.oracle.Spot(r.Context(), symbol)
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":    symbol,
		"price_usd": price,
	})
}

func (s *Server) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(mux.Vars(r)["symbol"])
	q := r.URL.Query()

	to := time.Now().UTC()
	from := to.Add(-30 * 24 * time.Hour)
	if v := q.Get("from"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			from = ts
		}
	}
	if v := q.Get("to"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			to = ts
		}
	}
	if !from.Before(to) {
		respondError(w, http.StatusBadRequest, "from must precede to")
		return
	}

	series, err := s.oracle.Series(r.Context(), symbol, from, to)
	if err != nil {
		respondFault(w, err)
		return
	}
	if series == nil {
		series = []models.PricePoint{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"symbol": symbol,
		"points": series,
	})
}
