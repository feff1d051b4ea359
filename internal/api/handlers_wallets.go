package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"whalescope/internal/faults"
	"whalescope/internal/models"
	"whalescope/internal/repository"
)

func (s *Server) walletFromPath(r *http.Request) (*models.Whale, error) {
	vars := mux.Vars(r)
	return s.repo.GetWhaleByAddress(r.Context(), vars["chain"], vars["address"])
}

func (s *Server) handleWalletDetail(w http.ResponseWriter, r *http.Request) {
	whale, err := s.walletFromPath(r)
	if err != nil {
		respondFault(w, err)
		return
	}

	metrics, err := s.repo.GetCurrent(r.Context(), whale.ID)
	if err != nil && !errors.Is(err, faults.ErrNotFound) {
		respondFault(w, err)
		return
	}
	holdings, err := s.repo.ListHoldings(r.Context(), whale.ID)
	if err != nil {
		respondFault(w, err)
		return
	}
	if holdings == nil {
		holdings = []models.Holding{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"wallet":   whale,
		"metrics":  metrics,
		"holdings": holdings,
		"notes":    whale.Labels,
	})
}

func (s *Server) handleROIHistory(w http.ResponseWriter, r *http.Request) {
	whale, err := s.walletFromPath(r)
	if err != nil {
		respondFault(w, err)
		return
	}

	series, err := s.dailySeriesRebuilding(r, whale.ID)
	if err != nil {
		respondFault(w, err)
		return
	}

	points := make([]map[string]interface{}, 0, len(series))
	for _, row := range series {
		points = append(points, map[string]interface{}{
			"timestamp":   row.Date.UTC().Format(time.RFC3339),
			"roi_percent": row.ROIPercent,
		})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"points": points})
}

func (s *Server) handlePortfolioHistory(w http.ResponseWriter, r *http.Request) {
	whale, err := s.walletFromPath(r)
	if err != nil {
		respondFault(w, err)
		return
	}

	series, err := s.dailySeriesRebuilding(r, whale.ID)
	if err != nil {
		respondFault(w, err)
		return
	}

	points := make([]map[string]interface{}, 0, len(series))
	for _, row := range series {
		points = append(points, map[string]interface{}{
			"timestamp": row.Date.UTC().Format(time.RFC3339),
			"value_usd": row.PortfolioValueUSD,
		})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"points": points})
}

// dailySeriesRebuilding serves the daily series, rebuilding on demand
// when it is empty so a freshly ingested whale never shows a blank
// chart.
func (s *Server) dailySeriesRebuilding(r *http.Request, whaleID string) ([]models.WalletMetricsDaily, error) {
	days := queryInt(r, "days", 0)

	series, err := s.repo.GetDailySeries(r.Context(), whaleID, days)
	if err != nil {
		return nil, err
	}
	if len(series) > 0 {
		return series, nil
	}

	if err := s.engine.EnsureHistory(r.Context(), whaleID); err != nil {
		log.Warn().Err(err).Str("whale", whaleID).Msg("on-demand rebuild failed")
		return []models.WalletMetricsDaily{}, nil
	}
	series, err = s.repo.GetDailySeries(r.Context(), whaleID, days)
	if err != nil {
		return nil, err
	}
	return series, nil
}

func (s *Server) handleWalletTrades(w http.ResponseWriter, r *http.Request) {
	whale, err := s.walletFromPath(r)
	if err != nil {
		respondFault(w, err)
		return
	}

	q := r.URL.Query()
	filter := repository.TradeFilter{
		Source:    q.Get("source"),
		Direction: q.Get("direction"),
	}

	trades, nextCursor, total, err := s.repo.QueryTrades(r.Context(), whale.ID, filter,
		q.Get("cursor"), queryInt(r, "limit", 50))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if trades == nil {
		trades = []models.Trade{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items":       trades,
		"next_cursor": nextCursor,
		"total":       total,
	})
}

func (s *Server) handleWalletPositions(w http.ResponseWriter, r *http.Request) {
	whale, err := s.walletFromPath(r)
	if err != nil {
		respondFault(w, err)
		return
	}
	if whale.ChainSlug != models.ChainPerp {
		respondJSON(w, http.StatusOK, map[string]interface{}{"positions": []models.Holding{}})
		return
	}

	holdings, err := s.repo.ListHoldings(r.Context(), whale.ID)
	if err != nil {
		respondFault(w, err)
		return
	}
	if holdings == nil {
		holdings = []models.Holding{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"positions": holdings})
}
