package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"whalescope/internal/copier"
	"whalescope/internal/models"
)

type backtestRequest struct {
	WhaleID           string   `json:"whale_id,omitempty"`
	Chain             string   `json:"chain,omitempty"`
	Address           string   `json:"address,omitempty"`
	InitialDepositUSD float64  `json:"initial_deposit_usd"`
	PositionPct       float64  `json:"position_size_pct,omitempty"`
	FeeBps            float64  `json:"fee_bps,omitempty"`
	SlippageBps       float64  `json:"slippage_bps,omitempty"`
	Leverage          float64  `json:"leverage,omitempty"`
	Assets            []string `json:"asset_symbols,omitempty"`
	From              string   `json:"from,omitempty"`
	To                string   `json:"to,omitempty"`
}

// resolveWhale accepts either a whale id or a chain/address pair.
func (s *Server) resolveWhale(r *http.Request, whaleID, chain, address string) (*models.Whale, error) {
	if whaleID != "" {
		return s.repo.GetWhale(r.Context(), whaleID)
	}
	return s.repo.GetWhaleByAddress(r.Context(), chain, address)
}

func (s *Server) handleCopierBacktest(w http.ResponseWriter, r *http.Request) {
	var req backtestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.WhaleID == "" && (req.Chain == "" || req.Address == "") {
		respondError(w, http.StatusBadRequest, "whale_id or chain/address is required")
		return
	}
	if req.InitialDepositUSD <= 0 {
		respondError(w, http.StatusBadRequest, "initial_deposit_usd must be positive")
		return
	}

	whale, err := s.resolveWhale(r, req.WhaleID, req.Chain, req.Address)
	if err != nil {
		respondFault(w, err)
		return
	}

	run := copier.BacktestRequest{
		WhaleID:           whale.ID,
		InitialDepositUSD: req.InitialDepositUSD,
		PositionPct:       req.PositionPct,
		FeeBps:            req.FeeBps,
		SlippageBps:       req.SlippageBps,
		Leverage:          req.Leverage,
		Assets:            req.Assets,
	}
	if req.From != "" {
		if ts, err := time.Parse(time.RFC3339, req.From); err == nil {
			run.From = ts
		}
	}
	if req.To != "" {
		if ts, err := time.Parse(time.RFC3339, req.To); err == nil {
			run.To = ts
		}
	}

	result, err := s.backtester.Run(r.Context(), run)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.repo.SaveBacktestRun(r.Context(), &result.Summary); err != nil {
		log.Warn().Err(err).Str("whale", whale.ID).Msg("failed to persist backtest run")
	}

	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleBacktestAssets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	whale, err := s.resolveWhale(r, q.Get("whale_id"), q.Get("chain"), q.Get("address"))
	if err != nil {
		respondFault(w, err)
		return
	}
	assets, err := s.repo.DistinctAssets(r.Context(), whale.ID)
	if err != nil {
		respondFault(w, err)
		return
	}
	if assets == nil {
		assets = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"assets": assets})
}

type liveStartRequest struct {
	WhaleID           string   `json:"whale_id,omitempty"`
	Chain             string   `json:"chain,omitempty"`
	Address           string   `json:"address,omitempty"`
	RunID             *int64   `json:"run_id,omitempty"`
	PositionPct       *float64 `json:"position_size_pct,omitempty"`
	FeeBps            *float64 `json:"fee_bps,omitempty"`
	SlippageBps       *float64 `json:"slippage_bps,omitempty"`
	Leverage          *float64 `json:"leverage,omitempty"`
	InitialDepositUSD *float64 `json:"initial_deposit_usd,omitempty"`
}

func (s *Server) handleLiveStart(w http.ResponseWriter, r *http.Request) {
	var req liveStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.WhaleID == "" && (req.Chain == "" || req.Address == "") {
		respondError(w, http.StatusBadRequest, "whale_id or chain/address is required")
		return
	}

	whale, err := s.resolveWhale(r, req.WhaleID, req.Chain, req.Address)
	if err != nil {
		respondFault(w, err)
		return
	}

	params := copier.SessionParams{RunID: req.RunID}
	if req.RunID != nil {
		// Inherit the sizing and cost model from the referenced
		// backtest run; explicit request fields still win below.
		runs, err := s.repo.ListBacktestRuns(r.Context(), whale.ID, 100)
		if err == nil {
			for _, run := range runs {
				if run.ID == *req.RunID {
					params.PositionPct = run.PositionSizePct
					params.FeeBps = run.FeeBps
					params.SlippageBps = run.SlippageBps
					params.Leverage = run.Leverage
					params.InitialDepositUSD = run.InitialDepositUSD
					break
				}
			}
		}
	}
	if req.PositionPct != nil {
		params.PositionPct = *req.PositionPct
	}
	if req.FeeBps != nil {
		params.FeeBps = *req.FeeBps
	}
	if req.SlippageBps != nil {
		params.SlippageBps = *req.SlippageBps
	}
	if req.Leverage != nil {
		params.Leverage = *req.Leverage
	}
	if req.InitialDepositUSD != nil {
		params.InitialDepositUSD = *req.InitialDepositUSD
	}

	session, err := s.sessions.Start(r.Context(), whale, params)
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, session)
}

func (s *Server) handleLiveStop(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	session, err := s.sessions.Stop(r.Context(), sessionID)
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

func (s *Server) handleLiveStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	session, err := s.sessions.Status(r.Context(), sessionID)
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

func (s *Server) handleLiveActive(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	whaleID := q.Get("whale_id")
	if whaleID == "" && q.Get("address") != "" {
		whale, err := s.resolveWhale(r, "", q.Get("chain"), q.Get("address"))
		if err != nil {
			respondFault(w, err)
			return
		}
		whaleID = whale.ID
	}

	sessions, err := s.sessions.ListActive(r.Context(), whaleID)
	if err != nil {
		respondFault(w, err)
		return
	}
	if sessions == nil {
		sessions = []models.CopierSession{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func (s *Server) handleLiveTrades(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	whale, err := s.resolveWhale(r, q.Get("whale_id"), q.Get("chain"), q.Get("address"))
	if err != nil {
		respondFault(w, err)
		return
	}

	since := time.Now().UTC().Add(-24 * time.Hour)
	if v := q.Get("since"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			since = ts
		}
	}

	trades, err := s.repo.ListTradesSince(r.Context(), whale.ID, since, queryInt(r, "limit", 100))
	if err != nil {
		respondFault(w, err)
		return
	}
	if trades == nil {
		trades = []models.Trade{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"items": trades})
}
