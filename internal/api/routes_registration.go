package api

import "github.com/gorilla/mux"

func registerBaseRoutes(r *mux.Router, s *Server) {
	r.HandleFunc("/health", s.handleHealth).Methods("GET", "OPTIONS")
	r.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
}

func registerDashboardRoutes(r *mux.Router, s *Server) {
	r.HandleFunc("/dashboard/summary", s.handleDashboardSummary).Methods("GET", "OPTIONS")
}

func registerWhaleRoutes(r *mux.Router, s *Server) {
	r.HandleFunc("/whales", s.handleListWhales).Methods("GET", "OPTIONS")
	r.HandleFunc("/whales", s.adminOnly(s.handleCreateWhale)).Methods("POST", "OPTIONS")
	r.HandleFunc("/whales/top", s.handleTopWhales).Methods("GET", "OPTIONS")
	r.HandleFunc("/whales/{id}", s.adminOnly(s.handleUpdateWhale)).Methods("PATCH", "OPTIONS")
	r.HandleFunc("/whales/{id}", s.adminOnly(s.handleDeleteWhale)).Methods("DELETE", "OPTIONS")
	r.HandleFunc("/whales/{id}/labels", s.adminOnly(s.handleAddWhaleLabel)).Methods("POST", "OPTIONS")
	r.HandleFunc("/whales/{id}/backfill_status", s.handleBackfillStatus).Methods("GET", "OPTIONS")
	r.HandleFunc("/whales/{id}/backfill", s.adminOnly(s.handleStartBackfill)).Methods("POST", "OPTIONS")
	r.HandleFunc("/whales/{id}/reset_hyperliquid", s.adminOnly(s.handleResetPerp)).Methods("POST", "OPTIONS")
}

func registerWalletRoutes(r *mux.Router, s *Server) {
	r.HandleFunc("/wallets/{chain}/{address}", s.handleWalletDetail).Methods("GET", "OPTIONS")
	r.HandleFunc("/wallets/{chain}/{address}/roi-history", s.handleROIHistory).Methods("GET", "OPTIONS")
	r.HandleFunc("/wallets/{chain}/{address}/portfolio-history", s.handlePortfolioHistory).Methods("GET", "OPTIONS")
	r.HandleFunc("/wallets/{chain}/{address}/trades", s.handleWalletTrades).Methods("GET", "OPTIONS")
	r.HandleFunc("/wallets/{chain}/{address}/positions", s.handleWalletPositions).Methods("GET", "OPTIONS")
}

func registerMarketRoutes(r *mux.Router, s *Server) {
	r.HandleFunc("/prices/{symbol}", s.handleSpotPrice).Methods("GET", "OPTIONS")
	r.HandleFunc("/prices/{symbol}/history", s.handlePriceHistory).Methods("GET", "OPTIONS")
}

func registerEventRoutes(r *mux.Router, s *Server) {
	r.HandleFunc("/events/recent", s.handleRecentEvents).Methods("GET", "OPTIONS")
	r.HandleFunc("/events/live", s.handleRecentEvents).Methods("GET", "OPTIONS")
	r.HandleFunc("/events/ws/live", s.handleLiveWebSocket).Methods("GET", "OPTIONS")
}

func registerBacktestRoutes(r *mux.Router, s *Server) {
	r.HandleFunc("/backtest/copier", s.handleCopierBacktest).Methods("POST", "OPTIONS")
	r.HandleFunc("/backtest/assets", s.handleBacktestAssets).Methods("GET", "OPTIONS")
	r.HandleFunc("/backtest/live/start", s.handleLiveStart).Methods("POST", "OPTIONS")
	r.HandleFunc("/backtest/live/stop", s.handleLiveStop).Methods("POST", "OPTIONS")
	r.HandleFunc("/backtest/live/status", s.handleLiveStatus).Methods("GET", "OPTIONS")
	r.HandleFunc("/backtest/live/active", s.handleLiveActive).Methods("GET", "OPTIONS")
	r.HandleFunc("/backtest/live-trades", s.handleLiveTrades).Methods("GET", "OPTIONS")
}
