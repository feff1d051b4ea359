package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"whalescope/internal/analytics"
	"whalescope/internal/backfill"
	"whalescope/internal/broadcast"
	"whalescope/internal/config"
	"whalescope/internal/copier"
	"whalescope/internal/market"
	"whalescope/internal/repository"
)

type Server struct {
	repo         *repository.Repository
	oracle       *market.Oracle
	engine       *analytics.Engine
	orchestrator *backfill.Orchestrator
	backtester   *copier.Backtester
	sessions     *copier.Manager
	hub          *broadcast.Hub
	cfg          *config.Config
	limiter      *ipLimiter
	httpServer   *http.Server
}

func NewServer(
	repo *repository.Repository,
	oracle *market.Oracle,
	engine *analytics.Engine,
	orchestrator *backfill.Orchestrator,
	backtester *copier.Backtester,
	sessions *copier.Manager,
	hub *broadcast.Hub,
	cfg *config.Config,
) *Server {
	s := &Server{
		repo:         repo,
		oracle:       oracle,
		engine:       engine,
		orchestrator: orchestrator,
		backtester:   backtester,
		sessions:     sessions,
		hub:          hub,
		cfg:          cfg,
		limiter:      newIPLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.RateLimitTTL),
	}

	r := mux.NewRouter()
	r.Use(commonMiddleware)
	r.Use(s.rateLimit)

	registerBaseRoutes(r, s)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	registerDashboardRoutes(v1, s)
	registerWhaleRoutes(v1, s)
	registerWalletRoutes(v1, s)
	registerMarketRoutes(v1, s)
	registerEventRoutes(v1, s)
	registerBacktestRoutes(v1, s)

	s.httpServer = &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}
	return s
}

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

var metricsHandler = promhttp.Handler()

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metricsHandler.ServeHTTP(w, r)
}

func commonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS, PATCH, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
