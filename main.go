package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"whalescope/internal/analytics"
	"whalescope/internal/api"
	"whalescope/internal/backfill"
	"whalescope/internal/broadcast"
	"whalescope/internal/config"
	"whalescope/internal/copier"
	"whalescope/internal/ingester"
	"whalescope/internal/market"
	"whalescope/internal/models"
	"whalescope/internal/repository"
	"whalescope/internal/scheduler"
	"whalescope/internal/sources"
)

// BuildCommit is set at build time via -ldflags.
var BuildCommit = "dev"

func main() {
	// .env is optional; real deployments export everything.
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("LOG_PRETTY") == "true" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	root := &cobra.Command{
		Use:          "whalescope",
		Short:        "Whale tracking, analytics, and copy-trading backend",
		Version:      BuildCommit,
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd(), migrateCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and seed static data",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			repo, err := repository.NewRepository(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer repo.Close()

			if err := repo.Migrate("schema.sql"); err != nil {
				return err
			}
			if err := repo.SeedChains(cmd.Context()); err != nil {
				return err
			}
			log.Info().Msg("migration complete")
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server, collectors, and scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("commit", BuildCommit).Str("port", cfg.Port).Msg("starting whalescope")

	repo, err := repository.NewRepository(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer repo.Close()

	catalog, err := config.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return err
	}
	log.Info().Str("version", catalog.Version).Int("entries", catalog.Size()).Msg("address catalog loaded")

	oracle := market.NewOracle(cfg.PriceAPIBaseURL, cfg.RedisURL, cfg.SourceTimeout, repo)
	engine := analytics.NewEngine(repo, oracle)
	hub := broadcast.NewHub(cfg.Thresholds)
	orchestrator := backfill.NewOrchestrator(repo, engine)
	backtester := copier.NewBacktester(repo, oracle)
	sessions := copier.NewManager(repo)

	collectors, err := buildCollectors(ctx, cfg, repo, oracle, catalog)
	if err != nil {
		return err
	}
	for _, c := range collectors {
		orchestrator.RegisterCollector(c.collector)
	}

	if cfg.EnableIngestors {
		svc := ingester.NewService(repo, hub, cfg.SourceTimeout)
		svc.SetMetricsUpdater(engine)
		for _, c := range collectors {
			svc.Register(c.collector, c.interval)
		}
		go svc.Start(ctx)
	} else {
		log.Info().Msg("ingestors disabled")
	}

	if cfg.EnableScheduler {
		startScheduler(ctx, cfg, repo, engine, oracle)
	} else {
		log.Info().Msg("scheduler disabled")
	}

	server := api.NewServer(repo, oracle, engine, orchestrator, backtester, sessions, hub, cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

type registeredCollector struct {
	collector ingester.Collector
	interval  time.Duration
}

// buildCollectors wires one collector per configured chain. A chain with
// no upstream configured is skipped rather than fatal so partial
// deployments stay possible.
func buildCollectors(ctx context.Context, cfg *config.Config, repo *repository.Repository,
	oracle *market.Oracle, catalog *config.AddressCatalog) ([]registeredCollector, error) {

	var out []registeredCollector

	if cfg.EVMRPCHTTPURL != "" {
		chainID, err := repo.GetChainBySlug(ctx, models.ChainEVM)
		if err != nil {
			return nil, err
		}
		client, err := sources.DialEVM(ctx, cfg.EVMRPCHTTPURL)
		if err != nil {
			return nil, err
		}
		out = append(out, registeredCollector{
			collector: ingester.NewEVMCollector(client, oracle, catalog, cfg.Thresholds, chainID),
			interval:  cfg.EVMTickInterval,
		})
	} else {
		log.Warn().Msg("EVM_RPC_HTTP_URL not set, evm collector disabled")
	}

	if cfg.UTXOAPIBaseURL != "" {
		chainID, err := repo.GetChainBySlug(ctx, models.ChainUTXO)
		if err != nil {
			return nil, err
		}
		client := sources.NewEsploraClient(cfg.UTXOAPIBaseURL, cfg.SourceTimeout)
		out = append(out, registeredCollector{
			collector: ingester.NewUTXOCollector(client, oracle, catalog, cfg.Thresholds, chainID),
			interval:  cfg.UTXOTickInterval,
		})
	}

	if cfg.PerpInfoURL != "" {
		chainID, err := repo.GetChainBySlug(ctx, models.ChainPerp)
		if err != nil {
			return nil, err
		}
		client := sources.NewInfoClient(cfg.PerpInfoURL, cfg.SourceTimeout)
		out = append(out, registeredCollector{
			collector: ingester.NewPerpCollector(client, cfg.Thresholds, chainID),
			interval:  cfg.PerpTickInterval,
		})
	}

	return out, nil
}

func startScheduler(ctx context.Context, cfg *config.Config, repo *repository.Repository,
	engine *analytics.Engine, oracle *market.Oracle) {

	sched := scheduler.New()

	classifier := analytics.NewClassifier(repo, int(cfg.ClassifierFreqHi), cfg.ClassifierVolRatioHi)
	sched.Add("classifier", 24*time.Hour, classifier.Run)

	sched.Add("metrics_incremental", 10*time.Minute, func(ctx context.Context) error {
		return forEachWhale(ctx, repo, engine.UpdateIncremental)
	})
	sched.Add("metrics_full_rebuild", 24*time.Hour, func(ctx context.Context) error {
		return forEachWhale(ctx, repo, engine.RebuildFull)
	})

	sched.Add("price_refresh", 5*time.Minute, func(ctx context.Context) error {
		return refreshTrackedPrices(ctx, repo, oracle)
	})

	sched.Start(ctx)
}

// forEachWhale applies fn to every tracked whale, logging per-whale
// failures instead of aborting the sweep.
func forEachWhale(ctx context.Context, repo *repository.Repository, fn func(context.Context, string) error) error {
	whales, err := repo.ListAllWhales(ctx)
	if err != nil {
		return err
	}
	for i := range whales {
		if err := fn(ctx, whales[i].ID); err != nil {
			log.Warn().Err(err).Str("whale", whales[i].ID).Msg("scheduled job failed for whale")
		}
	}
	return nil
}

// refreshTrackedPrices warms the spot cache for every asset any tracked
// whale has touched, so dashboards read hot prices.
func refreshTrackedPrices(ctx context.Context, repo *repository.Repository, oracle *market.Oracle) error {
	whales, err := repo.ListAllWhales(ctx)
	if err != nil {
		return err
	}

	seen := make(map[string]bool)
	var symbols []string
	for i := range whales {
		assets, err := repo.DistinctAssets(ctx, whales[i].ID)
		if err != nil {
			return err
		}
		for _, a := range assets {
			if !seen[a] {
				seen[a] = true
				symbols = append(symbols, a)
			}
		}
	}
	if len(symbols) == 0 {
		return nil
	}

	_, err = oracle.SpotMany(ctx, symbols)
	return err
}
