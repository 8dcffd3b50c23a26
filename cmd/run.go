package main

import (
	"context"
	"fmt"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sab-crosswalk/internal/catalog"
	"github.com/sells-group/sab-crosswalk/internal/census"
	"github.com/sells-group/sab-crosswalk/internal/config"
	"github.com/sells-group/sab-crosswalk/internal/db"
	"github.com/sells-group/sab-crosswalk/internal/pipeline"
	"github.com/sells-group/sab-crosswalk/internal/resilience"
	"github.com/sells-group/sab-crosswalk/internal/sab"
	"github.com/sells-group/sab-crosswalk/internal/spatial"
	"github.com/sells-group/sab-crosswalk/internal/store"
)

var (
	runYear    int
	runCatalog string
	runLenient bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a full crosswalk run and save the results",
	RunE: func(cmd *cobra.Command, args []string) error {
		if runYear != 0 {
			cfg.Crosswalk.Year = runYear
		}
		if runCatalog != "" {
			cfg.Crosswalk.CatalogPath = runCatalog
		}
		if cmd.Flags().Changed("lenient-geometry") {
			cfg.Crosswalk.LenientGeometry = runLenient
		}
		if err := cfg.Validate("run"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cat, err := loadCatalog(cfg.Crosswalk)
		if err != nil {
			return err
		}

		pool, err := db.Connect(ctx, cfg.GeoDatabaseURL())
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := spatial.Migrate(ctx, pool); err != nil {
			return err
		}

		st, err := openStore(ctx, cfg, pool)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		engine := spatial.NewEngine(pool, spatial.Options{
			Schema:          cfg.Geo.Schema,
			LenientGeometry: cfg.Crosswalk.LenientGeometry,
		})
		provider := sab.NewProvider(pool, cfg.Geo.Schema)
		stats := census.NewClient(cfg.Census.APIKey,
			census.WithBaseURL(cfg.Census.BaseURL),
			census.WithRateLimit(cfg.Census.RatePerSecond),
			census.WithRetry(resilience.RetryConfig{MaxAttempts: cfg.Census.MaxAttempts}),
		)

		runner := pipeline.NewRunner(cat, engine, provider, stats, provider, pipeline.Options{
			Year:           cfg.Crosswalk.Year,
			DefaultRegions: cfg.Crosswalk.DefaultRegions,
			Concurrency:    cfg.Crosswalk.Concurrency,
		})

		run, err := st.CreateRun(ctx, cfg.Crosswalk.Year)
		if err != nil {
			return err
		}
		zap.L().Info("run started", zap.String("run_id", run.ID), zap.Int("year", run.Year))

		res, err := runner.Run(ctx)
		if err != nil {
			_ = st.FailRun(ctx, run.ID, err)
			return err
		}
		if err := st.SaveResults(ctx, run.ID, res.Rows); err != nil {
			_ = st.FailRun(ctx, run.ID, err)
			return err
		}

		var failed []string
		for region := range res.FailedRegions {
			failed = append(failed, region)
		}
		sort.Strings(failed)

		if err := st.CompleteRun(ctx, run.ID, store.RunSummary{
			Boundaries:    len(res.Rows),
			Capped:        len(res.Capped),
			FailedRegions: failed,
		}); err != nil {
			return err
		}

		fmt.Printf("run %s complete: %d boundaries, %d capped", run.ID, len(res.Rows), len(res.Capped))
		if len(failed) > 0 {
			fmt.Printf(", failed regions: %s", strings.Join(failed, ", "))
		}
		fmt.Println()
		return nil
	},
}

// loadCatalog reads the variable catalog, choosing the parser by extension.
func loadCatalog(cc config.CrosswalkConfig) (*catalog.Catalog, error) {
	switch {
	case strings.HasSuffix(cc.CatalogPath, ".yaml"), strings.HasSuffix(cc.CatalogPath, ".yml"):
		return catalog.LoadYAML(cc.CatalogPath)
	case strings.HasSuffix(cc.CatalogPath, ".xlsx"):
		return catalog.LoadXLSX(cc.CatalogPath, cc.CatalogSheet)
	}
	return nil, eris.Errorf("unsupported catalog format: %s", cc.CatalogPath)
}

// openStore picks the run-ledger backend. When the store and geo sides share
// one Postgres URL, the store reuses the already-open pool.
func openStore(ctx context.Context, cfg *config.Config, pool db.Pool) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath)
	case "postgres":
		if cfg.Store.DatabaseURL == cfg.GeoDatabaseURL() {
			return store.NewPostgresFromPool(pool), nil
		}
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	}
	return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
}

func init() {
	runCmd.Flags().IntVar(&runYear, "year", 0, "statistics vintage (default from config)")
	runCmd.Flags().StringVar(&runCatalog, "catalog", "", "variable catalog path (.yaml or .xlsx)")
	runCmd.Flags().BoolVar(&runLenient, "lenient-geometry", false, "repair invalid boundary geometries instead of failing")
	rootCmd.AddCommand(runCmd)
}
