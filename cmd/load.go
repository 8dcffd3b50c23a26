package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sab-crosswalk/internal/db"
	"github.com/sells-group/sab-crosswalk/internal/sab"
	"github.com/sells-group/sab-crosswalk/internal/spatial"
)

var (
	loadIDField   string
	loadNameField string
	loadPopField  string
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load geo datasets into PostGIS",
}

var loadBoundariesCmd = &cobra.Command{
	Use:   "boundaries <shapefile>",
	Short: "Replace the service-area boundary table from a shapefile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pool, ctx, cleanup, err := geoPool(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		fields := sab.DefaultBoundaryFields()
		if loadIDField != "" {
			fields.ID = loadIDField
		}
		if loadNameField != "" {
			fields.Name = loadNameField
		}
		if loadPopField != "" {
			fields.Population = loadPopField
		}

		n, err := sab.LoadBoundaries(ctx, pool, cfg.Geo.Schema, args[0], fields)
		if err != nil {
			return err
		}
		zap.L().Info("boundaries loaded", zap.Int64("count", n))
		return nil
	},
}

var loadBlocksCmd = &cobra.Command{
	Use:   "blocks <shapefile>",
	Short: "Append census blocks to the weight-unit table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pool, ctx, cleanup, err := geoPool(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		n, err := sab.LoadWeightUnits(ctx, pool, cfg.Geo.Schema, args[0], sab.DefaultWeightUnitFields())
		if err != nil {
			return err
		}
		zap.L().Info("weight units loaded", zap.Int64("count", n))
		return nil
	},
}

var loadCrosswalkCmd = &cobra.Command{
	Use:   "crosswalk <csv>",
	Short: "Replace the parcel crosswalk table from a CSV",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pool, ctx, cleanup, err := geoPool(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		n, err := sab.LoadParcelCrosswalkFile(ctx, pool, cfg.Geo.Schema, args[0])
		if err != nil {
			return err
		}
		zap.L().Info("parcel crosswalk loaded", zap.Int64("count", n))
		return nil
	},
}

// geoPool validates config, connects to PostGIS, and applies migrations so
// the loaders always see the current schema.
func geoPool(cmd *cobra.Command) (db.Pool, context.Context, func(), error) {
	if err := cfg.Validate("load"); err != nil {
		return nil, nil, nil, err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)

	pool, err := db.Connect(ctx, cfg.GeoDatabaseURL())
	if err != nil {
		stop()
		return nil, nil, nil, err
	}
	if err := spatial.Migrate(ctx, pool); err != nil {
		pool.Close()
		stop()
		return nil, nil, nil, err
	}

	cleanup := func() {
		pool.Close()
		stop()
	}
	return pool, ctx, cleanup, nil
}

func init() {
	loadBoundariesCmd.Flags().StringVar(&loadIDField, "id-field", "", "shapefile attribute holding the boundary ID")
	loadBoundariesCmd.Flags().StringVar(&loadNameField, "name-field", "", "shapefile attribute holding the boundary name")
	loadBoundariesCmd.Flags().StringVar(&loadPopField, "population-field", "", "shapefile attribute holding the reported population")

	loadCmd.AddCommand(loadBoundariesCmd, loadBlocksCmd, loadCrosswalkCmd)
	rootCmd.AddCommand(loadCmd)
}
