package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sab-crosswalk/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "sab-crosswalk",
	Short: "Tiered demographic crosswalk for water-system service areas",
	Long:  "Interpolates census statistics onto service-area boundaries: weighted areal interpolation first, parcel-crosswalk fallback second, capped to reported populations.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
