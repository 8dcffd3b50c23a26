package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sells-group/sab-crosswalk/internal/derive"
)

var catalogSheet string

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect the variable catalog",
}

var catalogValidateCmd = &cobra.Command{
	Use:   "validate <path>",
	Short: "Validate a variable catalog and list its output columns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cc := cfg.Crosswalk
		cc.CatalogPath = args[0]
		if catalogSheet != "" {
			cc.CatalogSheet = catalogSheet
		}

		cat, err := loadCatalog(cc)
		if err != nil {
			return err
		}

		fmt.Printf("catalog valid: %d variables, %d source fields\n",
			len(cat.Specs()), len(cat.SourceFields()))
		fmt.Printf("output columns: %s\n", strings.Join(derive.ColumnNames(cat), ", "))
		return nil
	},
}

func init() {
	catalogValidateCmd.Flags().StringVar(&catalogSheet, "sheet", "", "workbook sheet name (xlsx catalogs)")
	catalogCmd.AddCommand(catalogValidateCmd)
	rootCmd.AddCommand(catalogCmd)
}
