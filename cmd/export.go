package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opencarto/territoria/internal/export"
	"github.com/opencarto/territoria/internal/geo"
)

var (
	exportLevel string
	exportOut   string
)

var exportCmd = &cobra.Command{
	Use:   "export <criterion-id>",
	Short: "Export a criterion's national ranking to XLSX",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		criterion, err := env.reg.Get(ctx, args[0])
		if err != nil {
			return err
		}
		level, err := geo.ParseLevel(exportLevel)
		if err != nil {
			return err
		}
		index, err := env.loadIndex(ctx)
		if err != nil {
			return err
		}

		out := exportOut
		if out == "" {
			out = fmt.Sprintf("%s_%s.xlsx", criterion.ID, exportLevel)
		}

		writer := export.NewRankingWriter(env.store, index)
		n, err := writer.WriteRanking(ctx, criterion, level, out)
		if err != nil {
			return err
		}

		fmt.Printf("wrote %d ranked territories to %s\n", n, out)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportLevel, "level", "communes", "territory level (regions, departements, communes)")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output path (default <criterion>_<level>.xlsx)")
	rootCmd.AddCommand(exportCmd)
}
