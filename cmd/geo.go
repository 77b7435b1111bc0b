package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/opencarto/territoria/internal/geo"
)

var geoCmd = &cobra.Command{
	Use:   "geo",
	Short: "Manage territory geometries",
}

var geoImportCmd = &cobra.Command{
	Use:   "import <communes.shp>",
	Short: "Import commune geometries from an IGN shapefile",
	Long:  "Reads commune polygons with INSEE codes from a shapefile and loads them into the territory table with centroids.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if env.pool == nil {
			return eris.New("geo import requires the postgres store")
		}

		stats, err := geo.ImportCommunes(ctx, env.pool, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("imported %d communes (%d skipped)\n", stats.Loaded, stats.Skipped)
		return nil
	},
}

func init() {
	geoCmd.AddCommand(geoImportCmd)
	rootCmd.AddCommand(geoCmd)
}
