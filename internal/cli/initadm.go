package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lherron/hlutool/internal/cli/appctx"
	"github.com/lherron/hlutool/internal/db"
	"github.com/lherron/hlutool/internal/domain"
	"github.com/lherron/hlutool/internal/gis"
)

var initAdmCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the database and the GIS feature layer",
	Long: `Initialize creates the database, runs migrations (which seed the reason,
process and operation lookups) and creates an empty feature layer next to it.
Running it again on an existing database only applies pending migrations.`,
	Args: cobra.NoArgs,
	RunE: appctx.WithApp(appctx.Options{}, runInitAdm),
}

func init() {
	rootAdmCmd.AddCommand(initAdmCmd)
}

func runInitAdm(app *appctx.App, cmd *cobra.Command, args []string) error {
	cfg := app.Config
	out := cmd.OutOrStdout()

	geom, err := domain.ValidateGeometryType(cfg.GeometryType)
	if err != nil {
		return exitError(2, err)
	}

	dbExists := false
	if cfg.DBDriver == db.DriverSQLite {
		if _, err := os.Stat(cfg.DBPath); err == nil {
			dbExists = true
		}
	}

	database, err := db.OpenDriver(cfg.DBDriver, cfg.DBPath)
	if err != nil {
		return exitError(1, err)
	}
	defer database.Close()

	applied, err := database.MigrateWithInfo()
	if err != nil {
		return exitError(1, err)
	}

	layer, err := gis.OpenFeatureLayer(cfg.GISPath, geom, gis.WithLayerLogger(app.Logger))
	if err != nil {
		return exitError(1, fmt.Errorf("create feature layer: %w", err))
	}
	defer layer.Close()

	if dbExists {
		fmt.Fprintf(out, "✓ Database already initialized at %s\n", cfg.DBPath)
	} else {
		fmt.Fprintf(out, "✓ Initialized new database at %s\n", cfg.DBPath)
	}
	fmt.Fprintf(out, "✓ Applied %d migration(s)\n", len(applied))
	fmt.Fprintf(out, "✓ Feature layer (%s) at %s\n", geom, layer.Path())
	return nil
}
