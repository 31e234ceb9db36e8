package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lherron/hlutool/internal/cli/appctx"
	"github.com/lherron/hlutool/internal/db"
	"github.com/lherron/hlutool/internal/render"
)

var migrateAdmCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Long: `Migrate applies the SQL migrations embedded in hluadm that the database
has not seen yet, recording each in schema_migrations. Running it on an
up-to-date database does nothing.

--status lists every migration with its state; --dry-run lists only the
pending ones without applying them.`,
	Args: cobra.NoArgs,
	RunE: appctx.WithApp(appctx.Options{}, runMigrateAdm),
}

var (
	migrateDryRun bool
	migrateStatus bool
)

func init() {
	rootAdmCmd.AddCommand(migrateAdmCmd)

	migrateAdmCmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "List pending migrations without applying them")
	migrateAdmCmd.Flags().BoolVar(&migrateStatus, "status", false, "List every migration with its state")
}

// migrationRow is one line of migrate --status / --dry-run output
type migrationRow struct {
	Version string `json:"version" yaml:"version"`
	State   string `json:"state" yaml:"state"`
}

func runMigrateAdm(app *appctx.App, cmd *cobra.Command, args []string) error {
	cfg := app.Config
	if cfg.DBPath == "" {
		return exitError(2, fmt.Errorf("no database configured (use --db or set HLU_DB_PATH)"))
	}

	database, err := db.OpenDriver(cfg.DBDriver, cfg.DBPath)
	if err != nil {
		return exitError(1, err)
	}
	defer database.Close()

	if migrateStatus || migrateDryRun {
		applied, pending, err := database.MigrationStatus()
		if err != nil {
			return exitError(1, err)
		}
		var rows []migrationRow
		if migrateStatus {
			rows = appendMigrationRows(rows, applied, "applied")
		}
		rows = appendMigrationRows(rows, pending, "pending")
		return renderMigrations(app, cmd, rows)
	}

	applied, err := database.MigrateWithInfo()
	out := cmd.OutOrStdout()
	for _, v := range applied {
		fmt.Fprintf(out, "applied %s\n", v)
	}
	if err != nil {
		return exitError(1, err)
	}
	if len(applied) == 0 {
		fmt.Fprintf(out, "%s is up to date\n", cfg.DBPath)
	}
	return nil
}

func appendMigrationRows(rows []migrationRow, versions []string, state string) []migrationRow {
	for _, v := range versions {
		rows = append(rows, migrationRow{Version: v, State: state})
	}
	return rows
}

func renderMigrations(app *appctx.App, cmd *cobra.Command, rows []migrationRow) error {
	table := render.Table{Headers: []string{"VERSION", "STATE"}}
	for _, r := range rows {
		table.Rows = append(table.Rows, []string{r.Version, r.State})
	}
	r, err := app.Renderer(cmd.OutOrStdout())
	if err != nil {
		return exitError(2, err)
	}
	if rows == nil {
		rows = []migrationRow{}
	}
	return r.Render(rows, table)
}
