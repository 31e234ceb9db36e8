package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "hlutool",
	Short: "Edit habitat records across the database and the GIS layer",
	Long: `hlutool edits incids (logical habitat records) and the GIS features that
carry them. Every command keeps the relational database, its polygon shadow
copy and the feature layer in step, and appends an audit trail to history.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. An interrupt cancels the running operation,
// which rolls back whatever it has not committed.
func Execute() error {
	return execute(rootCmd)
}

// Main runs a binary's root command, reports a failure on stderr and returns
// the process exit code
func Main(run func() error) int {
	err := run()
	if err == nil {
		return 0
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return ExitCode(err)
}

func execute(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return cmd.ExecuteContext(ctx)
}

func init() {
	addSessionFlags(rootCmd)
	rootCmd.PersistentFlags().String("reason", "", "Modification reason recorded in history (overrides HLU_REASON)")
	rootCmd.PersistentFlags().String("process", "", "Modification process recorded in history (overrides HLU_PROCESS)")
}

// addSessionFlags registers the flags every binary shares
func addSessionFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("db", "", "Path to database file or DSN (overrides HLU_DB_PATH)")
	cmd.PersistentFlags().String("gis", "", "Path to the feature layer file (overrides HLU_GIS_PATH)")
	cmd.PersistentFlags().String("as", "", "User to perform the edit as (overrides HLU_USER)")
	cmd.PersistentFlags().StringP("output", "o", "", "Output format: table, json, yaml, tsv")
	cmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
}
