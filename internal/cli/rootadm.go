package cli

import (
	"github.com/spf13/cobra"
)

var rootAdmCmd = &cobra.Command{
	Use:   "hluadm",
	Short: "Administrative CLI for the hlutool database and feature layer",
	Long: `hluadm is the administrative companion to hlutool. It handles database
lifecycle (init, migrate), feature imports and consistency checks between
the database and the GIS layer.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// ExecuteAdmin runs the admin root command
func ExecuteAdmin() error {
	return execute(rootAdmCmd)
}

func init() {
	addSessionFlags(rootAdmCmd)
}
