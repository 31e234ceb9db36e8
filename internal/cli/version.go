package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lherron/hlutool/internal/render"
)

// Set with -ldflags "-X github.com/lherron/hlutool/internal/cli.Version=..."
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

var versionJSON bool

// versionInfo is what version --json prints
type versionInfo struct {
	Binary    string   `json:"binary"`
	Version   string   `json:"version"`
	Commit    string   `json:"commit"`
	BuildDate string   `json:"build_date"`
	Commands  []string `json:"supported_commands"`
	Formats   []string `json:"supported_formats"`
}

func init() {
	rootCmd.AddCommand(newVersionCmd("hlutool", []string{
		"merge", "split", "update", "show", "osmm", "history", "polygons", "version",
	}))
	rootAdmCmd.AddCommand(newVersionCmd("hluadm", []string{
		"init", "migrate", "import", "doctor", "version",
	}))
}

func newVersionCmd(binary string, commands []string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the " + binary + " build version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := versionInfo{
				Binary:    binary,
				Version:   Version,
				Commit:    GitCommit,
				BuildDate: BuildDate,
				Commands:  commands,
				Formats:   []string{string(render.FormatTable), string(render.FormatJSON), string(render.FormatYAML), string(render.FormatTSV)},
			}
			out := cmd.OutOrStdout()
			if versionJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			_, err := fmt.Fprintf(out, "%s %s (commit %s, built %s)\n", info.Binary, info.Version, info.Commit, info.BuildDate)
			return err
		},
	}
	cmd.Flags().BoolVar(&versionJSON, "json", false, "Print build information as JSON")
	return cmd
}
