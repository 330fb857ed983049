package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Set at link time with -X github.com/ethpandaops/kpt/cmd.version=...
//
//nolint:gochecknoglobals // link-time values
var (
	version = "dev"
	commit  = "unknown"
)

// buildInfo renders the one-line identity of this binary
func buildInfo() string {
	return fmt.Sprintf("kpt %s (commit %s, %s %s/%s)",
		version, commit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

//nolint:gochecknoglobals // cobra command tree
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show which kpt build is running",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), buildInfo())

		return err
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
