package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/procgroup/internal/metrics"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			version, revision := metrics.BuildVersion()
			if revision == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "procgroup %s\n", version)
				return
			}
			fmt.Fprintf(cmd.OutOrStdout(), "procgroup %s (%s)\n", version, revision)
		},
	}
}
