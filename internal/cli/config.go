package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/procgroup/internal/config"
	"github.com/Paintersrp/procgroup/internal/probe"
)

func newConfigCmd(s *settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Work with group manifests",
	}
	cmd.AddCommand(newConfigLintCmd(s))
	return cmd
}

func newConfigLintCmd(s *settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lint",
		Short: "Validate a group manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := s.manifestPath()
			doc, err := config.Load(path)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return err
			}
			for i, w := range doc.Workers {
				if _, err := probe.New(w.Ready); err != nil {
					err = fmt.Errorf("%s: workers[%d].ready: %w", path, i, err)
					fmt.Fprintln(cmd.ErrOrStderr(), err)
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", path)
			return nil
		},
	}
	return cmd
}
