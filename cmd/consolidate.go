package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/zarrite/zarr"
)

func newConsolidateCommand(stdout io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consolidate [PATH]",
		Short: "Gather all metadata under a path into one .zmetadata document.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openStore(cmd.Flags())
			if err != nil {
				return err
			}
			root := ""
			if len(args) == 1 {
				root = args[0]
			}
			cm, err := zarr.Consolidate(cmd.Context(), store, root)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "consolidated %d metadata documents\n", len(cm.Metadata))
			return nil
		},
	}
	return cmd
}
