package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/zarrite/zarr"
)

func newResizeCommand(stdout io.Writer) *cobra.Command {
	var shapeStr string

	cmd := &cobra.Command{
		Use:   "resize PATH",
		Short: "Grow an array's shape. No chunk data is touched.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, log, err := openStore(cmd.Flags())
			if err != nil {
				return err
			}
			shape, err := parseInts(shapeStr)
			if err != nil {
				return err
			}
			a, err := zarr.Open(cmd.Context(), store, args[0], zarr.ModeReadWrite, zarr.WithLogger(log))
			if err != nil {
				return err
			}
			if err := a.Resize(cmd.Context(), shape); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "resized %s to %v\n", a.Path(), a.Shape())
			return nil
		},
	}

	cmd.Flags().StringVar(&shapeStr, "shape", "", "new shape, e.g. 150,3,2160,3840")
	_ = cmd.MarkFlagRequired("shape")
	return cmd
}
