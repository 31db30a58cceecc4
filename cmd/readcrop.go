package cmd

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/zarrite/zarr"
)

func newReadCropCommand(stdout io.Writer) *cobra.Command {
	var (
		selStr string
		out    string
	)

	cmd := &cobra.Command{
		Use:   "read-crop PATH",
		Short: "Read a selection and emit the raw row-major bytes.",
		Long: `Read a rectangular selection of an array. Only the chunks the selection
intersects are fetched and decoded. The decoded bytes are written to stdout,
or to --out, in row-major order.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, log, err := openStore(cmd.Flags())
			if err != nil {
				return err
			}
			sel, err := parseSelection(selStr)
			if err != nil {
				return err
			}
			a, err := zarr.Open(cmd.Context(), store, args[0], zarr.ModeRead, zarr.WithLogger(log))
			if err != nil {
				return err
			}
			data, err := a.GetSlice(cmd.Context(), sel)
			if err != nil {
				return err
			}

			w := stdout
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			_, err = w.Write(data)
			return err
		},
	}

	cmd.Flags().StringVar(&selStr, "sel", "", `per-axis selection, e.g. "0:1,:,500:1460,1000:1960" (empty = everything)`)
	cmd.Flags().StringVar(&out, "out", "", "write bytes to a file instead of stdout")
	return cmd
}
