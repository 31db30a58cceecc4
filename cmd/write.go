package cmd

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/zarrite/zarr"
)

func newWriteCommand(stdin io.Reader) *cobra.Command {
	var (
		selStr string
		in     string
		value  float64
	)

	cmd := &cobra.Command{
		Use:   "write PATH",
		Short: "Write a selection from raw bytes or a constant value.",
		Long: `Write a rectangular selection of an array. Data comes from --in (or stdin
when --in is "-") as raw row-major bytes matching the selection size, or from
--value, which fills every selected position with one scalar.`,
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
			a, err := zarr.Open(cmd.Context(), store, args[0], zarr.ModeReadWrite, zarr.WithLogger(log))
			if err != nil {
				return err
			}

			var data []byte
			switch {
			case in == "" && !cmd.Flags().Changed("value"):
				return errors.New("either --in or --value is required")
			case in == "-":
				data, err = io.ReadAll(stdin)
				if err != nil {
					return err
				}
			case in != "":
				data, err = os.ReadFile(in)
				if err != nil {
					return err
				}
			default:
				data, err = constantBuffer(a, sel, value)
				if err != nil {
					return err
				}
			}
			return a.SetSlice(cmd.Context(), sel, data)
		},
	}

	cmd.Flags().StringVar(&selStr, "sel", "", `per-axis selection, e.g. "0:1,:,500:1460" (empty = everything)`)
	cmd.Flags().StringVar(&in, "in", "", `raw input file, or "-" for stdin`)
	cmd.Flags().Float64Var(&value, "value", 0, "constant to write across the selection")
	return cmd
}

// constantBuffer builds a row-major buffer the size of the clamped selection
// with every element set to v.
func constantBuffer(a *zarr.Array, sel []zarr.Slice, v float64) ([]byte, error) {
	meta := a.Meta()
	shape := a.Shape()
	if len(sel) > len(shape) {
		return nil, errors.Errorf("selection rank %d exceeds array rank %d", len(sel), len(shape))
	}
	n := 1
	for d := range shape {
		s := zarr.Full(shape[d])
		if d < len(sel) {
			s = sel[d]
			if s.Start < 0 {
				s.Start = 0
			}
			if s.Stop > shape[d] {
				s.Stop = shape[d]
			}
			if s.Stop < s.Start {
				s.Stop = s.Start
			}
		}
		n *= s.Stop - s.Start
	}

	elemSize := meta.Dtype.Size()
	buf := make([]byte, n*elemSize)
	if n == 0 {
		return buf, nil
	}
	meta.Dtype.PutValue(buf[:elemSize], v)
	for off := elemSize; off < len(buf); off *= 2 {
		copy(buf[off:], buf[:off])
	}
	return buf, nil
}
