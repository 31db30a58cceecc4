package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/zarrite/zarr"
)

func newCreateCommand(stdout io.Writer) *cobra.Command {
	var (
		shapeStr   string
		chunkStr   string
		dtypeStr   string
		compressor string
		level      int
		shuffle    bool
		fill       float64
		exclusive  bool
	)

	cmd := &cobra.Command{
		Use:   "create PATH",
		Short: "Create an array.",
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
			chunks, err := parseInts(chunkStr)
			if err != nil {
				return err
			}
			dtype, err := zarr.ParseDtype(dtypeStr)
			if err != nil {
				return err
			}

			meta := &zarr.ArrayMeta{
				Shape:  shape,
				Chunks: chunks,
				Dtype:  dtype,
			}
			if compressor != "" {
				cfg := &zarr.CompressorConfig{ID: compressor, Level: level}
				if shuffle {
					cfg.Shuffle = 1
				}
				meta.Compressor = cfg
			}
			if cmd.Flags().Changed("fill") {
				meta.FillValue = zarr.Fill(fill)
			}

			mode := zarr.ModeWrite
			if exclusive {
				mode = zarr.ModeWriteFail
			}
			a, err := zarr.Create(cmd.Context(), store, args[0], mode, meta, zarr.WithLogger(log))
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "created array %s\n", a.Path())
			return nil
		},
	}

	cmd.Flags().StringVar(&shapeStr, "shape", "", "array shape, e.g. 100,3,2160,3840")
	cmd.Flags().StringVar(&chunkStr, "chunks", "", "chunk shape, e.g. 1,3,960,960")
	cmd.Flags().StringVar(&dtypeStr, "dtype", "<u1", `element type as a NumPy typestr, e.g. "<u1" or "<f4"`)
	cmd.Flags().StringVar(&compressor, "compressor", "zstd", "chunk compressor: raw, zstd, gzip or lz4")
	cmd.Flags().IntVar(&level, "level", 0, "compression level (0 = compressor default)")
	cmd.Flags().BoolVar(&shuffle, "shuffle", false, "enable the byte-shuffle pre-filter")
	cmd.Flags().Float64Var(&fill, "fill", 0, "fill value for unwritten positions")
	cmd.Flags().BoolVar(&exclusive, "exclusive", false, "fail if the array already exists")
	_ = cmd.MarkFlagRequired("shape")
	_ = cmd.MarkFlagRequired("chunks")
	return cmd
}
