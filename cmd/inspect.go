package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/zarrite/zarr"
)

func newInspectCommand(stdout io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect PATH",
		Short: "Print an array's metadata and storage stats.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, log, err := openStore(cmd.Flags())
			if err != nil {
				return err
			}
			a, err := zarr.Open(cmd.Context(), store, args[0], zarr.ModeRead, zarr.WithLogger(log))
			if err != nil {
				return err
			}
			meta := a.Meta()

			storedChunks, storedBytes, err := chunkStats(cmd.Context(), store, a.Path())
			if err != nil {
				return err
			}

			compressor := "raw"
			if meta.Compressor != nil {
				compressor = meta.Compressor.ID
				if meta.Compressor.Level != 0 {
					compressor = fmt.Sprintf("%s(level=%d)", compressor, meta.Compressor.Level)
				}
				if meta.Compressor.Shuffle != 0 {
					compressor += "+shuffle"
				}
			}

			grid := make([]string, len(meta.Shape))
			total := 1
			for d := range meta.Shape {
				n := (meta.Shape[d] + meta.Chunks[d] - 1) / meta.Chunks[d]
				grid[d] = fmt.Sprintf("%d", n)
				total *= n
			}

			fmt.Fprintf(stdout, "path        : %s\n", a.Path())
			fmt.Fprintf(stdout, "shape       : %v\n", meta.Shape)
			fmt.Fprintf(stdout, "chunks      : %v\n", meta.Chunks)
			fmt.Fprintf(stdout, "dtype       : %s\n", meta.Dtype)
			fmt.Fprintf(stdout, "compressor  : %s\n", compressor)
			fmt.Fprintf(stdout, "fill value  : %v\n", meta.FillValue.Value())
			fmt.Fprintf(stdout, "chunk grid  : %s (%d chunks, %d stored)\n",
				strings.Join(grid, " x "), total, storedChunks)
			fmt.Fprintf(stdout, "stored size : %s\n", humanize.IBytes(uint64(storedBytes)))
			fmt.Fprintf(stdout, "chunk size  : %s decoded\n", humanize.IBytes(uint64(meta.ChunkByteSize())))
			return nil
		},
	}
	return cmd
}

// chunkStats counts stored chunk objects and their encoded bytes, skipping
// the reserved metadata keys.
func chunkStats(ctx context.Context, store zarr.Store, path string) (int, int64, error) {
	keys, err := store.List(ctx, path+"/")
	if err != nil {
		return 0, 0, err
	}
	var count int
	var bytes int64
	for _, key := range keys {
		if _, reserved := zarr.KeyMetaType(key); reserved {
			continue
		}
		data, err := store.Get(ctx, key)
		if err != nil {
			return 0, 0, err
		}
		count++
		bytes += int64(len(data))
	}
	return count, bytes, nil
}
