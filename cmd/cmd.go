// Package cmd wires the zarrite command line tool: a minimal surface for
// creating, inspecting, reading, writing, resizing and consolidating arrays
// in a filesystem-backed store.
package cmd

import (
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/zarrite/zarr"
)

// NewRootCommand builds the zarrite command tree.
func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	rc := &cobra.Command{
		Use:   "zarrite",
		Short: "zarrite manages chunked, compressed N-dimensional arrays.",
		Long: `zarrite manages chunked, compressed N-dimensional arrays stored as
one compressed object per chunk plus a JSON metadata document, following
the Zarr v2 directory convention.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return bindConfig(cmd.Flags())
		},
	}
	rc.PersistentFlags().StringP("store", "s", ".", "store root directory")
	rc.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	rc.AddCommand(newCreateCommand(stdout))
	rc.AddCommand(newInspectCommand(stdout))
	rc.AddCommand(newReadCropCommand(stdout))
	rc.AddCommand(newWriteCommand(stdin))
	rc.AddCommand(newResizeCommand(stdout))
	rc.AddCommand(newConsolidateCommand(stdout))

	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

// bindConfig layers configuration: command line flags take precedence over
// ZARRITE_* environment variables.
func bindConfig(flags *pflag.FlagSet) error {
	v := viper.New()
	if err := v.BindPFlags(flags); err != nil {
		return err
	}
	v.SetEnvPrefix("ZARRITE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		if err != nil || f.Changed || !v.IsSet(f.Name) {
			return
		}
		err = flags.Set(f.Name, v.GetString(f.Name))
	})
	return err
}

// openStore builds the FSStore and logger a command should use, from the
// persistent flags.
func openStore(flags *pflag.FlagSet) (*zarr.FSStore, *zap.Logger, error) {
	root, err := flags.GetString("store")
	if err != nil {
		return nil, nil, err
	}
	verbose, err := flags.GetBool("verbose")
	if err != nil {
		return nil, nil, err
	}
	log := zap.NewNop()
	if verbose {
		log, err = zap.NewDevelopment()
		if err != nil {
			return nil, nil, err
		}
	}
	store, err := zarr.NewFSStore(root, zarr.WithStoreLogger(log))
	if err != nil {
		return nil, nil, err
	}
	return store, log, nil
}

// parseInts parses a comma-separated dimension list like "100,3,2160,3840".
func parseInts(s string) ([]int, error) {
	if s == "" {
		return nil, errors.New("empty dimension list")
	}
	parts := strings.Split(s, ",")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, errors.Errorf("invalid dimension %q", p)
		}
		out[i] = n
	}
	return out, nil
}

// parseSelection parses a per-axis selection like "0:1,:,500:1460". A bare
// ":" selects the whole axis; bounds beyond the array shape clamp.
func parseSelection(s string) ([]zarr.Slice, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	sel := make([]zarr.Slice, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		bounds := strings.Split(p, ":")
		if len(bounds) != 2 {
			return nil, errors.Errorf("invalid selection %q: want start:stop", p)
		}
		sl := zarr.Slice{Start: 0, Stop: math.MaxInt}
		if bounds[0] != "" {
			n, err := strconv.Atoi(bounds[0])
			if err != nil {
				return nil, errors.Errorf("invalid selection start %q", bounds[0])
			}
			sl.Start = n
		}
		if bounds[1] != "" {
			n, err := strconv.Atoi(bounds[1])
			if err != nil {
				return nil, errors.Errorf("invalid selection stop %q", bounds[1])
			}
			sl.Stop = n
		}
		sel[i] = sl
	}
	return sel, nil
}
