// zarrite is the command line entrypoint for the zarr package.
package main

import (
	"fmt"
	"os"

	"github.com/zarrite/zarr/cmd"
)

func main() {
	rootCmd := cmd.NewRootCommand(os.Stdin, os.Stdout, os.Stderr)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
