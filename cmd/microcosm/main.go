package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set via -ldflags at release time.
var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "microcosm",
		Short: "Deterministic multiscale simulation kernel",
		Long: `microcosm runs multiscale simulations defined as YAML experiments.

An experiment wires processes into a hierarchical state store and drives
them on their own timesteps; snapshots stream to a configurable emitter
and can be exported as an Arrow timeseries.`,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("log-level", "", "Log verbosity: info, debug, or trace (overrides the experiment file)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newInspectCmd(),
	)
	return rootCmd
}
