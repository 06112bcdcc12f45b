package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	ranks      int
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mrad",
		Short: "mrad - Distributed Multiresolution Function Engine",
		Long: `mrad drives the multiresolution engine: adaptive multiwavelet
representations of functions on a d-dimensional cell, with parallel
compression, truncation, arithmetic, differentiation, and integral
operator application.

The demo commands run a multi-rank world inside one process over the
loopback transport; production deployments wire the same engine over
the TCP mesh.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (.cue or .yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().IntVarP(&ranks, "ranks", "r", 1, "number of in-process ranks")

	rootCmd.AddCommand(newProjectCommand())
	rootCmd.AddCommand(newSnapshotCommand())
	rootCmd.AddCommand(newDevCommand())

	return rootCmd
}
