package commands

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mrakit/mrakit/pkg/config"
)

func newDevCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Development mode commands",
	}
	cmd.AddCommand(newDevWatchCommand())
	return cmd
}

func newDevWatchCommand() *cobra.Command {
	var dim int

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-run the projection demo whenever the config changes",
		Long: `Watch the --config file and re-run the projection pipeline on each
change. Useful for tuning thresholds and truncation modes against a
function interactively.`,
		Example: `  mrad dev watch -c engine.cue --dim 3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return fmt.Errorf("dev watch requires --config")
			}

			loader := config.NewLoader()
			runs := make(chan *config.EngineConfig, 1)

			watcher := config.NewWatcher(zerolog.New(cmd.ErrOrStderr()).With().Timestamp().Logger(), loader)
			if err := watcher.Watch(cmd.Context(), configPath, func(cfg *config.EngineConfig) {
				select {
				case runs <- cfg:
				default:
				}
			}); err != nil {
				return err
			}

			// First run with the current file contents.
			cfg, err := loader.Load(configPath)
			if err != nil {
				return err
			}
			runs <- cfg

			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case cfg := <-runs:
					if err := runProjection(cfg, dim); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "run failed: %v\n", err)
					}
				}
			}
		},
	}

	cmd.Flags().IntVar(&dim, "dim", 3, "spatial dimension")
	return cmd
}

// runProjection executes one projection sweep with the given config.
func runProjection(cfg *config.EngineConfig, dim int) error {
	df, err := cfg.Tree.ToDefaults()
	if err != nil {
		return err
	}
	functor, err := resolveFunctor("", cfg)
	if err != nil {
		return err
	}
	return runProjectionPipeline(cfg, df, functor, dim)
}
