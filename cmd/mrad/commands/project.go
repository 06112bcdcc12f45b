package commands

import (
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"github.com/mrakit/mrakit/pkg/config"
	"github.com/mrakit/mrakit/pkg/mra"
	"github.com/mrakit/mrakit/pkg/world"
)

func newProjectCommand() *cobra.Command {
	var (
		dim    int
		script string
	)

	cmd := &cobra.Command{
		Use:   "project",
		Short: "Project a function and report its representation",
		Long: `Project a function onto the adaptive multiwavelet basis, compress,
truncate, and report the tree statistics and norm.

Without --functor the demo Gaussian exp(-|x|^2) is projected; with it
a Starlark script defining f(x) supplies the function.`,
		Example: `  # Project the demo Gaussian in 3-D on 4 in-process ranks
  mrad project --ranks 4 --dim 3

  # Project a user function from a script
  mrad project --dim 1 --functor 'def f(x): return math_sin(pi * x[0])'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(dim)
			if err != nil {
				return err
			}
			df, err := cfg.Tree.ToDefaults()
			if err != nil {
				return err
			}

			functor, err := resolveFunctor(script, cfg)
			if err != nil {
				return err
			}

			return runProjectionPipeline(cfg, df, functor, dim)
		},
	}

	cmd.Flags().IntVar(&dim, "dim", 3, "spatial dimension")
	cmd.Flags().StringVar(&script, "functor", "", "Starlark script defining f(x)")
	return cmd
}

// runProjectionPipeline projects, compresses, truncates, and reports
// on a multi-rank world.
func runProjectionPipeline(cfg *config.EngineConfig, df mra.Defaults, functor mra.Functor[float64], dim int) error {
	return runRanks(ranks, cfg, func(w *world.World) error {
		f, err := mra.NewFactory[float64](w, dim).
			Functor(functor).
			K(df.K).
			Thresh(df.Thresh).
			InitialLevel(df.InitialLevel).
			MaxRefineLevel(df.MaxRefineLevel).
			TruncateMode(df.TruncateMode).
			Refine(df.Refine).
			BC(df.BC).
			Cell(df.Cell).
			Build()
		if err != nil {
			return err
		}

		sizeProjected := f.TreeSize()
		f.Compress(false, false, true)
		norm2 := f.Norm2Sq()
		f.Truncate(0, true)
		sizeTruncated := f.TreeSize()
		f.Reconstruct(true)

		if w.Rank() == 0 {
			fmt.Printf("projected nodes:  %d\n", sizeProjected)
			fmt.Printf("truncated nodes:  %d\n", sizeTruncated)
			fmt.Printf("max depth:        %d\n", f.MaxDepth())
			fmt.Printf("norm:             %.12f\n", math.Sqrt(norm2))
		}
		f.Destroy()
		return nil
	})
}

// resolveFunctor picks, in order: the --functor script, the config
// file's functor, and finally the demo Gaussian.
func resolveFunctor(script string, cfg *config.EngineConfig) (mra.Functor[float64], error) {
	if script == "" {
		script = cfg.Tree.Functor
	}
	if script != "" {
		return config.NewStarlarkFunctor(script)
	}
	return mra.FunctorFunc[float64](func(x []float64) float64 {
		var r2 float64
		for _, xi := range x {
			r2 += xi * xi
		}
		return math.Exp(-r2)
	}), nil
}
