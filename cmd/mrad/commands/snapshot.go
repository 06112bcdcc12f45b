package commands

import (
	"context"
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"github.com/mrakit/mrakit/pkg/mra"
	"github.com/mrakit/mrakit/pkg/stores"
	"github.com/mrakit/mrakit/pkg/world"
)

func newSnapshotCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Save and restore tree snapshots",
	}
	cmd.AddCommand(newSnapshotSaveCommand())
	cmd.AddCommand(newSnapshotLoadCommand())
	cmd.AddCommand(newSnapshotListCommand())
	return cmd
}

func openStore(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func newSnapshotSaveCommand() *cobra.Command {
	var (
		dim    int
		dbPath string
		name   string
	)
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Project the demo function and persist the tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(dim)
			if err != nil {
				return err
			}
			df, err := cfg.Tree.ToDefaults()
			if err != nil {
				return err
			}
			functor, err := resolveFunctor("", cfg)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			store, err := openStore(ctx, dbPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			return runRanks(ranks, cfg, func(w *world.World) error {
				f, err := mra.NewFactory[float64](w, dim).
					Functor(functor).
					K(df.K).Thresh(df.Thresh).
					BC(df.BC).Cell(df.Cell).
					Build()
				if err != nil {
					return err
				}
				defer f.Destroy()

				rec := &stores.TreeRecord{Name: name, Rank: w.Rank(), Meta: f.Meta()}
				err = f.ExportNodes(func(key, node []byte) error {
					kc := append([]byte(nil), key...)
					nc := append([]byte(nil), node...)
					rec.Nodes = append(rec.Nodes, stores.NodePair{Key: kc, Node: nc})
					return nil
				})
				if err != nil {
					return err
				}
				if err := store.SaveTree(ctx, rec); err != nil {
					return err
				}
				w.Gop.Fence()
				if w.Rank() == 0 {
					fmt.Printf("saved %q: %d nodes on rank 0\n", name, len(rec.Nodes))
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&dim, "dim", 3, "spatial dimension")
	cmd.Flags().StringVar(&dbPath, "db", "mrakit.db", "snapshot database path")
	cmd.Flags().StringVar(&name, "name", "demo", "snapshot name")
	return cmd
}

func newSnapshotLoadCommand() *cobra.Command {
	var (
		dbPath string
		name   string
	)
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Restore a persisted tree and report its norm",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx, dbPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			rec0, err := store.LoadTree(ctx, name, 0)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(rec0.Meta.NDim)
			if err != nil {
				return err
			}

			return runRanks(ranks, cfg, func(w *world.World) error {
				f, err := mra.NewTreeFromMeta[float64](w, rec0.Meta, nil)
				if err != nil {
					return err
				}
				defer f.Destroy()

				rec, err := store.LoadTree(ctx, name, w.Rank())
				if err != nil && err != stores.ErrNotFound {
					return err
				}
				if rec != nil {
					for _, p := range rec.Nodes {
						f.ImportNode(p.Key, p.Node)
					}
				}
				w.Gop.Fence()

				norm2 := f.Norm2Sq()
				if w.Rank() == 0 {
					fmt.Printf("loaded %q: %d nodes, norm %.12f\n", name, f.TreeSize(), math.Sqrt(norm2))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "mrakit.db", "snapshot database path")
	cmd.Flags().StringVar(&name, "name", "demo", "snapshot name")
	return cmd
}

func newSnapshotListCommand() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx, dbPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			names, err := store.ListTrees(ctx)
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Println(n)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "mrakit.db", "snapshot database path")
	return cmd
}
