package commands

import (
	"fmt"
	"sync"

	"github.com/mrakit/mrakit/pkg/config"
	"github.com/mrakit/mrakit/pkg/telemetry"
	"github.com/mrakit/mrakit/pkg/transport"
	"github.com/mrakit/mrakit/pkg/world"
)

// loadConfig reads the --config file or falls back to defaults for
// dimension d.
func loadConfig(d int) (*config.EngineConfig, error) {
	if configPath == "" {
		cfg := config.Default(d)
		if verbose {
			cfg.Logging.Level = "debug"
		}
		return cfg, nil
	}
	cfg, err := config.NewLoader().Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// runRanks spins up n in-process ranks over a loopback mesh and runs
// fn on each with its own world, then tears everything down. The
// demo equivalent of launching n processes over the TCP mesh.
func runRanks(n int, cfg *config.EngineConfig, fn func(w *world.World) error) error {
	mesh, err := transport.NewLoopbackMesh(n)
	if err != nil {
		return err
	}

	rmlCfg, err := cfg.MessagingRML()
	if err != nil {
		return err
	}

	errs := make([]error, n)
	var wg sync.WaitGroup
	for rank := 0; rank < n; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			tel, err := telemetry.New(cfg.Telemetry(rank))
			if err != nil {
				errs[rank] = err
				return
			}
			w, err := world.New(mesh.Endpoint(rank), tel, world.Options{RML: rmlCfg})
			if err != nil {
				errs[rank] = err
				return
			}
			if rank == 0 {
				if err := tel.Metrics.StartServer(); err != nil {
					errs[rank] = err
					return
				}
			}
			errs[rank] = fn(w)
			w.Shutdown()
		}(rank)
	}
	wg.Wait()

	for rank, err := range errs {
		if err != nil {
			return fmt.Errorf("rank %d: %w", rank, err)
		}
	}
	return nil
}
