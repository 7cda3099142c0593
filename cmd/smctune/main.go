// Command smctune tunes sliding-mode controller gains for the double
// inverted pendulum.  It loads a YAML config, runs particle-swarm search
// against the multi-scenario fitness evaluator, and writes the best gains
// plus the convergence trace as a JSON record (and optionally into a sqlite
// archive alongside the per-iteration swarm tables).
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"

	_ "modernc.org/sqlite"

	"smctune"
	"smctune/config"
	"smctune/controller"
	"smctune/fitness"
	"smctune/plant"
	"smctune/result"
	"smctune/swarm"
)

var (
	configPath = flag.String("config", "", "YAML configuration file (defaults apply when empty)")
	variant    = flag.String("variant", "classical", "controller variant: classical, sta, adaptive, hybrid")
	seed       = flag.Int64("seed", 0, "random seed; overrides the config when nonzero")
	out        = flag.String("out", "", "write the result record as JSON to this path")
	dbPath     = flag.String("db", "", "sqlite file for the run archive and swarm iteration tables")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "smctune:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			return err
		}
	}

	v := controller.Variant(*variant)
	if controller.GainCount(v) == 0 {
		return fmt.Errorf("unknown controller variant %q", *variant)
	}

	runSeed := cfg.PSO.Seed
	if *seed != 0 {
		runSeed = *seed
	}

	fc, err := cfg.FitnessConfig(v)
	if err != nil {
		return err
	}
	ev, err := fitness.New(plant.New(cfg.PlantParams()), fc)
	if err != nil {
		return err
	}

	low, up := cfg.Bounds(v)
	rng := rand.New(rand.NewSource(runSeed))
	pop, nbad := swarm.NewPopulationFeasible(cfg.PSO.Particles, low, up, controller.Feasibler{V: v}, rng)
	if nbad > 0 {
		fmt.Printf("warning: %v of %v initial particles fall outside the feasible gain region; check the configured bounds\n",
			nbad, cfg.PSO.Particles)
	}

	opts := []swarm.Option{swarm.Bounds(low, up), swarm.VmaxBounds(low, up)}
	if cfg.PSO.Cognition != 0 || cfg.PSO.Social != 0 {
		opts = append(opts, swarm.LearnFactors(cfg.PSO.Cognition, cfg.PSO.Social))
	}
	if cfg.PSO.Inertia != 0 {
		opts = append(opts, swarm.FixedInertia(cfg.PSO.Inertia))
	}

	var db *sql.DB
	if *dbPath != "" {
		db, err = sql.Open("sqlite", *dbPath)
		if err != nil {
			return err
		}
		defer db.Close()
		opts = append(opts, swarm.DB(db))
	}

	it := swarm.NewIterator(smctune.NewCacheEvaler(fitness.BatchEvaler{Ev: ev}), pop, rng, opts...)
	res, err := it.Run(ev, cfg.PSO.MaxIter, cfg.PSO.StallIters, cfg.PSO.StallTol)

	var derr *swarm.DivergedError
	if errors.As(err, &derr) {
		return fmt.Errorf("%w; bounds low=%v up=%v", derr, low, up)
	}
	if err != nil {
		return err
	}

	rec := result.NewRecord(v, runSeed)
	rec.BestGains = res.Best.Pos()
	rec.BestCost = res.Best.Val
	rec.History = res.History
	rec.Iters = res.Iters
	rec.Evals = res.Neval

	fmt.Printf("run %v: variant=%v seed=%v iters=%v evals=%v\n", rec.RunID, v, runSeed, res.Iters, res.Neval)
	fmt.Printf("best cost: %v\n", rec.BestCost)
	fmt.Printf("best gains: %v\n", rec.BestGains)

	if *out != "" {
		if err := rec.WriteFile(*out); err != nil {
			return err
		}
	}
	if *dbPath != "" {
		store := result.NewStore(*dbPath)
		ctx := context.Background()
		if err := store.Init(ctx); err != nil {
			return err
		}
		defer store.Close()
		if err := store.Save(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}
