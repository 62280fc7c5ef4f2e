package main

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"
	"github.com/usnistgov/swpll/profile"
	"github.com/usnistgov/swpll/sim"
)

type simulateFlags struct {
	profile string
	ticks   int
	refPPM  float64
	jitter  float64
	seed    int64
	outDir  string
	prefix  string
	dump    bool
}

func newSimulateCmd() *cobra.Command {
	var sf simulateFlags
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a profile in closed loop against a model oscillator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return simulate(cmd, sf)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&sf.profile, "profile", "p", "", "loop profile (default from the catalogue)")
	flags.IntVarP(&sf.ticks, "ticks", "n", 1000, "control ticks to run")
	flags.Float64Var(&sf.refPPM, "ref-ppm", 0, "offset of the reference clock from nominal")
	flags.Float64Var(&sf.jitter, "jitter", 0, "port timer jitter, oscillator edges RMS")
	flags.Int64Var(&sf.seed, "seed", 0, "jitter seed (default from the clock)")
	flags.StringVar(&sf.outDir, "npy-dir", "", "write the trace as .npy files into this directory")
	flags.StringVar(&sf.prefix, "npy-prefix", "", "file name prefix for the .npy files (default the run ID)")
	flags.BoolVar(&sf.dump, "dump", false, "dump the profile and final controller state")
	return cmd
}

func simulate(cmd *cobra.Command, sf simulateFlags) error {
	name := sf.profile
	if name == "" {
		name = profile.Default()
	}
	p, err := profile.Lookup(name)
	if err != nil {
		return err
	}
	ctrl, table, err := p.NewController()
	if err != nil {
		return err
	}
	dco, err := sim.NewDCO(p, table)
	if err != nil {
		return err
	}
	cfg := sim.ConfigFor(p, sf.ticks, sf.refPPM)
	cfg.JitterCounts = sf.jitter
	var rng *rand.Rand
	if sf.jitter > 0 {
		seed := sf.seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		rng = rand.New(rand.NewSource(seed))
	}

	trace, err := sim.Run(ctrl, dco, cfg, rng)
	if err != nil {
		return err
	}
	stats := trace.Stats()
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "run %s: profile %s, %d ticks, reference %+.2f ppm\n", trace.RunID, p.Name, stats.Ticks, sf.refPPM)
	if stats.FirstLockTick < 0 {
		fmt.Fprintf(w, "never locked (%d resyncs)\n", stats.Resyncs)
	} else {
		fmt.Fprintf(w, "locked at tick %d, %d ticks locked, %d resyncs\n",
			stats.FirstLockTick, stats.LockedTicks, stats.Resyncs)
		fmt.Fprintf(w, "after lock: mean %+.3f ppm, std dev %.3f ppm, max |%.3f| ppm\n",
			stats.MeanPPM, stats.StdDevPPM, stats.MaxAbsPPM)
	}
	fmt.Fprintf(w, "final status %v, output %d\n", ctrl.Status(), trace.Output[trace.Len()-1])

	if sf.dump {
		spew.Fdump(w, p, ctrl.PI(), ctrl.PFD(), ctrl.Lock())
	}
	if sf.outDir != "" {
		prefix := sf.prefix
		if prefix == "" {
			prefix = trace.RunID.String()
		}
		if err := trace.WriteNPY(sf.outDir, prefix); err != nil {
			return err
		}
		fmt.Fprintf(w, "trace written to %s/%s_*.npy\n", sf.outDir, prefix)
	}
	return nil
}
