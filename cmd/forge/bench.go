package main

import (
	"fmt"
	"runtime"
	"time"

	"fortio.org/safecast"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"forge"
	"forge/internal/prof"
	"forge/internal/target"
)

var (
	benchJobs    int
	benchCount   int
	benchOpt     string
	benchCPUProf string
	benchMemProf string
)

func init() {
	benchCmd.Flags().IntVar(&benchJobs, "jobs", runtime.GOMAXPROCS(0), "parallel builder goroutines")
	benchCmd.Flags().IntVar(&benchCount, "count", 200, "routines to build per run")
	benchCmd.Flags().StringVar(&benchOpt, "opt", "", "optimization level (none|less|default|aggressive)")
	benchCmd.Flags().StringVar(&benchCPUProf, "cpuprofile", "", "write a CPU profile to this file")
	benchCmd.Flags().StringVar(&benchMemProf, "memprofile", "", "write a heap profile to this file")
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Measure build throughput with concurrent sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !target.Host().Supported() {
			return fmt.Errorf("host %s/%s is not a supported code generation target",
				target.Host().Arch, target.Host().OS)
		}
		if benchJobs < 1 || benchCount < 1 {
			return fmt.Errorf("--jobs and --count must be positive")
		}
		cfg, err := resolveBuildConfig(benchOpt)
		if err != nil {
			return err
		}

		if benchCPUProf != "" {
			if err := prof.StartCPU(benchCPUProf); err != nil {
				return err
			}
			defer prof.StopCPU()
		}

		start := time.Now()
		var g errgroup.Group
		g.SetLimit(benchJobs)
		for i := 0; i < benchCount; i++ {
			delta, err := safecast.Conv[int32](i)
			if err != nil {
				return err
			}
			g.Go(func() error {
				f := forge.NewFunction(forge.Int32, forge.Int32)
				f.Return(f.Add(f.Mul(f.Arg(0), f.Arg(0)), f.ConstInt32(delta)))
				r, err := f.Acquire(fmt.Sprintf("bench_%d", delta), cfg)
				if err != nil {
					return err
				}
				fn := forge.Func1[int32, int32](r)
				if got := fn(3); got != 9+delta {
					return fmt.Errorf("bench routine %d returned %d, want %d", delta, got, 9+delta)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		elapsed := time.Since(start)

		if benchMemProf != "" {
			if err := prof.WriteMem(benchMemProf); err != nil {
				return err
			}
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "built and ran %d routines on %d goroutines in %.1f ms\n",
			benchCount, benchJobs, float64(elapsed)/float64(time.Millisecond))
		fmt.Fprintf(out, "%.0f routines/s\n", float64(benchCount)/elapsed.Seconds())
		return nil
	},
}
