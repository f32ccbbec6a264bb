package main

import (
	"fmt"
	"io"
	"runtime"
	"unsafe"

	"github.com/spf13/cobra"

	"forge"
	"forge/internal/target"
)

var demoOpt string

func init() {
	demoCmd.Flags().StringVar(&demoOpt, "opt", "", "optimization level (none|less|default|aggressive)")
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Build a few routines and run them",
	Long:  `Generates, links and executes a handful of sample routines on this machine`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !target.Host().Supported() {
			return fmt.Errorf("host %s/%s is not a supported code generation target",
				target.Host().Arch, target.Host().OS)
		}
		cfg, err := resolveBuildConfig(demoOpt)
		if err != nil {
			return err
		}
		timings, _ := cmd.Flags().GetBool("timings")
		quiet, _ := cmd.Flags().GetBool("quiet")

		out := cmd.OutOrStdout()
		var timingOut io.Writer
		if timings {
			timingOut = cmd.ErrOrStderr()
		}
		return runDemos(out, timingOut, quiet, cfg)
	},
}

func runDemos(out, timingOut io.Writer, quiet bool, cfg forge.Config) error {
	if err := demoSquare(out, timingOut, cfg); err != nil {
		return err
	}
	if err := demoAbs(out, timingOut, cfg); err != nil {
		return err
	}
	if err := demoVectorMax(out, timingOut, cfg); err != nil {
		return err
	}
	if err := demoSqrt(out, timingOut, cfg); err != nil {
		return err
	}
	if !quiet {
		fmt.Fprintln(out, "all demos ran")
	}
	return nil
}

func demoSquare(out, timingOut io.Writer, cfg forge.Config) error {
	f := forge.NewFunction(forge.Int32, forge.Int32)
	v := f.Local(forge.Int32)
	v.Store(f.Mul(f.Arg(0), f.Arg(0)))
	v.Store(f.Add(v.Load(), f.ConstInt32(1)))
	f.Return(v.Load())

	r, err := f.Acquire("demo_square", cfg)
	if err != nil {
		return err
	}
	if timingOut != nil {
		printPhaseTimings(timingOut, "demo_square", r.Phases())
	}
	fn := forge.Func1[int32, int32](r)
	fmt.Fprintf(out, "x*x+1: f(7)=%d f(-3)=%d\n", fn(7), fn(-3))
	return nil
}

func demoAbs(out, timingOut io.Writer, cfg forge.Config) error {
	f := forge.NewFunction(forge.Int32, forge.Int32)
	v := f.Local(forge.Int32)
	v.Store(f.Arg(0))
	neg := f.CreateBlock()
	join := f.CreateBlock()
	f.CondBranch(f.Cmp(forge.SLT, f.Arg(0), f.ConstInt32(0)), neg, join)
	f.SetInsertBlock(neg)
	v.Store(f.Sub(f.ConstInt32(0), v.Load()))
	f.Branch(join)
	f.SetInsertBlock(join)
	f.Return(v.Load())

	r, err := f.Acquire("demo_abs", cfg)
	if err != nil {
		return err
	}
	if timingOut != nil {
		printPhaseTimings(timingOut, "demo_abs", r.Phases())
	}
	fn := forge.Func1[int32, int32](r)
	fmt.Fprintf(out, "abs: f(-42)=%d f(42)=%d\n", fn(-42), fn(42))
	return nil
}

func demoVectorMax(out, timingOut io.Writer, cfg forge.Config) error {
	f := forge.NewFunction(forge.Void, forge.Pointer, forge.Pointer, forge.Pointer)
	a := f.Load(forge.Int32x4, f.Arg(0), 16, false, forge.OrderNone)
	b := f.Load(forge.Int32x4, f.Arg(1), 16, false, forge.OrderNone)
	f.Store(f.Arg(2), f.SMax(a, b), 16, false, forge.OrderNone)

	r, err := f.Acquire("demo_vecmax", cfg)
	if err != nil {
		return err
	}
	if timingOut != nil {
		printPhaseTimings(timingOut, "demo_vecmax", r.Phases())
	}
	run := forge.Exec3[uintptr, uintptr, uintptr](r)
	x := [4]int32{1, 5, 3, 9}
	y := [4]int32{4, 2, 8, 0}
	var res [4]int32
	run(uintptr(unsafe.Pointer(&x[0])), uintptr(unsafe.Pointer(&y[0])), uintptr(unsafe.Pointer(&res[0])))
	runtime.KeepAlive(&x)
	runtime.KeepAlive(&y)
	fmt.Fprintf(out, "vector max: %v . %v = %v\n", x, y, res)
	return nil
}

func demoSqrt(out, timingOut io.Writer, cfg forge.Config) error {
	f := forge.NewFunction(forge.Float32, forge.Float32)
	f.Return(f.Call("sqrtf", forge.Float32, f.Arg(0)))

	r, err := f.Acquire("demo_sqrt", cfg)
	if err != nil {
		return err
	}
	if timingOut != nil {
		printPhaseTimings(timingOut, "demo_sqrt", r.Phases())
	}
	fn := forge.Func1[float32, float32](r)
	fmt.Fprintf(out, "sqrtf: f(9)=%g f(2)=%g\n", fn(9), fn(2))
	return nil
}
