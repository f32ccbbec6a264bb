package main

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"forge/internal/amd64"
	"forge/internal/ir"
	"forge/internal/target"
)

var dumpOpt string

func init() {
	dumpCmd.Flags().StringVar(&dumpOpt, "opt", "", "optimization level (none|less|default|aggressive)")
}

var dumpCmd = &cobra.Command{
	Use:   "dump [kernel]",
	Short: "Print a demo kernel's IR before and after passes, and its machine code",
	Long: `Builds one of the built-in demo kernels (square, abs, vecmax) and shows
every stage: raw IR, optimized IR, and the encoded x86-64 bytes`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kernel := "square"
		if len(args) == 1 {
			kernel = args[0]
		}
		f, err := buildDumpKernel(kernel)
		if err != nil {
			return err
		}
		cfg, err := resolveBuildConfig(dumpOpt)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		useColor := shouldColorize(cmd)
		header := func(s string) {
			if useColor {
				color.New(color.FgCyan, color.Bold).Fprintf(out, "== %s\n", s)
				return
			}
			fmt.Fprintf(out, "== %s\n", s)
		}

		header("ir")
		ir.DumpFunc(out, f)

		header("ir after passes")
		mod := ir.NewModule()
		mod.Add(f)
		ir.Apply(mod, cfg.Passes())
		ir.DumpFunc(out, f)

		if !target.Host().Supported() {
			fmt.Fprintf(out, "host %s/%s cannot encode this kernel\n",
				target.Host().Arch, target.Host().OS)
			return nil
		}

		art, err := amd64.Compile(f, target.Host())
		if err != nil {
			return err
		}
		header("machine code")
		fmt.Fprintf(out, "frame %d bytes, %d args, %d relocations\n",
			art.FrameSize, len(art.ArgOffs), len(art.Relocs))
		dumpHex(out, art.Code)
		for _, rel := range art.Relocs {
			fmt.Fprintf(out, "reloc %#06x -> %s\n", rel.Off, rel.Sym)
		}
		return nil
	},
}

// buildDumpKernel constructs the kernel's IR directly so the dump shows
// it before any pass has touched it.
func buildDumpKernel(name string) (*ir.Func, error) {
	switch name {
	case "square":
		f := ir.NewFunc("square", ir.TInt32, []ir.TypeID{ir.TInt32})
		x := f.Append(f.Entry, ir.Instr{Kind: ir.InstrArg, Type: ir.TInt32, Arg: ir.ArgInstr{Index: 0}})
		sq := f.Append(f.Entry, ir.Instr{Kind: ir.InstrBin, Type: ir.TInt32,
			Bin: ir.BinInstr{Op: ir.OpMul, X: x, Y: x}})
		one := f.Append(f.Entry, ir.Instr{Kind: ir.InstrConst, Type: ir.TInt32, Const: ir.ConstInstr{Bits: 1}})
		sum := f.Append(f.Entry, ir.Instr{Kind: ir.InstrBin, Type: ir.TInt32,
			Bin: ir.BinInstr{Op: ir.OpAdd, X: sq, Y: one}})
		f.SetTerm(f.Entry, ir.Terminator{Kind: ir.TermReturn,
			Return: ir.ReturnTerm{HasValue: true, Value: sum}})
		return f, nil
	case "abs":
		f := ir.NewFunc("abs", ir.TInt32, []ir.TypeID{ir.TInt32})
		x := f.Append(f.Entry, ir.Instr{Kind: ir.InstrArg, Type: ir.TInt32, Arg: ir.ArgInstr{Index: 0}})
		zero := f.Append(f.Entry, ir.Instr{Kind: ir.InstrConst, Type: ir.TInt32, Const: ir.ConstInstr{Bits: 0}})
		neg := f.AddBlock()
		join := f.AddBlock()
		lt := f.Append(f.Entry, ir.Instr{Kind: ir.InstrCmp, Type: ir.TBool,
			Cmp: ir.CmpInstr{Pred: ir.PredSLT, X: x, Y: zero}})
		f.SetTerm(f.Entry, ir.Terminator{Kind: ir.TermCondBr,
			CondBr: ir.CondBrTerm{Cond: lt, Then: neg, Else: join}})
		z2 := f.Append(neg, ir.Instr{Kind: ir.InstrConst, Type: ir.TInt32, Const: ir.ConstInstr{Bits: 0}})
		n := f.Append(neg, ir.Instr{Kind: ir.InstrBin, Type: ir.TInt32,
			Bin: ir.BinInstr{Op: ir.OpSub, X: z2, Y: x}})
		f.SetTerm(neg, ir.Terminator{Kind: ir.TermReturn,
			Return: ir.ReturnTerm{HasValue: true, Value: n}})
		f.SetTerm(join, ir.Terminator{Kind: ir.TermReturn,
			Return: ir.ReturnTerm{HasValue: true, Value: x}})
		return f, nil
	case "vecmax":
		f := ir.NewFunc("vecmax", ir.TVoid, []ir.TypeID{ir.TPointer, ir.TPointer, ir.TPointer})
		pa := f.Append(f.Entry, ir.Instr{Kind: ir.InstrArg, Type: ir.TPointer, Arg: ir.ArgInstr{Index: 0}})
		pb := f.Append(f.Entry, ir.Instr{Kind: ir.InstrArg, Type: ir.TPointer, Arg: ir.ArgInstr{Index: 1}})
		po := f.Append(f.Entry, ir.Instr{Kind: ir.InstrArg, Type: ir.TPointer, Arg: ir.ArgInstr{Index: 2}})
		a := f.Append(f.Entry, ir.Instr{Kind: ir.InstrLoad, Type: ir.TInt32x4,
			Load: ir.LoadInstr{Ptr: pa, Align: 16}})
		b := f.Append(f.Entry, ir.Instr{Kind: ir.InstrLoad, Type: ir.TInt32x4,
			Load: ir.LoadInstr{Ptr: pb, Align: 16}})
		m := f.Append(f.Entry, ir.Instr{Kind: ir.InstrBin, Type: ir.TInt32x4,
			Bin: ir.BinInstr{Op: ir.OpSMax, X: a, Y: b}})
		f.Append(f.Entry, ir.Instr{Kind: ir.InstrStore, Type: ir.TVoid,
			Store: ir.StoreInstr{Ptr: po, Val: m, Elem: ir.TInt32x4, Align: 16}})
		f.SetTerm(f.Entry, ir.Terminator{Kind: ir.TermReturn})
		return f, nil
	}
	return nil, fmt.Errorf("unknown kernel %q (square|abs|vecmax)", name)
}

func dumpHex(out io.Writer, code []byte) {
	d := hex.Dumper(out)
	_, _ = d.Write(code)
	_ = d.Close()
}
