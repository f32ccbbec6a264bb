package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"forge/internal/target"
)

var targetJSON bool

func init() {
	targetCmd.Flags().BoolVar(&targetJSON, "json", false, "machine-readable output")
}

var targetCmd = &cobra.Command{
	Use:   "target",
	Short: "Show what the host offers the code generator",
	RunE: func(cmd *cobra.Command, args []string) error {
		mach := target.Host()
		out := cmd.OutOrStdout()

		if targetJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"arch":      mach.Arch,
				"os":        mach.OS,
				"supported": mach.Supported(),
				"features":  mach.FeatureString(),
				"page_bits": mach.PageBits,
			})
		}

		useColor := shouldColorize(cmd)
		yes := color.New(color.FgGreen).SprintFunc()
		no := color.New(color.FgRed).SprintFunc()
		if !useColor {
			yes = fmt.Sprint
			no = fmt.Sprint
		}

		fmt.Fprintf(out, "host: %s/%s\n", mach.Arch, mach.OS)
		if mach.Supported() {
			fmt.Fprintf(out, "status: %s\n", yes("supported"))
		} else {
			fmt.Fprintf(out, "status: %s\n", no("unsupported"))
		}
		fmt.Fprintf(out, "page size: %d bytes\n", 1<<mach.PageBits)

		flag := func(name string, on bool) {
			if on {
				fmt.Fprintf(out, "  %s %s\n", yes("+"), name)
			} else {
				fmt.Fprintf(out, "  %s %s\n", no("-"), name)
			}
		}
		fmt.Fprintln(out, "features:")
		flag("sse4.1", mach.SSE41)
		flag("sse4.2", mach.SSE42)
		flag("avx", mach.AVX)
		flag("avx2", mach.AVX2)
		flag("popcnt", mach.POPCNT)
		flag("fma", mach.FMA)
		return nil
	},
}

// shouldColorize honors the global --color flag, falling back to a
// terminal check for "auto".
func shouldColorize(cmd *cobra.Command) bool {
	mode, _ := cmd.Flags().GetString("color")
	switch mode {
	case "on":
		return true
	case "off":
		return false
	}
	return isTerminal(os.Stdout)
}
