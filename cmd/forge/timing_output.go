package main

import (
	"fmt"
	"io"

	"forge/internal/observ"
)

func printPhaseTimings(out io.Writer, name string, report observ.Report) {
	if out == nil || len(report.Phases) == 0 {
		return
	}
	fmt.Fprintf(out, "%s:\n", name)
	for _, p := range report.Phases {
		if p.Note != "" {
			fmt.Fprintf(out, "  %-10s %6.2f ms  (%s)\n", p.Name, p.DurationMS, p.Note)
			continue
		}
		fmt.Fprintf(out, "  %-10s %6.2f ms\n", p.Name, p.DurationMS)
	}
	fmt.Fprintf(out, "  %-10s %6.2f ms\n", "total", report.TotalMS)
}
