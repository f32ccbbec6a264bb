package main

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"forge/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "forge",
	Short: "Forge runtime code generator toolchain",
	Long:  `Forge builds specialized machine-code routines at runtime; this tool inspects and exercises the pipeline`,
}

// main registers subcommands and persistent flags, then executes the
// root command. A command error exits with status code 1.
func main() {
	// Устанавливаем версию для автоматического флага --version
	rootCmd.Version = version.Version

	// Добавляем команды
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(targetCmd)
	rootCmd.AddCommand(demoCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(benchCmd)
	rootCmd.AddCommand(cacheCmd)

	// Глобальные флаги
	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")
	rootCmd.PersistentFlags().Bool("quiet", false, "suppress non-essential output")
	rootCmd.PersistentFlags().Bool("timings", false, "show per-phase build timings")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// isTerminal проверяет, является ли файл терминалом
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
