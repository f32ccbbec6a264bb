package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var cacheClear bool

func init() {
	cacheCmd.Flags().BoolVar(&cacheClear, "clear", false, "remove every cached routine")
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the on-disk routine cache",
	Long:  `Shows what FORGE_CACHE currently holds, or clears it with --clear`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := os.Getenv("FORGE_CACHE")
		if dir == "" {
			if m, ok, err := loadForgeManifest("."); err != nil {
				return err
			} else if ok {
				applyManifestEnv(m)
				dir = os.Getenv("FORGE_CACHE")
			}
		}
		if dir == "" {
			return fmt.Errorf("no cache configured: set FORGE_CACHE or [build].cache in forge.toml")
		}

		routines := filepath.Join(dir, "routines")
		entries, err := os.ReadDir(routines)
		if os.IsNotExist(err) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: empty\n", dir)
			return nil
		}
		if err != nil {
			return fmt.Errorf("read cache: %w", err)
		}

		out := cmd.OutOrStdout()
		var total int64
		count := 0
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".mp") {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			if cacheClear {
				if err := os.Remove(filepath.Join(routines, e.Name())); err != nil {
					return fmt.Errorf("clear cache: %w", err)
				}
			}
			total += info.Size()
			count++
		}

		if cacheClear {
			fmt.Fprintf(out, "removed %d cached routines (%d bytes) from %s\n", count, total, dir)
			return nil
		}
		fmt.Fprintf(out, "%s: %d routines, %d bytes\n", dir, count, total)
		return nil
	},
}
