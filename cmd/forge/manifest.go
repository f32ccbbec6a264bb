package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"forge"
)

// forgeManifest is an optional forge.toml discovered upward from the
// working directory. It sets defaults the flags can still override.
type forgeManifest struct {
	Path   string
	Root   string
	Config buildConfig
}

type buildConfig struct {
	Build buildSection `toml:"build"`
}

type buildSection struct {
	Opt    string `toml:"opt"`     // none|less|default|aggressive
	Cache  string `toml:"cache"`   // routine cache directory
	DumpIR string `toml:"dump_ir"` // IR dump directory
}

func findForgeToml(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, "forge.toml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

func loadForgeManifest(startDir string) (*forgeManifest, bool, error) {
	path, ok, err := findForgeToml(startDir)
	if err != nil || !ok {
		return nil, ok, err
	}
	var cfg buildConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, true, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	return &forgeManifest{
		Path:   path,
		Root:   filepath.Dir(path),
		Config: cfg,
	}, true, nil
}

// applyManifestEnv exports the cache and dump directories so the build
// pipeline picks them up; explicit environment always wins.
func applyManifestEnv(m *forgeManifest) {
	if m == nil {
		return
	}
	if m.Config.Build.Cache != "" && os.Getenv("FORGE_CACHE") == "" {
		os.Setenv("FORGE_CACHE", absFromRoot(m.Root, m.Config.Build.Cache))
	}
	if m.Config.Build.DumpIR != "" && os.Getenv("FORGE_DUMP_IR") == "" {
		os.Setenv("FORGE_DUMP_IR", absFromRoot(m.Root, m.Config.Build.DumpIR))
	}
}

func absFromRoot(root, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

func optLevelFromName(name string) (forge.OptLevel, error) {
	switch name {
	case "", "default":
		return forge.OptDefault, nil
	case "none":
		return forge.OptNone, nil
	case "less":
		return forge.OptLess, nil
	case "aggressive":
		return forge.OptAggressive, nil
	}
	return forge.OptDefault, fmt.Errorf("unknown optimization level %q (none|less|default|aggressive)", name)
}

// resolveBuildConfig combines the manifest default with the --opt flag.
func resolveBuildConfig(flagOpt string) (forge.Config, error) {
	name := flagOpt
	if name == "" {
		if m, ok, err := loadForgeManifest("."); err != nil {
			return forge.Config{}, err
		} else if ok {
			applyManifestEnv(m)
			name = m.Config.Build.Opt
		}
	}
	level, err := optLevelFromName(name)
	if err != nil {
		return forge.Config{}, err
	}
	return forge.NewConfig(level), nil
}
