package version

import (
	"regexp"
	"testing"
)

// Version is assembled from colorized parts, so strip the escape codes
// before checking its shape.
var ansiRe = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func TestVersionIsSemver(t *testing.T) {
	plain := ansiRe.ReplaceAllString(Version, "")
	semver := regexp.MustCompile(`^\d+\.\d+\.\d+(-[0-9A-Za-z.\-]+)?$`)
	if !semver.MatchString(plain) {
		t.Errorf("Version = %q (plain %q), not a semantic version", Version, plain)
	}
}

func TestBuildMetadataOverride(t *testing.T) {
	origCommit, origMessage, origDate := GitCommit, GitMessage, BuildDate
	defer func() {
		GitCommit, GitMessage, BuildDate = origCommit, origMessage, origDate
	}()

	// Simulates -ldflags injection at build time.
	GitCommit = "a1b2c3d"
	GitMessage = "speed up frame pooling"
	BuildDate = "2026-08-26T12:00:00Z"

	if GitCommit != "a1b2c3d" || GitMessage != "speed up frame pooling" || BuildDate != "2026-08-26T12:00:00Z" {
		t.Errorf("build metadata did not take: %q %q %q", GitCommit, GitMessage, BuildDate)
	}
}

func TestBuildMetadataDefaultsEmpty(t *testing.T) {
	// The dev build carries no commit metadata; the CLI renders these
	// fields only when present.
	if GitCommit != "" && len(GitCommit) < 7 {
		t.Errorf("GitCommit = %q, want empty or a hash", GitCommit)
	}
	if BuildDate != "" {
		plain := ansiRe.ReplaceAllString(BuildDate, "")
		if plain != BuildDate {
			t.Errorf("BuildDate should not be colorized: %q", BuildDate)
		}
	}
}
