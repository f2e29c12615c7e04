// Package version holds build identity for the tamaki binary.
//
// Version and Commit are set at build time via -ldflags. When Commit is
// empty (e.g. a plain `go build`), the VCS revision embedded by the
// toolchain is used instead.
package version

import (
	"fmt"
	"runtime/debug"
)

// Set via -ldflags "-X .../internal/version.Version=... -X .../internal/version.Commit=...".
var (
	Version = "dev"
	Commit  = ""
)

// SetCommit overrides the build commit. Used by tests.
func SetCommit(hash string) {
	Commit = hash
}

// ShortCommit truncates a commit hash to 12 characters for display.
func ShortCommit(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

// resolveCommitHash returns the explicit Commit if set, otherwise the
// vcs.revision recorded in the binary's build info.
func resolveCommitHash() string {
	if Commit != "" {
		return Commit
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}
	return ""
}

// String returns the full version string, e.g. "0.3.0 (abc123def456)".
func String() string {
	commit := resolveCommitHash()
	if commit == "" {
		return Version
	}
	return fmt.Sprintf("%s (%s)", Version, ShortCommit(commit))
}
