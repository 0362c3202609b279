// Package version holds build metadata, stamped with
// -ldflags "-X github.com/pysugar/nexus-gateway/internal/version.Version=v1.2.0".
package version

import "fmt"

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

// String renders "v1.2.0 (abc1234, 2026-01-02T15:04:05Z)", or just the
// version when no commit was stamped.
func String() string {
	if Commit == "none" {
		return Version
	}
	commit := Commit
	if len(commit) > 7 {
		commit = commit[:7]
	}
	return fmt.Sprintf("%s (%s, %s)", Version, commit, BuildTime)
}

// Info is the /api/version body.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"commit":     Commit,
		"build_time": BuildTime,
	}
}
