package version

import "fmt"

// Commit is set at build time via ldflags.
var Commit = "unknown"

// String returns the version string (commit-hash based, no semver).
func String() string {
	return fmt.Sprintf("deck-notify (commit: %s)", shortCommit())
}

func shortCommit() string {
	if len(Commit) > 7 {
		return Commit[:7]
	}
	return Commit
}
