// Package version holds build information set with -ldflags
package version

import "fmt"

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// String returns a one-line description of the build
func String() string {
	return fmt.Sprintf("roster %s (commit %s, built %s)", Version, GitCommit, BuildTime)
}
