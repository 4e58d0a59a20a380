// Package version carries build metadata injected at link time.
package version

import "fmt"

// Set via -ldflags "-X repolens/internal/version.Version=..." at build time.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info returns a single human-readable version line.
func Info() string {
	return fmt.Sprintf("repolens %s (commit %s, built %s)", Version, Commit, Date)
}
