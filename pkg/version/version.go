// Package version exposes build version information for streamgate.
package version

import (
	"fmt"
	"runtime"
)

// Build information. Overridden at link time via -ldflags.
var (
	BuildVersion = "0.1.0"
	BuildCommit  = "unknown"
	BuildDate    = "unknown"
)

// Info returns version details as a map for health and metrics reporting.
func Info() map[string]string {
	return map[string]string{
		"version":    BuildVersion,
		"commit":     BuildCommit,
		"build_date": BuildDate,
		"go_version": runtime.Version(),
	}
}

// String returns a human-readable version line.
func String() string {
	return fmt.Sprintf("streamgate %s (commit %s, built %s, %s)",
		BuildVersion, BuildCommit, BuildDate, runtime.Version())
}
