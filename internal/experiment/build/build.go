// Package build holds build information, set with -ldflags at link time.
package build

import "runtime"

var (
	ReleaseVersion = "development"
	GitCommit      = "unknown"
	BuildTime      = "unknown"
	GoVersion      = runtime.Version()
)
