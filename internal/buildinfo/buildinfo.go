// Package buildinfo holds version metadata and process uptime tracking.
package buildinfo

import (
	"runtime"
	"time"
)

// Version is set at build time via -ldflags; "dev" otherwise.
var Version = "dev"

// startTime records when the process started.
var startTime = time.Now()

// Uptime returns the duration since process start, truncated to whole seconds.
func Uptime() time.Duration {
	return time.Since(startTime).Truncate(time.Second)
}

// GoVersion returns the Go runtime version the binary was built with.
func GoVersion() string {
	return runtime.Version()
}
