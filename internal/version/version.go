// Package version exposes the build version string.
package version

import (
	"runtime/debug"
)

// Version is the release version, overridable via ldflags at build time.
var Version = "dev"

// Info returns the version plus the short VCS revision when the binary
// carries build info.
func Info() string {
	revision := ""
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				revision = setting.Value
			}
		}
	}
	if revision == "" {
		return Version
	}
	if len(revision) > 7 {
		revision = revision[:7]
	}
	return Version + " (" + revision + ")"
}
