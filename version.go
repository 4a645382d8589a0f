package klatch

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

var (
	// Version is the release version, overridable with -ldflags.
	Version = "v0.3.0"
	// GitCommit falls back to the vcs.revision build setting.
	GitCommit = ""
	// BuildDate falls back to the vcs.time build setting.
	BuildDate = ""
)

var buildInfoOnce sync.Once

// resolveBuildInfo fills GitCommit and BuildDate from the embedded build
// settings when -ldflags left them empty.
func resolveBuildInfo() {
	buildInfoOnce.Do(func() {
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, s := range info.Settings {
				switch s.Key {
				case "vcs.revision":
					if GitCommit == "" {
						GitCommit = shortRevision(s.Value)
					}
				case "vcs.time":
					if BuildDate == "" {
						BuildDate = s.Value
					}
				}
			}
		}
		if GitCommit == "" {
			GitCommit = "unknown"
		}
		if BuildDate == "" {
			BuildDate = "unknown"
		}
	})
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

// GetVersion returns a one-line version string for the CLI.
func GetVersion() string {
	resolveBuildInfo()
	return fmt.Sprintf("klatch %s (commit %s, built %s, %s %s/%s)",
		Version, GitCommit, BuildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// GetVersionInfo returns version metadata for logs and the gateway health
// endpoint.
func GetVersionInfo() map[string]string {
	resolveBuildInfo()
	return map[string]string{
		"version":    Version,
		"commit":     GitCommit,
		"build_date": BuildDate,
		"go_version": runtime.Version(),
		"platform":   runtime.GOOS + "/" + runtime.GOARCH,
	}
}
