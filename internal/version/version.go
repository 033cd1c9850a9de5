// Package version reports the build version of sonoff-tasmotizer.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set at build time:
//
//	go build -ldflags="-X github.com/tasmotizer/sonoff-tasmotizer/internal/version.Version=v1.2.3 \
//	                   -X github.com/tasmotizer/sonoff-tasmotizer/internal/version.Commit=abc123"
//
// Unset values are taken from the VCS stamp in the build info, then
// default to "dev" and "unknown".
var (
	Version = ""
	Commit  = ""
	Date    = ""
)

func init() {
	if Version == "" || Commit == "" || Date == "" {
		fromBuildInfo(debug.ReadBuildInfo())
	}
	if Version == "" {
		Version = "dev"
	}
	if Commit == "" {
		Commit = "unknown"
	}
}

func fromBuildInfo(info *debug.BuildInfo, ok bool) {
	if !ok || info == nil {
		return
	}

	if Version == "" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}

	var revision, modified string
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			modified = setting.Value
		case "vcs.time":
			if Date == "" {
				Date = setting.Value
			}
		}
	}

	if Commit == "" && revision != "" {
		if len(revision) > 7 {
			revision = revision[:7]
		}
		Commit = revision
		if modified == "true" {
			Commit += "-dirty"
		}
	}
}

// Full returns the version with its commit
func Full() string {
	return fmt.Sprintf("%s (commit: %s)", Version, Commit)
}

// Detailed is the output of the version command
func Detailed() string {
	s := fmt.Sprintf("sonoff-tasmotizer %s\n  commit: %s\n", Version, Commit)
	if Date != "" {
		s += fmt.Sprintf("  built:  %s\n", Date)
	}
	return s + fmt.Sprintf("  go:     %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// UserAgent identifies the tool in outgoing HTTP requests
func UserAgent() string {
	return "sonoff-tasmotizer/" + Version
}
