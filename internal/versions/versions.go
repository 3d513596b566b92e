// Package versions reports build information for the binary.
package versions

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Set at build time with -ldflags "-X github.com/stacklok/notes-collab-server/internal/versions.Version=..."
var (
	Version   = "dev"
	Commit    = ""
	BuildDate = ""
)

// VersionInfo describes the running binary.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetVersionInfo returns the build information, falling back to the VCS
// stamp embedded by the Go toolchain when no ldflags were given.
func GetVersionInfo() VersionInfo {
	info := VersionInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.Commit == "" {
					info.Commit = s.Value
				}
			case "vcs.time":
				if info.BuildDate == "" {
					info.BuildDate = s.Value
				}
			}
		}
	}
	if info.Commit == "" {
		info.Commit = "unknown"
	}
	if info.BuildDate == "" {
		info.BuildDate = "unknown"
	}
	return info
}

// IsRelease reports whether the version is a semantic version without a
// prerelease suffix.
func (v VersionInfo) IsRelease() bool {
	sv, err := semver.StrictNewVersion(strings.TrimPrefix(v.Version, "v"))
	if err != nil {
		return false
	}
	return sv.Prerelease() == ""
}

// String renders the info on one line.
func (v VersionInfo) String() string {
	return fmt.Sprintf("%s (commit %s, built %s, %s %s)", v.Version, v.Commit, v.BuildDate, v.GoVersion, v.Platform)
}
