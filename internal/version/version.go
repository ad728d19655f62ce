// Package version reports the psf2rom release. Release builds set the
// variables below with -ldflags; `go install` builds fall back to the module
// and VCS data the toolchain embeds.
package version

import "runtime/debug"

// Name is the program name reported by the CLI and the HTTP server.
const Name = "psf2rom"

var (
	// Version is the release version (set via -ldflags).
	Version = ""
	// Commit is the git commit hash (set via -ldflags).
	Commit = ""
	// BuildTime is the build timestamp (set via -ldflags).
	BuildTime = ""
)

// readBuildInfo is replaced in tests.
var readBuildInfo = debug.ReadBuildInfo

type Info struct {
	Version   string
	Commit    string
	BuildTime string
	Modified  bool
}

// Resolve merges the ldflags values with the embedded build info. ldflags
// always win; a binary with neither reports "dev".
func Resolve() Info {
	info := Info{Version: Version, Commit: Commit, BuildTime: BuildTime}

	if bi, ok := readBuildInfo(); ok {
		if info.Version == "" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.Commit == "" {
					info.Commit = s.Value
				}
			case "vcs.time":
				if info.BuildTime == "" {
					info.BuildTime = s.Value
				}
			case "vcs.modified":
				info.Modified = s.Value == "true" && Commit == ""
			}
		}
	}

	if info.Version == "" {
		info.Version = "dev"
	}
	return info
}

// String is the version line printed by `psf2rom version`, eg
// "v1.2.0 (0123456789ab)" or "dev (0123456789ab, modified)".
func String() string {
	info := Resolve()
	if info.Commit == "" {
		return info.Version
	}
	commit := shortCommit(info.Commit)
	if info.Modified {
		commit += ", modified"
	}
	return info.Version + " (" + commit + ")"
}

// UserAgent is sent in the Server header, eg "psf2rom/v1.2.0".
func UserAgent() string {
	return Name + "/" + Resolve().Version
}

func shortCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}
