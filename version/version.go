// Package version reports what build of the safety service is running,
// for the /version endpoint and deploy verification.
package version

import (
	"runtime"
	"runtime/debug"
	"strconv"
)

// Populated via -ldflags at release build time; a plain `go build`
// falls back to the VCS stamps in the binary's build info.
var (
	BuildVersion = "dev"
	GitSHA       = ""
	BuildTime    = ""
)

type Info struct {
	Service     string `json:"service"`
	Version     string `json:"version"`
	GitSHA      string `json:"git_sha,omitempty"`
	BuildTime   string `json:"build_time,omitempty"`
	VCSModified *bool  `json:"vcs_modified,omitempty"`
	GoVersion   string `json:"go_version"`
	GOOS        string `json:"go_os"`
	GOARCH      string `json:"go_arch"`
}

// Get assembles the build info for the named service.
func Get(service string) Info {
	info := Info{
		Service:   service,
		Version:   BuildVersion,
		GitSHA:    GitSHA,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		GOOS:      runtime.GOOS,
		GOARCH:    runtime.GOARCH,
	}
	fillFromBuildInfo(&info)
	return info
}

// fillFromBuildInfo backfills VCS details the linker flags did not set.
func fillFromBuildInfo(info *Info) {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.GitSHA == "" {
				info.GitSHA = s.Value
			}
		case "vcs.time":
			if info.BuildTime == "" {
				info.BuildTime = s.Value
			}
		case "vcs.modified":
			if info.VCSModified == nil {
				if b, err := strconv.ParseBool(s.Value); err == nil {
					info.VCSModified = &b
				}
			}
		}
	}
}
