// Package buildinfo exposes build-time properties injected via ldflags:
//
//	go build -ldflags "-X github.com/nomis52/embedflow/buildinfo.version=v1.2.0 \
//	  -X github.com/nomis52/embedflow/buildinfo.gitCommit=$(git rev-parse HEAD)"
package buildinfo

import "runtime"

// Properties holds build-time properties.
type Properties struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
	GoVersion string `json:"go_version"`
}

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// Get returns the current build properties.
func Get() Properties {
	return Properties{
		Version:   version,
		BuildTime: buildTime,
		GitCommit: gitCommit,
		GoVersion: runtime.Version(),
	}
}

// UserAgent identifies embedflow in outgoing requests.
func UserAgent() string {
	return "embedflow/" + version
}
