// Package version carries build information stamped in with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/banshee-data/fieldpose/internal/version.Version=1.2.0"
package version

import "fmt"

var (
	// Version is the release version.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// Info is the build information in a form suited to JSON status pages.
type Info struct {
	Version   string `json:"version"`
	GitSHA    string `json:"git_sha"`
	BuildTime string `json:"build_time"`
}

// Get returns the current build information.
func Get() Info {
	return Info{Version: Version, GitSHA: GitSHA, BuildTime: BuildTime}
}

// String returns a one-line description, as printed by -version.
func String() string {
	return fmt.Sprintf("fieldpose %s (%s, built %s)", Version, GitSHA, BuildTime)
}
