// Package version holds the build version of caremax, set via ldflags:
//
//	go build -ldflags "-X github.com/vortexion256/caremax-sub002/pkg/version.Version=v1.2.3" ./cmd/caremax
package version

import "fmt"

//nolint:gochecknoglobals // These must be package-level vars for ldflags injection.
var (
	// Version is the semantic version, "dev" for development builds.
	Version = "dev"

	// Commit is the git commit SHA of the build.
	Commit = "none"

	// Date is the build date in ISO format.
	Date = "unknown"
)

// String renders the version for humans.
func String() string {
	return fmt.Sprintf("caremax %s\n  commit: %s\n  built:  %s", Version, Commit, Date)
}
