// Package version carries build information injected with ldflags, e.g.
// go build -ldflags "-X programmer/pkg/version.Version=v1.2.3".
package version

import "fmt"

//nolint:gochecknoglobals // set by the linker
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String renders the build information on one line.
func String() string {
	return fmt.Sprintf("programmer %s (commit %s, built %s)", Version, Commit, Date)
}
