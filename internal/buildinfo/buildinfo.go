// Package buildinfo holds version metadata injected at link time via
// -ldflags.
package buildinfo

var (
	// Version is the gateway's release version, or "dev" outside a release build.
	Version = "dev"
	// Commit is the git commit the binary was built from.
	Commit = "none"
	// BuildDate is the UTC build timestamp, or "unknown" for local builds.
	BuildDate = "unknown"
)
