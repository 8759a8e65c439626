// Package version exposes build metadata injected via -ldflags.
package version

var (
	// Version is the release tag, or "dev" for local builds
	Version = "dev"
	// Commit is the git commit the binary was built from
	Commit = "dev"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)
