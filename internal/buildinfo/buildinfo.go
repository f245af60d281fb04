// Package buildinfo exposes compile-time metadata for the gateway binary.
package buildinfo

// Overridden via ldflags during release builds; defaults cover local
// development builds.
var (
	// Version is the semantic version or git describe output of the binary.
	Version = "dev"

	// Commit is the git commit SHA baked into the binary.
	Commit = "none"
)
