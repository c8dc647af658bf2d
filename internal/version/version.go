// Package version carries the build version, overridden at link time with
// -ldflags "-X github.com/danstis/ado-asana-sync/internal/version.Version=...".
package version

// Version is the semantic version of the build.
var Version = "0.0.0-dev"
