// Package version holds the build version, set with
// -ldflags "-X github.com/me/framesched/internal/version.Version=...".
package version

// Version is the framesched release.
var Version = "0.1.0-dev"
