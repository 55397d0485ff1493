// Package version holds the release version stamped into builds.
package version

// Version is overridden at release time via -ldflags "-X datadb/internal/version.Version=...".
var Version = "0.2.0-dev"
