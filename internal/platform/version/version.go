// Package version provides the statewal build version string.
// The version is set at build time via -ldflags.
package version

// Version is the node software version recorded in the runs table.
// Override at build time:
// go build -ldflags "-X github.com/louisbranch/statewal/internal/platform/version.Version=1.2.3"
var Version = "dev"
