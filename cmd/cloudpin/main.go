package main

import (
	"os"

	"github.com/cloudpin/resumable/internal/cli"
)

// Version information - overridden via LDFLAGS for release builds.
var (
	version   = "v0.3.0-dev"
	buildTime = "unknown"
)

func main() {
	cli.Version = version
	cli.BuildTime = buildTime

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
