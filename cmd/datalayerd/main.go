// Package main is the single-binary entrypoint for datalayerd, the
// multi-region data-layer resilience daemon.
package main

import "github.com/hse-digital/datalayer/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
