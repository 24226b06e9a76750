// Package main is the entry point for the gcessh CLI.
//
// gcessh opens authenticated SSH sessions to Compute Engine instances
// without any pre-provisioned credential: it generates an ephemeral key
// pair per connection, publishes the public key through instance metadata
// or OS Login, and connects directly or through an IAP tunnel.
//
// For detailed usage information, run:
//
//	gcessh --help
package main

import (
	"fmt"
	"os"

	"github.com/tverly/gcessh/cmd/gcessh/commands"
)

// Version information set by goreleaser at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)
	if err := commands.Root().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
