// Command stevedore publishes Cargo workspace crates in dependency
// order, staging each crate with a rewritten manifest so the published
// copy is self-contained.
package main

import (
	"github.com/tidegate/stevedore/internal/cli"
)

// Build-time variables, injected via -ldflags at release time:
//
//	go build -ldflags "-X main.version=1.2.3 -X main.commit=abc1234 -X main.date=2026-08-25"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.Version = version
	cli.Commit = commit
	cli.Date = date

	cli.Execute(cli.NewRootCommand())
}
