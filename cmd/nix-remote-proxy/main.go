// Command nix-remote-proxy is the proxy's process entry point: everything
// spec.md's §1 carves out of the core as "external collaborators" — spawning
// the daemon subprocess, the CLI surface, and logging configuration — lives
// here instead of in pkg/session or pkg/proxy.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
)

var cli struct {
	Serve       ServeCmd       `cmd:"" default:"1" help:"Run the proxy on stdin/stdout, proxying to a spawned daemon."`
	History     HistoryCmd     `cmd:"" help:"Show recent operations recorded in a journal database."`
	InspectDiff InspectDiffCmd `cmd:"" help:"Structurally diff two decoded NAR archives."`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("nix-remote-proxy"),
		kong.Description("A wire-compatible bidirectional proxy for the Nix remote-worker protocol."),
		kong.UsageOnError(),
	)

	if err := ctx.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "nix-remote-proxy: %v\n", err)
		os.Exit(1)
	}
}
