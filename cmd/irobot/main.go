// Command irobot runs the authenticating precache gateway: see
// cmd/irobot/commands for its subcommands.
package main

import (
	"os"

	"github.com/wtsi-hgi/irobot/cmd/irobot/commands"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		commands.PrintErr("Error: %v", err)
		os.Exit(1)
	}
}
