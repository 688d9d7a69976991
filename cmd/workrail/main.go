// Command workrail is the WorkRail CLI entrypoint, grounded on the
// teacher's cmd/conductor/main.go — version wiring, root command
// execution, and exit-code handling — simplified to WorkRail's three
// subcommands (serve, inspect, doctor) rather than the teacher's large
// controller/provider/secrets/triggers command tree, which has no
// WorkRail equivalent.
package main

import (
	"github.com/EtienneBBeaulac/workrail/internal/cli"
)

// Version information, injected via -ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildDate)

	rootCmd := cli.NewRootCommand()
	err := rootCmd.Execute()
	cli.HandleExitError(err)
}
