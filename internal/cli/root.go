// Package cli implements the workrail command-line entrypoint: a thin
// cobra tree around the MCP server and the orchestrator's dependencies,
// grounded on the teacher's internal/cli.NewRootCommand (simplified —
// not the teacher's full multi-command, background-process-spawning
// tree, which has no WorkRail equivalent).
package cli

import (
	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// SetVersion records build-time version information; the version string
// is what the root command's --version flag prints.
func SetVersion(v, c, b string) {
	version, commit, buildDate = v, c, b
}

// NewRootCommand builds the workrail root command and its subtree:
// serve, inspect, doctor.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workrail",
		Short: "WorkRail - a deterministic, replayable workflow engine for LLM agents",
		Long: `WorkRail drives an LLM agent through an authored workflow via five
tool verbs exposed over MCP: start_workflow, continue_workflow,
checkpoint_workflow, resume_session, plus list_workflows and
inspect_workflow for discovery.

Run 'workrail serve' to start the MCP server over stdio.
Run 'workrail doctor' to check the health of every recorded session.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newInspectCommand())
	cmd.AddCommand(newDoctorCommand())

	return cmd
}
