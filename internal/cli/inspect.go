package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/EtienneBBeaulac/workrail/internal/catalog"
	"github.com/EtienneBBeaulac/workrail/internal/config"
)

func newInspectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <workflowId>",
		Short: "Print a workflow's authored definition",
		Args:  cobra.ExactArgs(1),
		RunE:  runInspect,
	}
	return cmd
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return &ExitError{Code: ExitEngineError, Message: "failed to load configuration", Cause: err}
	}

	cat := catalog.New(cfg.WorkflowsDir(), nil)
	if err := cat.Reload(); err != nil {
		return &ExitError{Code: ExitEngineError, Message: "failed to load workflow catalog", Cause: err}
	}

	workflowID := args[0]
	def, ok := cat.Definition(workflowID)
	if !ok {
		return &ExitError{Code: ExitUsageError, Message: fmt.Sprintf("unknown workflow: %s", workflowID)}
	}

	data, err := json.MarshalIndent(def, "", "  ")
	if err != nil {
		return &ExitError{Code: ExitEngineError, Message: "failed to encode workflow definition", Cause: err}
	}
	fmt.Println(string(data))
	return nil
}
