package cli

import (
	"github.com/spf13/cobra"

	"github.com/EtienneBBeaulac/workrail/internal/catalog"
	"github.com/EtienneBBeaulac/workrail/internal/config"
	"github.com/EtienneBBeaulac/workrail/internal/mcpserver"
	"github.com/EtienneBBeaulac/workrail/internal/orchestrator"
	"github.com/EtienneBBeaulac/workrail/internal/resume"
	"github.com/EtienneBBeaulac/workrail/internal/sessionlog"
	"github.com/EtienneBBeaulac/workrail/internal/snapshotstore"
	"github.com/EtienneBBeaulac/workrail/internal/token"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the WorkRail MCP server over stdio",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return &ExitError{Code: ExitEngineError, Message: "failed to load configuration", Cause: err}
	}

	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		return &ExitError{Code: ExitUsageError, Message: "invalid log level", Cause: err}
	}

	secret, err := cfg.TokenSecret()
	if err != nil {
		return &ExitError{Code: ExitEngineError, Message: "failed to resolve token secret", Cause: err}
	}

	cat := catalog.New(cfg.WorkflowsDir(), logger)
	if err := cat.Reload(); err != nil {
		return &ExitError{Code: ExitEngineError, Message: "failed to load workflow catalog", Cause: err}
	}

	sessions := sessionlog.New(cfg.DataDir)
	snapshots := snapshotstore.New(cfg.DataDir)
	tokens := token.New(secret)

	git := resume.NewGitSignals()
	orch := orchestrator.New(sessions, snapshots, tokens, cat)
	orch.WithGitSignals(git)

	idx, err := resume.OpenIndex(cfg.DataDir)
	if err != nil {
		return &ExitError{Code: ExitEngineError, Message: "failed to open resume index", Cause: err}
	}
	resolver := resume.New(sessions, idx, tokens, git, cfg.DataDir)

	server, err := mcpserver.NewServer(mcpserver.Config{
		Name:         "workrail",
		Version:      version,
		Orchestrator: orch,
		Catalog:      cat,
		Resolver:     resolver,
		Logger:       logger,
	})
	if err != nil {
		return &ExitError{Code: ExitEngineError, Message: "failed to build MCP server", Cause: err}
	}

	if err := server.Run(cmd.Context()); err != nil {
		return &ExitError{Code: ExitEngineError, Message: "MCP server exited with an error", Cause: err}
	}
	return nil
}
