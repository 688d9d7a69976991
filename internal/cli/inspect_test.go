package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const inspectDemoWorkflowYAML = `
id: demo
version: "1"
steps:
  - id: only
    kind: leaf
    prompt: do the thing
`

func TestRunInspectUnknownWorkflowIsUsageError(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("WORKRAIL_DATA_DIR", dataDir)
	require.NoError(t, os.MkdirAll(filepath.Join(dataDir, "workflows"), 0o755))

	cmd := newInspectCommand()
	err := runInspect(cmd, []string{"missing"})
	require.Error(t, err)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, ExitUsageError, exitErr.Code)
}

func TestRunInspectKnownWorkflowSucceeds(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("WORKRAIL_DATA_DIR", dataDir)
	workflowsDir := filepath.Join(dataDir, "workflows")
	require.NoError(t, os.MkdirAll(workflowsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(workflowsDir, "demo.yaml"), []byte(inspectDemoWorkflowYAML), 0o644))

	cmd := newInspectCommand()
	err := runInspect(cmd, []string{"demo"})
	require.NoError(t, err)
}
