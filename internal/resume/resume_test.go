package resume_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/EtienneBBeaulac/workrail/internal/orchestrator"
	"github.com/EtienneBBeaulac/workrail/internal/resume"
	"github.com/EtienneBBeaulac/workrail/internal/sessionlog"
	"github.com/EtienneBBeaulac/workrail/internal/snapshotstore"
	"github.com/EtienneBBeaulac/workrail/internal/token"
	"github.com/EtienneBBeaulac/workrail/pkg/workflow"
)

type fakeCatalog struct {
	compiled *workflow.CompiledWorkflow
}

func (f *fakeCatalog) Compiled(workflowID string) (*workflow.CompiledWorkflow, bool, error) {
	if workflowID != f.compiled.ID {
		return nil, false, nil
	}
	return f.compiled, true, nil
}

// fakeGit reports a fixed (sha, branch) per workspace path, letting tests
// simulate several git repos without shelling out.
type fakeGit struct {
	signals map[string]struct{ sha, branch string }
}

func (g *fakeGit) HeadSHA(ctx context.Context, workspacePath string) (string, bool) {
	s, ok := g.signals[workspacePath]
	if !ok || s.sha == "" {
		return "", false
	}
	return s.sha, true
}

func (g *fakeGit) Branch(ctx context.Context, workspacePath string) (string, bool) {
	s, ok := g.signals[workspacePath]
	if !ok || s.branch == "" {
		return "", false
	}
	return s.branch, true
}

func oneStepWorkflow(t *testing.T, id string) *workflow.CompiledWorkflow {
	t.Helper()
	def := &workflow.Definition{
		ID:      id,
		Version: "1",
		Steps: []workflow.StepDef{
			{ID: "only", Kind: workflow.StepKindLeaf, Prompt: "do the thing"},
		},
	}
	compiled, err := workflow.Compile(def, workflow.CompileOptions{})
	require.NoError(t, err)
	return compiled
}

func TestResumeRanksBySHAThenBranchThenRecency(t *testing.T) {
	dataDir := t.TempDir()
	sessions := sessionlog.New(dataDir)
	snapshots := snapshotstore.New(t.TempDir())
	tokens := token.New([]byte("test-secret-at-least-32-bytes-long!"))

	git := &fakeGit{signals: map[string]struct{ sha, branch string }{
		"/repo-a": {sha: "sha-current", branch: "other-branch"},
		"/repo-b": {sha: "sha-other", branch: "feature-x"},
		"/repo-c": {sha: "sha-unrelated", branch: "unrelated-branch"},
		"/cwd":    {sha: "sha-current", branch: "feature-x"},
	}}

	ctx := context.Background()
	start := func(workflowID, workspace string) {
		compiled := oneStepWorkflow(t, workflowID)
		o := orchestrator.New(sessions, snapshots, tokens, &fakeCatalog{compiled: compiled}).WithGitSignals(git)
		_, err := o.Start(ctx, orchestrator.StartRequest{WorkflowID: compiled.ID, WorkspacePath: workspace})
		require.NoError(t, err)
	}
	start("wf-a", "/repo-a")
	start("wf-b", "/repo-b")
	start("wf-c", "/repo-c")

	idx, err := resume.OpenIndex(dataDir)
	require.NoError(t, err)
	defer idx.Close()

	resolver := resume.New(sessions, idx, tokens, git, dataDir)
	candidates, err := resolver.Resume(ctx, "/cwd", "")
	require.NoError(t, err)
	require.Len(t, candidates, 3)

	require.Equal(t, "wf-a", candidates[0].WorkflowID)
	require.Equal(t, 1, candidates[0].Rank)
	require.Equal(t, "wf-b", candidates[1].WorkflowID)
	require.Equal(t, 2, candidates[1].Rank)
	require.Equal(t, "wf-c", candidates[2].WorkflowID)
	require.Equal(t, 5, candidates[2].Rank)

	for _, c := range candidates {
		require.NotEmpty(t, c.StateToken)
	}
}

func TestResumeQueryMatchesNotesBeforeWorkflowID(t *testing.T) {
	dataDir := t.TempDir()
	sessions := sessionlog.New(dataDir)
	snapshots := snapshotstore.New(t.TempDir())
	tokens := token.New([]byte("test-secret-at-least-32-bytes-long!"))

	ctx := context.Background()
	compiledNotes := oneStepWorkflow(t, "wf-notes")
	oNotes := orchestrator.New(sessions, snapshots, tokens, &fakeCatalog{compiled: compiledNotes})
	startNotes, err := oNotes.Start(ctx, orchestrator.StartRequest{WorkflowID: compiledNotes.ID})
	require.NoError(t, err)
	_, err = oNotes.Continue(ctx, orchestrator.ContinueRequest{
		StateToken: startNotes.StateToken, AckToken: startNotes.AckToken, Output: "refactoring the payments module",
	})
	require.NoError(t, err)

	compiledMatch := oneStepWorkflow(t, "payments-migration")
	oMatch := orchestrator.New(sessions, snapshots, tokens, &fakeCatalog{compiled: compiledMatch})
	_, err = oMatch.Start(ctx, orchestrator.StartRequest{WorkflowID: compiledMatch.ID})
	require.NoError(t, err)

	idx, err := resume.OpenIndex(dataDir)
	require.NoError(t, err)
	defer idx.Close()

	resolver := resume.New(sessions, idx, tokens, nil, dataDir)
	candidates, err := resolver.Resume(ctx, "", "payments")
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	require.Equal(t, "wf-notes", candidates[0].WorkflowID)
	require.Equal(t, 3, candidates[0].Rank)
	require.Equal(t, "payments-migration", candidates[1].WorkflowID)
	require.Equal(t, 4, candidates[1].Rank)
}

func TestResumeIndexIsRebuiltLazily(t *testing.T) {
	dataDir := t.TempDir()
	sessions := sessionlog.New(dataDir)
	snapshots := snapshotstore.New(t.TempDir())
	tokens := token.New([]byte("test-secret-at-least-32-bytes-long!"))

	ctx := context.Background()
	compiled := oneStepWorkflow(t, "wf-solo")
	o := orchestrator.New(sessions, snapshots, tokens, &fakeCatalog{compiled: compiled})
	_, err := o.Start(ctx, orchestrator.StartRequest{WorkflowID: compiled.ID})
	require.NoError(t, err)

	idx, err := resume.OpenIndex(dataDir)
	require.NoError(t, err)
	defer idx.Close()

	all, err := idx.All(ctx)
	require.NoError(t, err)
	require.Empty(t, all, "index starts empty until a Resume syncs it")

	resolver := resume.New(sessions, idx, tokens, nil, dataDir)
	candidates, err := resolver.Resume(ctx, "", "")
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	all, err = idx.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}
