package orchestrator_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/EtienneBBeaulac/workrail/internal/orchestrator"
	"github.com/EtienneBBeaulac/workrail/internal/sessionlog"
	"github.com/EtienneBBeaulac/workrail/internal/snapshotstore"
	"github.com/EtienneBBeaulac/workrail/internal/token"
	wrerrors "github.com/EtienneBBeaulac/workrail/pkg/errors"
	"github.com/EtienneBBeaulac/workrail/pkg/workflow"
)

type fakeCatalog struct {
	workflows map[string]*workflow.CompiledWorkflow
}

func (f *fakeCatalog) Compiled(workflowID string) (*workflow.CompiledWorkflow, bool, error) {
	c, ok := f.workflows[workflowID]
	return c, ok, nil
}

func newOrchestrator(t *testing.T, compiled *workflow.CompiledWorkflow) *orchestrator.Orchestrator {
	t.Helper()
	sessions := sessionlog.New(t.TempDir())
	snapshots := snapshotstore.New(t.TempDir())
	tokens := token.New([]byte("test-secret-at-least-32-bytes-long!"))
	catalog := &fakeCatalog{workflows: map[string]*workflow.CompiledWorkflow{compiled.ID: compiled}}
	return orchestrator.New(sessions, snapshots, tokens, catalog)
}

// linearWorkflow compiles a two-leaf-step workflow: "draft" (guarded by a
// contains-rule validationCriteria) then "review" (unconditional).
func linearWorkflow(t *testing.T) *workflow.CompiledWorkflow {
	t.Helper()
	criteria, err := json.Marshal(map[string]interface{}{"contains": "done"})
	require.NoError(t, err)
	def := &workflow.Definition{
		ID:      "two-step",
		Version: "1",
		Steps: []workflow.StepDef{
			{ID: "draft", Kind: workflow.StepKindLeaf, Prompt: "write a draft", ValidationCriteria: criteria},
			{ID: "review", Kind: workflow.StepKindLeaf, Prompt: "review the draft"},
		},
	}
	compiled, err := workflow.Compile(def, workflow.CompileOptions{})
	require.NoError(t, err)
	return compiled
}

// loopControlWorkflow compiles a while-loop workflow whose single body step
// emits a wr.contracts.loop_control artifact to decide continuation.
func loopControlWorkflow(t *testing.T) *workflow.CompiledWorkflow {
	t.Helper()
	def := &workflow.Definition{
		ID:      "loopy",
		Version: "1",
		Steps: []workflow.StepDef{
			{
				ID:   "iterate",
				Kind: workflow.StepKindLoop,
				Loop: &workflow.LoopConfig{
					Kind:          workflow.LoopWhile,
					MaxIterations: 5,
					ConditionSource: &workflow.ConditionSourceConfig{
						Kind: workflow.ConditionSourceArtifactContract,
						Ref:  workflow.LoopControlContractRef,
					},
					Body: workflow.LoopBody{Inline: []workflow.StepDef{
						{ID: "step", Kind: workflow.StepKindLeaf, Prompt: "work",
							OutputContract: &workflow.OutputContract{Ref: workflow.LoopControlContractRef}},
					}},
				},
			},
		},
	}
	compiled, err := workflow.Compile(def, workflow.CompileOptions{})
	require.NoError(t, err)
	return compiled
}

func TestStartThenAdvanceThroughCompletion(t *testing.T) {
	compiled := linearWorkflow(t)
	o := newOrchestrator(t, compiled)
	ctx := context.Background()

	start, err := o.Start(ctx, orchestrator.StartRequest{WorkflowID: compiled.ID})
	require.NoError(t, err)
	require.False(t, start.IsComplete)
	require.NotNil(t, start.Pending)
	require.Equal(t, "draft", start.Pending.StepID)
	require.Equal(t, orchestrator.IntentPerformPendingThenContinue, start.NextIntent)

	res, err := o.Continue(ctx, orchestrator.ContinueRequest{
		StateToken: start.StateToken,
		AckToken:   start.AckToken,
		Output:     "this draft is done",
	})
	require.NoError(t, err)
	require.Equal(t, "ok", res.Kind)
	require.NotNil(t, res.Pending)
	require.Equal(t, "review", res.Pending.StepID)
	require.False(t, res.IsComplete)

	final, err := o.Continue(ctx, orchestrator.ContinueRequest{
		StateToken: res.StateToken,
		AckToken:   res.AckToken,
		Output:     "looks good",
	})
	require.NoError(t, err)
	require.Equal(t, "ok", final.Kind)
	require.True(t, final.IsComplete)
	require.Nil(t, final.Pending)
	require.Equal(t, orchestrator.IntentComplete, final.NextIntent)
	require.Nil(t, final.NextCall)
}

// unsatisfiableWorkflow compiles a single-step workflow whose only step is
// gated by a runCondition that start_workflow's empty context can never
// satisfy.
func unsatisfiableWorkflow(t *testing.T) *workflow.CompiledWorkflow {
	t.Helper()
	def := &workflow.Definition{
		ID:      "gated",
		Version: "1",
		Steps: []workflow.StepDef{
			{ID: "deploy", Kind: workflow.StepKindLeaf, Prompt: "deploy it",
				RunCondition: &workflow.Predicate{Var: "approved", Equals: true}},
		},
	}
	compiled, err := workflow.Compile(def, workflow.CompileOptions{})
	require.NoError(t, err)
	return compiled
}

func TestStartFailsClosedWhenRunConditionIsUnsatisfiable(t *testing.T) {
	compiled := unsatisfiableWorkflow(t)
	o := newOrchestrator(t, compiled)
	ctx := context.Background()

	_, err := o.Start(ctx, orchestrator.StartRequest{WorkflowID: compiled.ID, Context: map[string]interface{}{"approved": false}})
	require.Error(t, err)

	var precErr *wrerrors.PreconditionError
	require.ErrorAs(t, err, &precErr)
	require.Contains(t, precErr.Details, "approved")
}

func TestInvalidOutputRecordsRetryableBlocker(t *testing.T) {
	compiled := linearWorkflow(t)
	o := newOrchestrator(t, compiled)
	ctx := context.Background()

	start, err := o.Start(ctx, orchestrator.StartRequest{WorkflowID: compiled.ID})
	require.NoError(t, err)

	blocked, err := o.Continue(ctx, orchestrator.ContinueRequest{
		StateToken: start.StateToken,
		AckToken:   start.AckToken,
		Output:     "not finished yet",
	})
	require.NoError(t, err)
	require.Equal(t, "blocked", blocked.Kind)
	require.True(t, blocked.Retryable)
	require.NotEmpty(t, blocked.Blockers)
	require.NotEmpty(t, blocked.RetryAckToken)
	require.Equal(t, orchestrator.IntentAwaitUserConfirmation, blocked.NextIntent)

	retried, err := o.Continue(ctx, orchestrator.ContinueRequest{
		StateToken: blocked.StateToken,
		AckToken:   blocked.RetryAckToken,
		Output:     "this draft is done",
	})
	require.NoError(t, err)
	require.Equal(t, "ok", retried.Kind)
	require.Equal(t, "review", retried.Pending.StepID)
}

func TestReplayOfSameAckTokenIsIdempotent(t *testing.T) {
	compiled := linearWorkflow(t)
	o := newOrchestrator(t, compiled)
	ctx := context.Background()

	start, err := o.Start(ctx, orchestrator.StartRequest{WorkflowID: compiled.ID})
	require.NoError(t, err)

	req := orchestrator.ContinueRequest{StateToken: start.StateToken, AckToken: start.AckToken, Output: "this draft is done"}
	first, err := o.Continue(ctx, req)
	require.NoError(t, err)

	second, err := o.Continue(ctx, req)
	require.NoError(t, err)
	require.Equal(t, first.Kind, second.Kind)
	require.Equal(t, first.StateToken, second.StateToken)
	require.Equal(t, first.Pending.StepID, second.Pending.StepID)
}

func TestRehydrateWithoutAckIsReadOnly(t *testing.T) {
	compiled := linearWorkflow(t)
	o := newOrchestrator(t, compiled)
	ctx := context.Background()

	start, err := o.Start(ctx, orchestrator.StartRequest{WorkflowID: compiled.ID})
	require.NoError(t, err)

	rehydrated, err := o.Continue(ctx, orchestrator.ContinueRequest{StateToken: start.StateToken})
	require.NoError(t, err)
	require.Equal(t, "ok", rehydrated.Kind)
	require.Equal(t, "draft", rehydrated.Pending.StepID)
	require.Equal(t, orchestrator.IntentRehydrateOnly, rehydrated.NextIntent)

	again, err := o.Continue(ctx, orchestrator.ContinueRequest{StateToken: start.StateToken})
	require.NoError(t, err)
	require.Equal(t, "draft", again.Pending.StepID)
}

func TestCheckpointIsIdempotentUnderReplay(t *testing.T) {
	compiled := linearWorkflow(t)
	o := newOrchestrator(t, compiled)
	ctx := context.Background()

	start, err := o.Start(ctx, orchestrator.StartRequest{WorkflowID: compiled.ID})
	require.NoError(t, err)

	first, err := o.Checkpoint(ctx, start.CheckpointToken)
	require.NoError(t, err)
	require.NotEmpty(t, first.CheckpointNodeID)

	second, err := o.Checkpoint(ctx, start.CheckpointToken)
	require.NoError(t, err)
	require.Equal(t, first.CheckpointNodeID, second.CheckpointNodeID)
}

func TestLoopControlArtifactDrivesWhileLoopContinuation(t *testing.T) {
	compiled := loopControlWorkflow(t)
	o := newOrchestrator(t, compiled)
	ctx := context.Background()

	start, err := o.Start(ctx, orchestrator.StartRequest{WorkflowID: compiled.ID})
	require.NoError(t, err)
	require.Equal(t, "step", start.Pending.StepID)

	iter1, err := o.Continue(ctx, orchestrator.ContinueRequest{
		StateToken: start.StateToken, AckToken: start.AckToken, Output: `{"decision":"continue"}`,
	})
	require.NoError(t, err)
	require.Equal(t, "ok", iter1.Kind)
	require.NotNil(t, iter1.Pending)
	require.Equal(t, "step", iter1.Pending.StepID)

	iter2, err := o.Continue(ctx, orchestrator.ContinueRequest{
		StateToken: iter1.StateToken, AckToken: iter1.AckToken, Output: `{"decision":"stop"}`,
	})
	require.NoError(t, err)
	require.True(t, iter2.IsComplete)
}
