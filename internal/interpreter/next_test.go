package interpreter_test

import (
	"context"
	"testing"

	"github.com/EtienneBBeaulac/workrail/internal/interpreter"
	"github.com/EtienneBBeaulac/workrail/internal/legacycond"
	"github.com/EtienneBBeaulac/workrail/internal/varpath"
	wrerrors "github.com/EtienneBBeaulac/workrail/pkg/errors"
	"github.com/EtienneBBeaulac/workrail/pkg/workflow"
	"github.com/stretchr/testify/require"
)

func newInterpreter() *interpreter.Interpreter {
	return interpreter.New(varpath.New(), legacycond.New())
}

func leaf(id string) workflow.StepDef {
	return workflow.StepDef{ID: id, Kind: workflow.StepKindLeaf, Prompt: "do " + id}
}

func mustCompile(t *testing.T, def *workflow.Definition) *workflow.CompiledWorkflow {
	t.Helper()
	cw, err := workflow.Compile(def, workflow.CompileOptions{})
	require.NoError(t, err)
	return cw
}

func TestNextLinearWorkflowCompletesInOrder(t *testing.T) {
	cw := mustCompile(t, &workflow.Definition{
		ID:    "wf.linear",
		Steps: []workflow.StepDef{leaf("a"), leaf("b")},
	})
	ip := newInterpreter()
	st := interpreter.Init()

	res, err := ip.Next(context.Background(), cw, st, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, res.Next)
	require.Equal(t, "a", res.Next.StepID)

	st, err = interpreter.ApplyEvent(res.State, interpreter.Event{Kind: interpreter.EventStepCompleted, StepInstanceKey: *res.Next})
	require.NoError(t, err)

	res, err = ip.Next(context.Background(), cw, st, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "b", res.Next.StepID)

	st, err = interpreter.ApplyEvent(res.State, interpreter.Event{Kind: interpreter.EventStepCompleted, StepInstanceKey: *res.Next})
	require.NoError(t, err)

	res, err = ip.Next(context.Background(), cw, st, nil, nil)
	require.NoError(t, err)
	require.True(t, res.IsComplete)
	require.Nil(t, res.Next)
}

func TestNextSkipsStepWithFalseRunCondition(t *testing.T) {
	cw := mustCompile(t, &workflow.Definition{
		ID: "wf.runcond",
		Steps: []workflow.StepDef{
			{ID: "maybe", Kind: workflow.StepKindLeaf, Prompt: "x", RunCondition: &workflow.Predicate{Var: "flag", Equals: true}},
			leaf("always"),
		},
	})
	ip := newInterpreter()
	res, err := ip.Next(context.Background(), cw, interpreter.Init(), map[string]interface{}{"flag": false}, nil)
	require.NoError(t, err)
	require.Equal(t, "always", res.Next.StepID)
}

func TestNextFailsClosedWhenEveryStepIsBlockedByRunCondition(t *testing.T) {
	cw := mustCompile(t, &workflow.Definition{
		ID: "wf.allblocked",
		Steps: []workflow.StepDef{
			{ID: "a", Kind: workflow.StepKindLeaf, Prompt: "x", RunCondition: &workflow.Predicate{Var: "ready", Equals: true}},
			{ID: "b", Kind: workflow.StepKindLeaf, Prompt: "y", RunCondition: &workflow.Predicate{Var: "ready", Equals: true}},
		},
	})
	ip := newInterpreter()

	res, err := ip.Next(context.Background(), cw, interpreter.Init(), map[string]interface{}{"ready": false}, nil)
	require.Error(t, err)
	require.False(t, res.IsComplete, "an unsatisfiable runCondition must not be reported as completion")

	var ierr *wrerrors.InterpreterError
	require.ErrorAs(t, err, &ierr)
	require.Equal(t, wrerrors.InterpreterUnsatisfiableCondition, ierr.Kind)
	require.Equal(t, "ready", ierr.Variable)
	require.Equal(t, true, ierr.Expected)
	require.Equal(t, false, ierr.Current)
	require.Equal(t, "b", ierr.StepID, "the last step scanTopLevel skipped names the guidance")
}

func TestNextForLoopRunsFixedCount(t *testing.T) {
	cw := mustCompile(t, &workflow.Definition{
		ID: "wf.for",
		Steps: []workflow.StepDef{
			{
				ID:   "loop",
				Kind: workflow.StepKindLoop,
				Loop: &workflow.LoopConfig{
					Kind: workflow.LoopFor, MaxIterations: 10,
					Count: &workflow.CountSpec{Literal: intPtr(2)},
					Body:  workflow.LoopBody{Inline: []workflow.StepDef{leaf("body")}},
				},
			},
		},
	})
	ip := newInterpreter()
	st := interpreter.Init()
	var selections []string

	for i := 0; i < 10; i++ {
		res, err := ip.Next(context.Background(), cw, st, nil, nil)
		require.NoError(t, err)
		if res.IsComplete {
			break
		}
		require.NotNil(t, res.Next)
		selections = append(selections, res.Next.StepID)
		st, err = interpreter.ApplyEvent(res.State, interpreter.Event{Kind: interpreter.EventStepCompleted, StepInstanceKey: *res.Next})
		require.NoError(t, err)
	}
	require.Equal(t, []string{"body", "body"}, selections)
}

func TestNextForEachResolvesItemsFromContext(t *testing.T) {
	cw := mustCompile(t, &workflow.Definition{
		ID: "wf.foreach",
		Steps: []workflow.StepDef{
			{
				ID:   "loop",
				Kind: workflow.StepKindLoop,
				Loop: &workflow.LoopConfig{
					Kind: workflow.LoopForEach, MaxIterations: 10, Items: "items",
					Body: workflow.LoopBody{Inline: []workflow.StepDef{leaf("process")}},
				},
			},
		},
	})
	ip := newInterpreter()
	runContext := map[string]interface{}{"items": []interface{}{"a", "b", "c"}}
	st := interpreter.Init()
	count := 0
	for i := 0; i < 10; i++ {
		res, err := ip.Next(context.Background(), cw, st, runContext, nil)
		require.NoError(t, err)
		if res.IsComplete {
			break
		}
		count++
		st, err = interpreter.ApplyEvent(res.State, interpreter.Event{Kind: interpreter.EventStepCompleted, StepInstanceKey: *res.Next})
		require.NoError(t, err)
	}
	require.Equal(t, 3, count)
}

func TestNextForEachEmptyArrayCompletesImmediately(t *testing.T) {
	cw := mustCompile(t, &workflow.Definition{
		ID: "wf.foreach.empty",
		Steps: []workflow.StepDef{
			{
				ID:   "loop",
				Kind: workflow.StepKindLoop,
				Loop: &workflow.LoopConfig{
					Kind: workflow.LoopForEach, MaxIterations: 10, Items: "items",
					Body: workflow.LoopBody{Inline: []workflow.StepDef{leaf("process")}},
				},
			},
		},
	})
	ip := newInterpreter()
	res, err := ip.Next(context.Background(), cw, interpreter.Init(), map[string]interface{}{"items": []interface{}{}}, nil)
	require.NoError(t, err)
	require.True(t, res.IsComplete)
}

func TestNextWhileLoopWithContextVariableCondition(t *testing.T) {
	cw := mustCompile(t, &workflow.Definition{
		ID: "wf.while",
		Steps: []workflow.StepDef{
			{
				ID:   "loop",
				Kind: workflow.StepKindLoop,
				Loop: &workflow.LoopConfig{
					Kind: workflow.LoopWhile, MaxIterations: 10, Condition: "attempts < 3",
					Body: workflow.LoopBody{Inline: []workflow.StepDef{leaf("attempt")}},
				},
			},
		},
	})
	ip := newInterpreter()
	st := interpreter.Init()
	attempts := 0
	for i := 0; i < 20; i++ {
		res, err := ip.Next(context.Background(), cw, st, map[string]interface{}{"attempts": attempts}, nil)
		require.NoError(t, err)
		if res.IsComplete {
			break
		}
		attempts++
		st, err = interpreter.ApplyEvent(res.State, interpreter.Event{Kind: interpreter.EventStepCompleted, StepInstanceKey: *res.Next})
		require.NoError(t, err)
	}
	require.Equal(t, 3, attempts)
}

func TestNextUntilLoopDrivenByArtifactContract(t *testing.T) {
	cw := mustCompile(t, &workflow.Definition{
		ID: "wf.until.artifact",
		Steps: []workflow.StepDef{
			{
				ID:   "review_loop",
				Kind: workflow.StepKindLoop,
				Loop: &workflow.LoopConfig{
					Kind: workflow.LoopUntil, MaxIterations: 10,
					Body: workflow.LoopBody{Inline: []workflow.StepDef{
						{ID: "review", Kind: workflow.StepKindLeaf, Prompt: "review",
							OutputContract: &workflow.OutputContract{Ref: workflow.LoopControlContractRef}},
					}},
				},
			},
		},
	})
	ip := newInterpreter()
	st := interpreter.Init()

	// First iteration: no artifact recorded yet, entry is optimistic.
	res, err := ip.Next(context.Background(), cw, st, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "review", res.Next.StepID)
	st, err = interpreter.ApplyEvent(res.State, interpreter.Event{Kind: interpreter.EventStepCompleted, StepInstanceKey: *res.Next})
	require.NoError(t, err)

	// Artifact says "continue" (until-condition not yet met): loop runs again.
	artifacts := []interpreter.Artifact{{Kind: workflow.LoopControlContractRef, LoopID: "review_loop", Decision: "continue", EventIndex: 1}}
	res, err = ip.Next(context.Background(), cw, st, nil, artifacts)
	require.NoError(t, err)
	require.Equal(t, "review", res.Next.StepID)
	st, err = interpreter.ApplyEvent(res.State, interpreter.Event{Kind: interpreter.EventStepCompleted, StepInstanceKey: *res.Next})
	require.NoError(t, err)

	// Artifact says "stop": loop exits, workflow completes.
	artifacts = []interpreter.Artifact{{Kind: workflow.LoopControlContractRef, LoopID: "review_loop", Decision: "stop", EventIndex: 2}}
	res, err = ip.Next(context.Background(), cw, st, nil, artifacts)
	require.NoError(t, err)
	require.True(t, res.IsComplete)
}

func TestNextEnforcesMaxIterationsCeiling(t *testing.T) {
	cw := mustCompile(t, &workflow.Definition{
		ID: "wf.ceiling",
		Steps: []workflow.StepDef{
			{
				ID:   "loop",
				Kind: workflow.StepKindLoop,
				Loop: &workflow.LoopConfig{
					Kind: workflow.LoopWhile, MaxIterations: 2, Condition: "true",
					Body: workflow.LoopBody{Inline: []workflow.StepDef{leaf("attempt")}},
				},
			},
		},
	})
	ip := newInterpreter()
	st := interpreter.Init()
	iterations := 0
	for i := 0; i < 10; i++ {
		res, err := ip.Next(context.Background(), cw, st, nil, nil)
		require.NoError(t, err)
		if res.IsComplete {
			break
		}
		iterations++
		st, err = interpreter.ApplyEvent(res.State, interpreter.Event{Kind: interpreter.EventStepCompleted, StepInstanceKey: *res.Next})
		require.NoError(t, err)
	}
	require.Equal(t, 2, iterations, "condition is always true but maxIterations=2 must hard-stop")
}

func TestApplyEventRejectsMismatchedStepCompleted(t *testing.T) {
	st := interpreter.Init()
	_, err := interpreter.ApplyEvent(st, interpreter.Event{Kind: interpreter.EventStepCompleted, StepInstanceKey: interpreter.StepInstanceKey{StepID: "a"}})
	require.Error(t, err)
}

func intPtr(i int) *int { return &i }
