package interpreter

import (
	"context"
	"errors"
	"fmt"

	"github.com/EtienneBBeaulac/workrail/internal/legacycond"
	"github.com/EtienneBBeaulac/workrail/internal/predicate"
	"github.com/EtienneBBeaulac/workrail/internal/varpath"
	wrerrors "github.com/EtienneBBeaulac/workrail/pkg/errors"
	"github.com/EtienneBBeaulac/workrail/pkg/workflow"
)

// Artifact is a recorded loop-control decision: the typed artifact a loop
// body step emits under an artifact_contract condition source (spec.md
// §4.6 step 5, §4.7). EventIndex breaks ties when more than one artifact
// of the same kind/loopId has been recorded; the latest wins.
type Artifact struct {
	Kind       string
	LoopID     string
	Decision   string // "continue" | "stop"
	EventIndex int
}

// Result is the output of one Next call.
type Result struct {
	State      State
	Next       *StepInstanceKey
	IsComplete bool
	Trace      []TraceEntry
}

// Interpreter evaluates the typed predicate language and legacy string
// conditions the compiled workflow's runConditions and loop condition
// sources reference.
type Interpreter struct {
	resolver *varpath.Resolver
	legacy   *legacycond.Evaluator
}

func New(resolver *varpath.Resolver, legacy *legacycond.Evaluator) *Interpreter {
	return &Interpreter{resolver: resolver, legacy: legacy}
}

// Next implements the public contract of spec.md §4.6: given a compiled
// workflow, execution state, context, and recorded artifacts, produce the
// next pending step or report completion. Pure: no I/O, no clock.
func (ip *Interpreter) Next(ctx context.Context, compiled *workflow.CompiledWorkflow, state State, runContext map[string]interface{}, artifacts []Artifact) (Result, error) {
	if state.Kind == StateComplete {
		return Result{State: state, IsComplete: true}, nil
	}
	if state.Kind == StateBlocked {
		return Result{State: state, Trace: []TraceEntry{{Kind: TraceBlocked, Summary: "state is blocked"}}}, nil
	}

	st := state
	if st.Kind == StateInit {
		st.Kind = StateRunning
	}
	loopStack := append([]LoopFrame(nil), st.LoopStack...)
	var trace []TraceEntry

	for {
		if len(loopStack) > 0 {
			frame := loopStack[len(loopStack)-1]
			loop, ok := compiled.Loop(frame.LoopID)
			if !ok {
				return Result{}, &wrerrors.InternalError{Message: fmt.Sprintf("loop %q missing from compiled workflow", frame.LoopID)}
			}

			key, newFrame, found, err := ip.scanLoopBody(ctx, compiled, loop, frame, st, runContext)
			if err != nil {
				return Result{}, err
			}
			if found {
				loopStack[len(loopStack)-1] = newFrame
				st.LoopStack = loopStack
				st.Pending = &key
				trace = append(trace, TraceEntry{Kind: TraceSelectedNextStep, Summary: key.StepID})
				return Result{State: st, Next: &key, Trace: trace}, nil
			}

			atCeiling := frame.Iteration+1 >= effectiveCeiling(loop, frame)
			var shouldContinue bool
			if atCeiling {
				trace = append(trace, TraceEntry{Kind: TraceLoopMaxIterationsReached, Summary: loop.LoopID})
			} else if loop.Kind == workflow.LoopWhile || loop.Kind == workflow.LoopUntil {
				holds, err := ip.evaluateConditionHolds(ctx, loop, artifacts, runContext, false)
				if err != nil {
					return Result{}, err
				}
				shouldContinue = holds
				if loop.Kind == workflow.LoopUntil {
					shouldContinue = !holds
				}
				trace = append(trace, TraceEntry{Kind: TraceEvaluatedCondition, Summary: conditionSourceSummary(loop), Detail: fmt.Sprintf("continue=%v", shouldContinue)})
			} else {
				shouldContinue = frame.Iteration+1 < frame.ResolvedMax
			}

			if shouldContinue {
				loopStack[len(loopStack)-1] = LoopFrame{LoopID: frame.LoopID, Iteration: frame.Iteration + 1, BodyIndex: 0, ResolvedMax: frame.ResolvedMax}
				continue
			}

			loopKey := StepInstanceKey{StepID: frame.LoopID}
			st = st.withCompleted(loopKey)
			loopStack = loopStack[:len(loopStack)-1]
			st.LoopStack = loopStack
			trace = append(trace, TraceEntry{Kind: TraceExitedLoop, Summary: loop.LoopID})
			continue
		}

		key, pushed, done, err := ip.scanTopLevel(ctx, compiled, st, runContext, artifacts)
		if err != nil {
			var ierr *wrerrors.InterpreterError
			if errors.As(err, &ierr) && ierr.Kind == wrerrors.InterpreterUnsatisfiableCondition {
				trace = append(trace, TraceEntry{Kind: TraceBlocked, Summary: ierr.StepID, Detail: ierr.Error()})
			}
			return Result{Trace: trace}, err
		}
		if done {
			st.Kind = StateComplete
			st.Pending = nil
			return Result{State: st, IsComplete: true, Trace: trace}, nil
		}
		if pushed != nil {
			loopStack = append(loopStack, *pushed)
			trace = append(trace, TraceEntry{Kind: TraceEnteredLoop, Summary: pushed.LoopID})
			continue
		}

		st.Pending = &key
		trace = append(trace, TraceEntry{Kind: TraceSelectedNextStep, Summary: key.StepID})
		return Result{State: st, Next: &key, Trace: trace}, nil
	}
}

// scanLoopBody finds the next selectable step starting at frame.BodyIndex,
// skipping completed instances and steps whose runCondition is false.
func (ip *Interpreter) scanLoopBody(ctx context.Context, compiled *workflow.CompiledWorkflow, loop *workflow.CompiledLoop, frame LoopFrame, state State, runContext map[string]interface{}) (StepInstanceKey, LoopFrame, bool, error) {
	idx := frame.BodyIndex
	for idx < len(loop.BodyStepIDs) {
		stepID := loop.BodyStepIDs[idx]
		key := StepInstanceKey{StepID: stepID, LoopPath: []PathFrame{{LoopID: frame.LoopID, Iteration: frame.Iteration}}}
		if state.hasCompleted(key) {
			idx++
			continue
		}
		step, ok := compiled.Step(stepID)
		if !ok {
			return StepInstanceKey{}, LoopFrame{}, false, &wrerrors.InternalError{Message: fmt.Sprintf("loop body step %q missing from index", stepID)}
		}
		ok2, err := evalPredicate(ctx, step.RunCondition, runContext, ip.resolver)
		if err != nil {
			return StepInstanceKey{}, LoopFrame{}, false, err
		}
		if !ok2 {
			idx++
			continue
		}
		newFrame := frame
		newFrame.BodyIndex = idx
		return key, newFrame, true, nil
	}
	return StepInstanceKey{}, LoopFrame{}, false, nil
}

// scanTopLevel scans top-level steps in declaration order. It returns
// exactly one of: a selectable leaf step key, a LoopFrame to push (loop
// entered), done=true (every step is already completed — the run
// completes with nothing left to do), or an
// InterpreterUnsatisfiableCondition error (at least one step was skipped
// for a false runCondition and no other step was eligible — spec.md §4.6
// requires this to fail closed with actionable guidance rather than
// silently report completion).
func (ip *Interpreter) scanTopLevel(ctx context.Context, compiled *workflow.CompiledWorkflow, state State, runContext map[string]interface{}, artifacts []Artifact) (StepInstanceKey, *LoopFrame, bool, error) {
	var blockedStepID string
	var blockedCondition *workflow.Predicate

	for _, stepID := range compiled.TopLevelStepIDs {
		if compiled.IsLoopBodyStep(stepID) {
			continue
		}
		key := StepInstanceKey{StepID: stepID}
		if state.hasCompleted(key) {
			continue
		}
		step, ok := compiled.Step(stepID)
		if !ok {
			return StepInstanceKey{}, nil, false, &wrerrors.InternalError{Message: fmt.Sprintf("top-level step %q missing from index", stepID)}
		}
		eligible, err := evalPredicate(ctx, step.RunCondition, runContext, ip.resolver)
		if err != nil {
			return StepInstanceKey{}, nil, false, err
		}
		if !eligible {
			blockedStepID = stepID
			blockedCondition = step.RunCondition
			continue
		}

		if step.Kind != workflow.StepKindLoop {
			return key, nil, false, nil
		}

		loop, ok := compiled.Loop(stepID)
		if !ok {
			return StepInstanceKey{}, nil, false, &wrerrors.InternalError{Message: fmt.Sprintf("loop %q missing from compiled workflow", stepID)}
		}
		frame, entered, err := ip.enterLoop(ctx, loop, artifacts, runContext)
		if err != nil {
			return StepInstanceKey{}, nil, false, err
		}
		if !entered {
			// Trivially complete: the loop ran zero iterations.
			continue
		}
		return StepInstanceKey{}, &frame, false, nil
	}

	if blockedCondition != nil {
		return StepInstanceKey{}, nil, false, ip.unsatisfiableConditionError(ctx, blockedStepID, blockedCondition, runContext)
	}
	return StepInstanceKey{}, nil, true, nil
}

// unsatisfiableConditionError builds the guidance object spec.md §4.6
// requires when runCondition selection finds nothing eligible: the
// variable the last-skipped step's runCondition named, the value it
// required, and the value actually found in context.
func (ip *Interpreter) unsatisfiableConditionError(ctx context.Context, stepID string, p *workflow.Predicate, runContext map[string]interface{}) error {
	varName, expected := conditionGuidance(p)
	current, _, _ := ip.resolver.Resolve(ctx, varName, runContext)
	return &wrerrors.InterpreterError{
		Kind:     wrerrors.InterpreterUnsatisfiableCondition,
		StepID:   stepID,
		Variable: varName,
		Expected: expected,
		Current:  current,
	}
}

// conditionGuidance descends a (possibly compound) predicate to the first
// leaf comparison it names, for diagnostic purposes. and/or/not predicates
// report their first child's leaf rather than every branch: spec.md §4.6
// asks for "a variable name, expected value, current value", not a full
// boolean-expression trace.
func conditionGuidance(p *workflow.Predicate) (string, interface{}) {
	if p == nil {
		return "", nil
	}
	if p.Var != "" {
		switch {
		case p.Equals != nil:
			return p.Var, p.Equals
		case p.Lt != nil:
			return p.Var, p.Lt
		case p.Le != nil:
			return p.Var, p.Le
		case p.Gt != nil:
			return p.Var, p.Gt
		case p.Ge != nil:
			return p.Var, p.Ge
		}
	}
	for _, child := range p.And {
		if v, e := conditionGuidance(child); v != "" {
			return v, e
		}
	}
	for _, child := range p.Or {
		if v, e := conditionGuidance(child); v != "" {
			return v, e
		}
	}
	if p.Not != nil {
		return conditionGuidance(p.Not)
	}
	return "", nil
}

// enterLoop evaluates a loop's entry rule (spec.md §4.6 step 4).
func (ip *Interpreter) enterLoop(ctx context.Context, loop *workflow.CompiledLoop, artifacts []Artifact, runContext map[string]interface{}) (LoopFrame, bool, error) {
	switch loop.Kind {
	case workflow.LoopFor:
		n, err := ip.resolveCount(ctx, loop, runContext)
		if err != nil {
			return LoopFrame{}, false, err
		}
		resolvedMax := min(loop.MaxIterations, n)
		return LoopFrame{LoopID: loop.LoopID, ResolvedMax: resolvedMax}, resolvedMax > 0, nil

	case workflow.LoopForEach:
		n, err := ip.resolveItemsLength(ctx, loop, runContext)
		if err != nil {
			return LoopFrame{}, false, err
		}
		resolvedMax := min(loop.MaxIterations, n)
		return LoopFrame{LoopID: loop.LoopID, ResolvedMax: resolvedMax}, resolvedMax > 0, nil

	case workflow.LoopWhile, workflow.LoopUntil:
		holds, err := ip.evaluateConditionHolds(ctx, loop, artifacts, runContext, true)
		if err != nil {
			return LoopFrame{}, false, err
		}
		enter := holds
		if loop.Kind == workflow.LoopUntil {
			enter = !holds
		}
		return LoopFrame{LoopID: loop.LoopID}, enter, nil

	default:
		return LoopFrame{}, false, &wrerrors.InternalError{Message: fmt.Sprintf("unknown loop kind %q", loop.Kind)}
	}
}

func (ip *Interpreter) resolveCount(ctx context.Context, loop *workflow.CompiledLoop, runContext map[string]interface{}) (int, error) {
	if loop.Count == nil {
		return 0, &wrerrors.InterpreterError{Kind: wrerrors.InterpreterMissingContext, LoopID: loop.LoopID, Message: "for loop has no count"}
	}
	if loop.Count.Literal != nil {
		return *loop.Count.Literal, nil
	}
	v, found, err := ip.resolver.Resolve(ctx, loop.Count.Var, runContext)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, &wrerrors.InterpreterError{Kind: wrerrors.InterpreterMissingContext, Variable: loop.Count.Var, LoopID: loop.LoopID}
	}
	f, ok := predicate.ToFloat(v)
	if !ok {
		return 0, &wrerrors.InterpreterError{Kind: wrerrors.InterpreterMissingContext, Variable: loop.Count.Var, LoopID: loop.LoopID, Message: "count variable is not numeric"}
	}
	return int(f), nil
}

func (ip *Interpreter) resolveItemsLength(ctx context.Context, loop *workflow.CompiledLoop, runContext map[string]interface{}) (int, error) {
	v, found, err := ip.resolver.Resolve(ctx, loop.Items, runContext)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, &wrerrors.InterpreterError{Kind: wrerrors.InterpreterMissingContext, Variable: loop.Items, LoopID: loop.LoopID}
	}
	items, ok := v.([]interface{})
	if !ok {
		return 0, &wrerrors.InterpreterError{Kind: wrerrors.InterpreterMissingContext, Variable: loop.Items, LoopID: loop.LoopID, Message: "items is not an array"}
	}
	return len(items), nil
}

// evaluateConditionHolds evaluates a while/until loop's condition source.
// isEntry governs the artifact_contract branch: before any iteration has
// run there is no artifact yet, so entry optimistically proceeds (the
// first body step is expected to produce the decision that governs
// continuation); once inside the loop, a missing artifact fails closed.
// An artifact's decision names the loop action directly ("continue" runs
// another iteration, "stop" exits) for both while and until loops, so for
// an until loop it is reported as its negation, which the callers'
// until-inversion turns back into that action.
func (ip *Interpreter) evaluateConditionHolds(ctx context.Context, loop *workflow.CompiledLoop, artifacts []Artifact, runContext map[string]interface{}, isEntry bool) (bool, error) {
	src := loop.ConditionSource
	if src == nil {
		return false, &wrerrors.InterpreterError{Kind: wrerrors.InterpreterInvalidStateKind, LoopID: loop.LoopID, Message: "condition source is undefined"}
	}
	switch src.Kind {
	case workflow.ConditionSourceArtifactContract:
		proceed := true
		latest, ok := latestArtifact(artifacts, src.ArtifactRef, loop.LoopID)
		if ok {
			proceed = latest.Decision == "continue"
		} else if !isEntry {
			return false, &wrerrors.InterpreterError{Kind: wrerrors.InterpreterMissingContext, ArtifactRef: src.ArtifactRef, LoopID: loop.LoopID}
		}
		if loop.Kind == workflow.LoopUntil {
			return !proceed, nil
		}
		return proceed, nil

	case workflow.ConditionSourceContextVariable:
		return ip.legacy.Evaluate(src.Condition, runContext)

	default:
		return false, &wrerrors.InterpreterError{Kind: wrerrors.InterpreterInvalidStateKind, LoopID: loop.LoopID, Message: "unknown condition source kind"}
	}
}

func latestArtifact(artifacts []Artifact, kind, loopID string) (Artifact, bool) {
	var best Artifact
	found := false
	for _, a := range artifacts {
		if a.Kind != kind || a.LoopID != loopID {
			continue
		}
		if !found || a.EventIndex > best.EventIndex {
			best = a
			found = true
		}
	}
	return best, found
}

func conditionSourceSummary(loop *workflow.CompiledLoop) string {
	if loop.ConditionSource == nil {
		return "undefined"
	}
	switch loop.ConditionSource.Kind {
	case workflow.ConditionSourceArtifactContract:
		return "source=artifact"
	case workflow.ConditionSourceContextVariable:
		return "source=context"
	default:
		return "source=unknown"
	}
}

// effectiveCeiling returns the iteration count (0-based) at which the loop
// must hard-stop regardless of its condition: loop.MaxIterations for
// while/until, the resolved count/items length for for/forEach.
func effectiveCeiling(loop *workflow.CompiledLoop, frame LoopFrame) int {
	if loop.Kind == workflow.LoopFor || loop.Kind == workflow.LoopForEach {
		return frame.ResolvedMax
	}
	return loop.MaxIterations
}
