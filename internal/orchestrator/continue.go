package orchestrator

import (
	"context"
	"fmt"

	"github.com/EtienneBBeaulac/workrail/internal/interpreter"
	"github.com/EtienneBBeaulac/workrail/internal/sessionlog"
	"github.com/EtienneBBeaulac/workrail/internal/token"
	"github.com/EtienneBBeaulac/workrail/internal/validation"
	wrerrors "github.com/EtienneBBeaulac/workrail/pkg/errors"
	"github.com/EtienneBBeaulac/workrail/pkg/workflow"
	"github.com/google/uuid"
)

// ContinueRequest is continue_workflow's input (spec.md §6). AckToken
// being nil/empty selects rehydrate mode; present selects advance mode.
type ContinueRequest struct {
	StateToken string
	AckToken   string
	Context    map[string]interface{}
	Output     string
}

// ContinueResult is continue_workflow's output. Kind is "ok" or
// "blocked"; the Blocker* fields are only meaningful when Kind=="blocked".
type ContinueResult struct {
	Kind            string
	StateToken      string
	AckToken        string
	CheckpointToken string
	Pending         *PendingStep
	IsComplete      bool
	Preferences     Preferences
	NextIntent      NextIntent
	NextCall        *NextCall
	Blockers        []string
	Retryable       bool
	RetryAckToken   string
}

// Continue implements continue_workflow's rehydrate/advance/replay modes
// (spec.md §4.8).
func (o *Orchestrator) Continue(ctx context.Context, req ContinueRequest) (*ContinueResult, error) {
	stateParsed, err := o.parseAndVerify(req.StateToken)
	if err != nil {
		return nil, err
	}
	if stateParsed.Kind != token.KindState || stateParsed.State == nil {
		return nil, &wrerrors.TokenError{Code: wrerrors.TokenInvalidFormat, Message: "expected a state token"}
	}
	sp := stateParsed.State

	proj, err := o.loadProjection(sp.SessionID)
	if err != nil {
		return nil, err
	}
	if !canonicalHashEqual(proj.WorkflowHash, sp.WorkflowHashRef) {
		return nil, &wrerrors.TokenError{Code: wrerrors.TokenWorkflowHashMismatch, Message: "state token's workflow hash does not match the session's recorded hash"}
	}
	node, ok := proj.Nodes[sp.NodeID]
	if !ok {
		return nil, &wrerrors.TokenError{Code: wrerrors.TokenUnknownNode, Message: "node not found in session"}
	}

	compiled, ok, err := o.Catalog.Compiled(proj.WorkflowID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &wrerrors.PreconditionError{Reason: "pinned workflow missing from catalog", Details: proj.WorkflowID}
	}

	if req.AckToken == "" {
		return o.rehydrate(ctx, proj, compiled, sp, node)
	}

	ackParsed, err := o.parseAndVerify(req.AckToken)
	if err != nil {
		return nil, err
	}
	if ackParsed.Kind != token.KindAck || ackParsed.Ack == nil {
		return nil, &wrerrors.TokenError{Code: wrerrors.TokenInvalidFormat, Message: "expected an ack token"}
	}
	if err := token.AssertScopeMatches(sp, ackParsed.Ack); err != nil {
		return nil, err
	}

	dedupeKey := advanceDedupeKey(sp.SessionID, sp.NodeID, ackParsed.Ack.AttemptID)
	if recorded, isReplay := proj.AdvanceByKey[dedupeKey]; isReplay {
		return o.replay(ctx, proj, compiled, sp, ackParsed.Ack, recorded)
	}

	return o.advance(ctx, proj, compiled, sp, ackParsed.Ack, node, req)
}

func advanceDedupeKey(sessionID, nodeID, attemptID string) string {
	return fmt.Sprintf("advance_recorded:%s:%s:%s", sessionID, nodeID, attemptID)
}

// rehydrate is a pure query: it re-derives the current pending step from
// the node's snapshot and mints a fresh ack for convenience, but makes no
// durable writes (spec.md §4.8). Concurrent rehydrate calls racing on the
// same session+node (an agent host retrying a timed-out call, or two
// tool calls issued back to back before the first returns) share one
// snapshot read and one interpreter.Next recomputation via
// o.rehydrateGroup, since rehydrate never mutates state and every caller
// wants the same answer.
func (o *Orchestrator) rehydrate(ctx context.Context, proj *Projection, compiled *workflow.CompiledWorkflow, sp *token.StatePayload, node *Node) (*ContinueResult, error) {
	key := sp.SessionID + ":" + sp.NodeID
	v, err, _ := o.rehydrateGroup.Do(key, func() (interface{}, error) {
		return o.rehydrateOnce(ctx, proj, compiled, sp, node)
	})
	if err != nil {
		return nil, err
	}
	return v.(*ContinueResult), nil
}

func (o *Orchestrator) rehydrateOnce(ctx context.Context, proj *Projection, compiled *workflow.CompiledWorkflow, sp *token.StatePayload, node *Node) (*ContinueResult, error) {
	snap, err := getSnapshot(ctx, o.Snapshots, node.SnapshotRef)
	if err != nil {
		return nil, err
	}

	if snap.State.Kind == interpreter.StateBlocked {
		pending := renderPending(compiled, snap.State.Pending)
		return &ContinueResult{
			Kind:        "blocked",
			StateToken:  mustToken(o.Tokens.SignState(*sp)),
			Pending:     pending,
			Preferences: proj.Preferences,
			NextIntent:  IntentRehydrateOnly,
			Blockers:    blockerReasons(snap.State.Blocked),
			Retryable:   snap.State.Blocked != nil && snap.State.Blocked.Kind == interpreter.BlockerRetryable,
		}, nil
	}

	result, err := o.Interp.Next(ctx, compiled, snap.State, snap.Context, proj.Artifacts)
	if err != nil {
		return nil, mapInterpreterError(err)
	}

	pending := renderPending(compiled, result.Next)
	intent := deriveNextIntent(true, result.IsComplete, pending)
	stateToken := mustToken(o.Tokens.SignState(*sp))
	ackToken, err := o.Tokens.SignAck(token.AckPayload{SessionID: sp.SessionID, RunID: sp.RunID, NodeID: sp.NodeID, AttemptID: uuid.New().String()})
	if err != nil {
		return nil, err
	}
	return &ContinueResult{
		Kind:        "ok",
		StateToken:  stateToken,
		AckToken:    ackToken,
		Pending:     pending,
		IsComplete:  result.IsComplete,
		Preferences: proj.Preferences,
		NextIntent:  intent,
		NextCall:    buildNextCall(intent, stateToken, ackToken),
	}, nil
}

func blockerReasons(b *interpreter.BlockedInfo) []string {
	if b == nil {
		return nil
	}
	reasons := make([]string, len(b.Blockers))
	for i, blocker := range b.Blockers {
		reasons[i] = blocker.Reason
	}
	return reasons
}

func mustToken(tok string, err error) string {
	if err != nil {
		return ""
	}
	return tok
}

// advance implements the six-step advance core (spec.md §4.8).
func (o *Orchestrator) advance(ctx context.Context, proj *Projection, compiled *workflow.CompiledWorkflow, sp *token.StatePayload, ack *token.AckPayload, node *Node, req ContinueRequest) (*ContinueResult, error) {
	source, err := getSnapshot(ctx, o.Snapshots, node.SnapshotRef)
	if err != nil {
		return nil, err
	}
	if source.State.Pending == nil {
		return nil, &wrerrors.PreconditionError{Reason: "stateless session: node has no pending step to advance", Details: node.ID}
	}
	pendingKey := *source.State.Pending
	step, ok := compiled.Step(pendingKey.StepID)
	if !ok {
		return nil, &wrerrors.InternalError{Message: "pending step missing from compiled workflow"}
	}

	mergedContext := mergeContext(source.Context, req.Context)
	if len(req.Context) > 0 {
		if err := validateContextBudget(mergedContext); err != nil {
			return nil, err
		}
	}

	outcome, decision, validationErr := o.validateStepOutput(ctx, step, req.Output, mergedContext)
	if validationErr != nil {
		return nil, validationErr
	}

	witness, _, release, err := o.Sessions.Begin(sp.SessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	if !outcome.Valid {
		return o.recordBlocked(ctx, witness, proj, compiled, sp, ack, node, source, req.Output, outcome)
	}

	newState, err := interpreter.ApplyEvent(source.State, interpreter.Event{Kind: interpreter.EventStepCompleted, StepInstanceKey: pendingKey})
	if err != nil {
		return nil, err
	}
	// A retry from a blocked node completes the step the blocker was
	// raised on, so the blocker is cleared before Next selects onward.
	if newState.Kind == interpreter.StateBlocked {
		newState.Kind = interpreter.StateRunning
		newState.Blocked = nil
	}

	loopID := ""
	artifacts := proj.Artifacts
	if decision != "" {
		loopID = artifactLoopID(compiled, pendingKey.StepID)
		artifacts = append(append([]interpreter.Artifact(nil), artifacts...), interpreter.Artifact{
			Kind: workflow.LoopControlContractRef, LoopID: loopID, Decision: decision, EventIndex: proj.NextEventIdx,
		})
	}

	result, err := o.Interp.Next(ctx, compiled, newState, mergedContext, artifacts)
	if err != nil {
		return nil, mapInterpreterError(err)
	}

	return o.recordAdvanced(ctx, witness, proj, compiled, sp, ack, node, mergedContext, artifacts, result, req.Output, decision, loopID)
}

// artifactLoopID finds the loop whose body contains stepID, for
// attaching a recorded loop-control decision to the right loop.
func artifactLoopID(compiled *workflow.CompiledWorkflow, stepID string) string {
	for loopID, loop := range compiled.CompiledLoops {
		for _, bodyID := range loop.BodyStepIDs {
			if bodyID == stepID {
				return loopID
			}
		}
	}
	return ""
}

func mergeContext(base, overlay map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

func (o *Orchestrator) validateStepOutput(ctx context.Context, step *workflow.CompiledStep, output string, runContext map[string]interface{}) (*validation.Outcome, string, error) {
	if step.OutputContract != nil {
		decision, outcome, err := validation.ValidateArtifactContract(step.OutputContract, output)
		if err != nil {
			return nil, "", err
		}
		return outcome, decision, nil
	}
	if len(step.ValidationCriteria) > 0 {
		criteria, err := validation.ParseCriteria(step.ValidationCriteria)
		if err != nil {
			return nil, "", err
		}
		outcome, err := o.Validator.Evaluate(ctx, criteria, output, runContext)
		if err != nil {
			return nil, "", err
		}
		return outcome, "", nil
	}
	return &validation.Outcome{Valid: true}, "", nil
}

func (o *Orchestrator) recordAdvanced(ctx context.Context, witness *sessionlog.Witness, proj *Projection, compiled *workflow.CompiledWorkflow, sp *token.StatePayload, ack *token.AckPayload, fromNode *Node, mergedContext map[string]interface{}, artifacts []interpreter.Artifact, result interpreter.Result, output, decision, loopID string) (*ContinueResult, error) {
	newNodeID := uuid.New().String()
	newAttemptID := o.Tokens.DeriveNextAttemptID(ack.AttemptID)

	snapRef, err := putSnapshot(ctx, o.Snapshots, engineSnapshot{State: result.State, Context: mergedContext, Artifacts: artifacts})
	if err != nil {
		return nil, err
	}

	cause := proj.forkCause(fromNode.ID, false)
	dedupeKey := advanceDedupeKey(sp.SessionID, sp.NodeID, ack.AttemptID)

	var events []sessionlog.Event
	idx := proj.NextEventIdx
	add := func(kind eventKind, dedupe string, data interface{}) error {
		ev, err := buildEvent(idx, kind, dedupe, data)
		if err != nil {
			return err
		}
		idx++
		events = append(events, ev)
		return nil
	}
	if err := add(kindAdvanceRecorded, dedupeKey, advanceRecordedData{NodeID: fromNode.ID, Outcome: "advanced", ToNodeID: newNodeID}); err != nil {
		return nil, err
	}
	nodeCreatedIdx := idx
	if err := add(kindNodeCreated, "node_created:"+newNodeID, nodeCreatedData{NodeID: newNodeID, ParentNodeID: fromNode.ID, Kind: NodeStep, WorkflowHash: fromNode.WorkflowHash, SnapshotRef: snapRef, AttemptID: newAttemptID}); err != nil {
		return nil, err
	}
	if err := add(kindEdgeCreated, "edge_created:"+fromNode.ID+":"+newNodeID, edgeCreatedData{FromNodeID: fromNode.ID, ToNodeID: newNodeID, Cause: cause}); err != nil {
		return nil, err
	}
	if output != "" {
		if err := add(kindNodeOutputAppended, "node_output_appended:"+fromNode.ID+":"+ack.AttemptID, nodeOutputAppendedData{NodeID: fromNode.ID, Output: truncateOutput(output)}); err != nil {
			return nil, err
		}
	}
	if decision != "" {
		if err := add(kindObservationRecorded, "observation_recorded:"+fromNode.ID+":"+ack.AttemptID, observationRecordedData{ArtifactKind: workflow.LoopControlContractRef, LoopID: loopID, Decision: decision}); err != nil {
			return nil, err
		}
	}

	plan := sessionlog.AppendPlan{
		Events: events,
		SnapshotPins: []sessionlog.SnapshotPin{
			{SnapshotRef: snapRef, EventIndex: nodeCreatedIdx, CreatedByEventID: "node_created:" + newNodeID},
		},
	}
	if _, err := o.Sessions.Append(witness, sp.SessionID, plan); err != nil {
		return nil, err
	}

	stateToken, err := o.Tokens.SignState(token.StatePayload{SessionID: sp.SessionID, RunID: sp.RunID, NodeID: newNodeID, WorkflowHashRef: sp.WorkflowHashRef})
	if err != nil {
		return nil, err
	}
	newAckToken, err := o.Tokens.SignAck(token.AckPayload{SessionID: sp.SessionID, RunID: sp.RunID, NodeID: newNodeID, AttemptID: newAttemptID})
	if err != nil {
		return nil, err
	}
	checkpointToken, err := o.Tokens.SignCheckpoint(token.AckPayload{SessionID: sp.SessionID, RunID: sp.RunID, NodeID: newNodeID, AttemptID: newAttemptID})
	if err != nil {
		return nil, err
	}

	pending := renderPending(compiled, result.Next)
	intent := deriveNextIntent(false, result.IsComplete, pending)
	return &ContinueResult{
		Kind:            "ok",
		StateToken:      stateToken,
		AckToken:        newAckToken,
		CheckpointToken: checkpointToken,
		Pending:         pending,
		IsComplete:      result.IsComplete,
		Preferences:     proj.Preferences,
		NextIntent:      intent,
		NextCall:        buildNextCall(intent, stateToken, newAckToken),
	}, nil
}

func (o *Orchestrator) recordBlocked(ctx context.Context, witness *sessionlog.Witness, proj *Projection, compiled *workflow.CompiledWorkflow, sp *token.StatePayload, ack *token.AckPayload, fromNode *Node, source engineSnapshot, output string, outcome *validation.Outcome) (*ContinueResult, error) {
	blockedNodeID := uuid.New().String()
	retryAttemptID := uuid.New().String()
	pendingKey := *source.State.Pending

	blockedState := interpreter.State{
		Kind:      interpreter.StateBlocked,
		Completed: source.State.Completed,
		LoopStack: source.State.LoopStack,
		Pending:   &pendingKey,
		Blocked: &interpreter.BlockedInfo{
			Kind:           interpreter.BlockerRetryable,
			Blockers:       toBlockers(outcome.Issues),
			RetryAttemptID: retryAttemptID,
		},
	}

	snapRef, err := putSnapshot(ctx, o.Snapshots, engineSnapshot{State: blockedState, Context: source.Context, Artifacts: source.Artifacts})
	if err != nil {
		return nil, err
	}

	cause := proj.forkCause(fromNode.ID, false)
	dedupeKey := advanceDedupeKey(sp.SessionID, sp.NodeID, ack.AttemptID)

	var events []sessionlog.Event
	idx := proj.NextEventIdx
	add := func(kind eventKind, dedupe string, data interface{}) error {
		ev, err := buildEvent(idx, kind, dedupe, data)
		if err != nil {
			return err
		}
		idx++
		events = append(events, ev)
		return nil
	}
	if err := add(kindAdvanceRecorded, dedupeKey, advanceRecordedData{NodeID: fromNode.ID, Outcome: "blocked", Blockers: outcome.Issues}); err != nil {
		return nil, err
	}
	nodeCreatedIdx := idx
	if err := add(kindNodeCreated, "node_created:"+blockedNodeID, nodeCreatedData{NodeID: blockedNodeID, ParentNodeID: fromNode.ID, Kind: NodeBlockedAttempt, WorkflowHash: fromNode.WorkflowHash, SnapshotRef: snapRef, AttemptID: retryAttemptID}); err != nil {
		return nil, err
	}
	if err := add(kindEdgeCreated, "edge_created:"+fromNode.ID+":"+blockedNodeID, edgeCreatedData{FromNodeID: fromNode.ID, ToNodeID: blockedNodeID, Cause: cause}); err != nil {
		return nil, err
	}
	if output != "" {
		if err := add(kindNodeOutputAppended, "node_output_appended:"+fromNode.ID+":"+blockedNodeID, nodeOutputAppendedData{NodeID: fromNode.ID, Output: truncateOutput(output)}); err != nil {
			return nil, err
		}
	}
	if err := add(kindValidationRecorded, "validation_recorded:"+blockedNodeID, validationRecordedData{NodeID: fromNode.ID, Valid: false, Issues: outcome.Issues}); err != nil {
		return nil, err
	}

	plan := sessionlog.AppendPlan{
		Events: events,
		SnapshotPins: []sessionlog.SnapshotPin{
			{SnapshotRef: snapRef, EventIndex: nodeCreatedIdx, CreatedByEventID: "node_created:" + blockedNodeID},
		},
	}
	if _, err := o.Sessions.Append(witness, sp.SessionID, plan); err != nil {
		return nil, err
	}

	stateToken, err := o.Tokens.SignState(token.StatePayload{SessionID: sp.SessionID, RunID: sp.RunID, NodeID: blockedNodeID, WorkflowHashRef: sp.WorkflowHashRef})
	if err != nil {
		return nil, err
	}
	retryAckToken, err := o.Tokens.SignAck(token.AckPayload{SessionID: sp.SessionID, RunID: sp.RunID, NodeID: blockedNodeID, AttemptID: retryAttemptID})
	if err != nil {
		return nil, err
	}

	pending := renderPending(compiled, &pendingKey)
	return &ContinueResult{
		Kind:          "blocked",
		StateToken:    stateToken,
		Pending:       pending,
		Preferences:   proj.Preferences,
		NextIntent:    IntentAwaitUserConfirmation,
		Blockers:      outcome.Issues,
		Retryable:     true,
		RetryAckToken: retryAckToken,
	}, nil
}

func toBlockers(issues []string) []interpreter.Blocker {
	out := make([]interpreter.Blocker, len(issues))
	for i, issue := range issues {
		out[i] = interpreter.Blocker{Reason: issue}
	}
	return out
}

// replay reconstructs a response deterministically from the recorded
// advance_recorded outcome, re-minting tokens from the parent attempt id
// without recomputing engine state (spec.md §4.8, §8 replay-idempotence
// property).
func (o *Orchestrator) replay(ctx context.Context, proj *Projection, compiled *workflow.CompiledWorkflow, sp *token.StatePayload, ack *token.AckPayload, recorded advanceRecordedData) (*ContinueResult, error) {
	if recorded.Outcome == "blocked" {
		blockedNode := findChildByParentOutcome(proj, sp.NodeID, NodeBlockedAttempt)
		if blockedNode == nil {
			return nil, &wrerrors.InternalError{Message: "replay: blocked node not found for recorded advance"}
		}
		snap, err := getSnapshot(ctx, o.Snapshots, blockedNode.SnapshotRef)
		if err != nil {
			return nil, err
		}
		stateToken, err := o.Tokens.SignState(token.StatePayload{SessionID: sp.SessionID, RunID: sp.RunID, NodeID: blockedNode.ID, WorkflowHashRef: sp.WorkflowHashRef})
		if err != nil {
			return nil, err
		}
		retryAckToken, err := o.Tokens.SignAck(token.AckPayload{SessionID: sp.SessionID, RunID: sp.RunID, NodeID: blockedNode.ID, AttemptID: blockedNode.AttemptID})
		if err != nil {
			return nil, err
		}
		return &ContinueResult{
			Kind:          "blocked",
			StateToken:    stateToken,
			Pending:       renderPending(compiled, snap.State.Pending),
			Preferences:   proj.Preferences,
			NextIntent:    IntentAwaitUserConfirmation,
			Blockers:      blockerReasons(snap.State.Blocked),
			Retryable:     true,
			RetryAckToken: retryAckToken,
		}, nil
	}

	toNode, ok := proj.Nodes[recorded.ToNodeID]
	if !ok {
		return nil, &wrerrors.InternalError{Message: "replay: advanced-to node not found"}
	}
	snap, err := getSnapshot(ctx, o.Snapshots, toNode.SnapshotRef)
	if err != nil {
		return nil, err
	}

	stateToken, err := o.Tokens.SignState(token.StatePayload{SessionID: sp.SessionID, RunID: sp.RunID, NodeID: toNode.ID, WorkflowHashRef: sp.WorkflowHashRef})
	if err != nil {
		return nil, err
	}
	newAttemptID := o.Tokens.DeriveNextAttemptID(ack.AttemptID)
	ackToken, err := o.Tokens.SignAck(token.AckPayload{SessionID: sp.SessionID, RunID: sp.RunID, NodeID: toNode.ID, AttemptID: newAttemptID})
	if err != nil {
		return nil, err
	}
	checkpointToken, err := o.Tokens.SignCheckpoint(token.AckPayload{SessionID: sp.SessionID, RunID: sp.RunID, NodeID: toNode.ID, AttemptID: newAttemptID})
	if err != nil {
		return nil, err
	}

	pending := renderPending(compiled, snap.State.Pending)
	isComplete := snap.State.Kind == interpreter.StateComplete
	intent := deriveNextIntent(false, isComplete, pending)
	return &ContinueResult{
		Kind:            "ok",
		StateToken:      stateToken,
		AckToken:        ackToken,
		CheckpointToken: checkpointToken,
		Pending:         pending,
		IsComplete:      isComplete,
		Preferences:     proj.Preferences,
		NextIntent:      intent,
		NextCall:        buildNextCall(intent, stateToken, ackToken),
	}, nil
}

func findChildByParentOutcome(proj *Projection, parentID string, kind NodeKind) *Node {
	for _, childID := range proj.Children[parentID] {
		if n, ok := proj.Nodes[childID]; ok && n.Kind == kind {
			return n
		}
	}
	return nil
}

