package orchestrator

import (
	"context"

	"github.com/EtienneBBeaulac/workrail/internal/sessionlog"
	"github.com/EtienneBBeaulac/workrail/internal/token"
	wrerrors "github.com/EtienneBBeaulac/workrail/pkg/errors"
)

// CheckpointResult is checkpoint_workflow's output (spec.md §6).
type CheckpointResult struct {
	CheckpointNodeID string
	StateToken       string
}

// Checkpoint records a checkpoint node attached to the current node.
// Idempotent: replaying the same checkpoint token returns the
// previously-recorded checkpoint node rather than minting a new one
// (spec.md §4.4 "checkpoint: same shape as ack").
func (o *Orchestrator) Checkpoint(ctx context.Context, checkpointToken string) (*CheckpointResult, error) {
	parsed, err := o.parseAndVerify(checkpointToken)
	if err != nil {
		return nil, err
	}
	if parsed.Kind != token.KindCheckpoint || parsed.Ack == nil {
		return nil, &wrerrors.TokenError{Code: wrerrors.TokenInvalidFormat, Message: "expected a checkpoint token"}
	}
	cp := parsed.Ack

	proj, err := o.loadProjection(cp.SessionID)
	if err != nil {
		return nil, err
	}
	node, ok := proj.Nodes[cp.NodeID]
	if !ok {
		return nil, &wrerrors.TokenError{Code: wrerrors.TokenUnknownNode, Message: "node not found in session"}
	}

	dedupeKey := "node_created:checkpoint:" + cp.SessionID + ":" + cp.NodeID + ":" + cp.AttemptID
	if existing := findChildByDedupeAttempt(proj, node.ID, NodeCheckpoint, cp.AttemptID); existing != nil {
		stateToken, err := o.Tokens.SignState(token.StatePayload{SessionID: cp.SessionID, RunID: proj.RunID, NodeID: existing.ID, WorkflowHashRef: proj.WorkflowHash})
		if err != nil {
			return nil, err
		}
		return &CheckpointResult{CheckpointNodeID: existing.ID, StateToken: stateToken}, nil
	}

	witness, _, release, err := o.Sessions.Begin(cp.SessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	checkpointNodeID := deterministicCheckpointNodeID(cp)

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
	nodeCreatedIdx := idx
	if err := add(kindNodeCreated, dedupeKey, nodeCreatedData{
		NodeID: checkpointNodeID, ParentNodeID: node.ID, Kind: NodeCheckpoint,
		WorkflowHash: node.WorkflowHash, SnapshotRef: node.SnapshotRef, AttemptID: cp.AttemptID,
	}); err != nil {
		return nil, err
	}
	if err := add(kindEdgeCreated, "edge_created:"+node.ID+":"+checkpointNodeID, edgeCreatedData{
		FromNodeID: node.ID, ToNodeID: checkpointNodeID, Cause: CauseIntentionalFork,
	}); err != nil {
		return nil, err
	}

	plan := sessionlog.AppendPlan{
		Events: events,
		SnapshotPins: []sessionlog.SnapshotPin{
			{SnapshotRef: node.SnapshotRef, EventIndex: nodeCreatedIdx, CreatedByEventID: dedupeKey},
		},
	}
	if _, err := o.Sessions.Append(witness, cp.SessionID, plan); err != nil {
		return nil, err
	}

	stateToken, err := o.Tokens.SignState(token.StatePayload{SessionID: cp.SessionID, RunID: proj.RunID, NodeID: checkpointNodeID, WorkflowHashRef: proj.WorkflowHash})
	if err != nil {
		return nil, err
	}
	return &CheckpointResult{CheckpointNodeID: checkpointNodeID, StateToken: stateToken}, nil
}

// deterministicCheckpointNodeID derives a stable node id from the
// checkpoint's scope rather than minting a random uuid, so that replaying
// the same checkpoint token is naturally idempotent even before the
// dedupeKey lookup runs.
func deterministicCheckpointNodeID(cp *token.AckPayload) string {
	return "chk:" + cp.NodeID + ":" + cp.AttemptID
}

func findChildByDedupeAttempt(proj *Projection, parentID string, kind NodeKind, attemptID string) *Node {
	for _, childID := range proj.Children[parentID] {
		n, ok := proj.Nodes[childID]
		if ok && n.Kind == kind && n.ParentNodeID == parentID && n.AttemptID == attemptID {
			return n
		}
	}
	return nil
}
