package orchestrator

import (
	"github.com/EtienneBBeaulac/workrail/internal/interpreter"
	"github.com/EtienneBBeaulac/workrail/internal/sessionlog"
)

// Node is an addressable point in a session's execution DAG (spec.md §3).
type Node struct {
	ID           string
	ParentNodeID string
	Kind         NodeKind
	WorkflowHash string
	SnapshotRef  string
	AttemptID    string
}

// Preferences is the effective autonomy/risk posture governing a run
// (spec.md §4.8). Defaults are guided/conservative until the first
// preferences_changed event.
type Preferences struct {
	Autonomy   string
	RiskPolicy string
}

func defaultPreferences() Preferences {
	return Preferences{Autonomy: "guided", RiskPolicy: "conservative"}
}

// Projection is the in-memory index a session's log replays into: nodes
// addressable by id in O(1), their children for tip/fork detection, the
// latest-wins preferences/context, recorded loop-control artifacts, and
// enough of the advance_recorded history to detect replays by dedupeKey
// (spec.md §9's "lookups by nodeId are O(1) via a load-time index").
type Projection struct {
	SessionID     string
	WorkflowID    string
	WorkflowHash  string
	WorkspacePath string
	RunID         string
	HeadSHA       string
	Branch        string

	Nodes        map[string]*Node
	Children     map[string][]string
	NodeOrder    []string // node ids in node_created order, for tip resolution
	Preferences  Preferences
	Context      map[string]interface{}
	Artifacts    []interpreter.Artifact
	LastOutput   map[string]string            // nodeId -> last node_output_appended
	LastNotes    string                        // session-wide most recent node_output_appended (C9 resume ranking)
	Capabilities map[string]map[string]string // nodeId -> name -> value, latest-wins by eventIndex (C9)
	AdvanceByKey map[string]advanceRecordedData
	NextEventIdx int
}

// project replays a loaded session log into a Projection. Pure function
// over already-verified facts; does no I/O of its own.
func project(sessionID string, log *sessionlog.Log) (*Projection, error) {
	p := &Projection{
		SessionID:    sessionID,
		Nodes:        map[string]*Node{},
		Children:     map[string][]string{},
		Preferences:  defaultPreferences(),
		Context:      map[string]interface{}{},
		LastOutput:   map[string]string{},
		Capabilities: map[string]map[string]string{},
		AdvanceByKey: map[string]advanceRecordedData{},
		NextEventIdx: log.NextEventIndex,
	}

	for _, e := range log.Events {
		switch eventKind(e.Kind) {
		case kindSessionCreated:
			d, err := decode[sessionCreatedData](e)
			if err != nil {
				return nil, err
			}
			p.WorkflowID = d.WorkflowID
			p.WorkflowHash = d.WorkflowHash
			p.WorkspacePath = d.WorkspacePath
			p.HeadSHA = d.HeadSHA
			p.Branch = d.Branch

		case kindRunStarted:
			d, err := decode[runStartedData](e)
			if err != nil {
				return nil, err
			}
			p.RunID = d.RunID

		case kindNodeCreated:
			d, err := decode[nodeCreatedData](e)
			if err != nil {
				return nil, err
			}
			p.Nodes[d.NodeID] = &Node{
				ID:           d.NodeID,
				ParentNodeID: d.ParentNodeID,
				Kind:         d.Kind,
				WorkflowHash: d.WorkflowHash,
				SnapshotRef:  d.SnapshotRef,
				AttemptID:    d.AttemptID,
			}
			p.NodeOrder = append(p.NodeOrder, d.NodeID)

		case kindEdgeCreated:
			d, err := decode[edgeCreatedData](e)
			if err != nil {
				return nil, err
			}
			p.Children[d.FromNodeID] = append(p.Children[d.FromNodeID], d.ToNodeID)

		case kindPreferencesChanged:
			d, err := decode[preferencesChangedData](e)
			if err != nil {
				return nil, err
			}
			p.Preferences = Preferences{Autonomy: d.Autonomy, RiskPolicy: d.RiskPolicy}

		case kindContextSet:
			d, err := decode[contextSetData](e)
			if err != nil {
				return nil, err
			}
			for k, v := range d.Context {
				p.Context[k] = v
			}

		case kindAdvanceRecorded:
			d, err := decode[advanceRecordedData](e)
			if err != nil {
				return nil, err
			}
			p.AdvanceByKey[e.DedupeKey] = d

		case kindNodeOutputAppended:
			d, err := decode[nodeOutputAppendedData](e)
			if err != nil {
				return nil, err
			}
			p.LastOutput[d.NodeID] = d.Output
			p.LastNotes = d.Output

		case kindObservationRecorded:
			d, err := decode[observationRecordedData](e)
			if err != nil {
				return nil, err
			}
			p.Artifacts = append(p.Artifacts, interpreter.Artifact{
				Kind: d.ArtifactKind, LoopID: d.LoopID, Decision: d.Decision, EventIndex: e.EventIndex,
			})

		case kindCapabilityObserved:
			d, err := decode[capabilityObservedData](e)
			if err != nil {
				return nil, err
			}
			if p.Capabilities[d.NodeID] == nil {
				p.Capabilities[d.NodeID] = map[string]string{}
			}
			p.Capabilities[d.NodeID][d.Name] = d.Value

		case kindGapRecorded, kindValidationRecorded:
			// Recorded for audit purposes (preferences-gap reporting,
			// validation history); not consumed by the advance core itself.
		}
	}

	return p, nil
}

// isTip reports whether nodeID has no recorded outgoing edges — the
// straight-line continuation point.
func (p *Projection) isTip(nodeID string) bool {
	return len(p.Children[nodeID]) == 0
}

// TipNode returns the most-recently-created node with no outgoing edges —
// the session's current resumption point (C9 resume ranking, spec.md
// §4.9). Walks NodeOrder in reverse so a fork's older branches never win
// over a later straight-line continuation.
func (p *Projection) TipNode() *Node {
	for i := len(p.NodeOrder) - 1; i >= 0; i-- {
		id := p.NodeOrder[i]
		if p.isTip(id) {
			return p.Nodes[id]
		}
	}
	return nil
}

// forkCause derives the cause an edge_created event from fromNodeID
// should carry, per spec.md §4.8's fork rule.
func (p *Projection) forkCause(fromNodeID string, rehydratedAtNonTip bool) ForkCause {
	if !p.isTip(fromNodeID) {
		return CauseNonTipAdvance
	}
	if rehydratedAtNonTip {
		return CauseIntentionalFork
	}
	return CauseAckedStep
}
