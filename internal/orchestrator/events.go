package orchestrator

import (
	"encoding/json"
	"fmt"

	"github.com/EtienneBBeaulac/workrail/internal/sessionlog"
)

// eventKind is the closed set of durable domain-event kinds spec.md §3
// names. Distinct from interpreter.EventKind (C6's smaller set of
// state-transition inputs) — these are the facts recorded to the session
// log, a superset that also covers bookkeeping (preferences, gaps,
// observations) the pure interpreter never sees.
type eventKind string

const (
	kindSessionCreated      eventKind = "session_created"
	kindRunStarted          eventKind = "run_started"
	kindNodeCreated         eventKind = "node_created"
	kindPreferencesChanged  eventKind = "preferences_changed"
	kindContextSet          eventKind = "context_set"
	kindAdvanceRecorded     eventKind = "advance_recorded"
	kindNodeOutputAppended  eventKind = "node_output_appended"
	kindEdgeCreated         eventKind = "edge_created"
	kindObservationRecorded eventKind = "observation_recorded"
	kindCapabilityObserved  eventKind = "capability_observed"
	kindGapRecorded         eventKind = "gap_recorded"
	kindValidationRecorded  eventKind = "validation_recorded"
)

// NodeKind is the closed set of node kinds an event can create.
type NodeKind string

const (
	NodeStep           NodeKind = "step"
	NodeBlockedAttempt NodeKind = "blocked_attempt"
	NodeCheckpoint     NodeKind = "checkpoint"
)

// ForkCause is the recorded reason an edge was created when advancing
// from a possibly non-tip node (spec.md §4.8, glossary).
type ForkCause string

const (
	CauseAckedStep       ForkCause = "acked_step"
	CauseIntentionalFork ForkCause = "intentional_fork"
	CauseNonTipAdvance   ForkCause = "non_tip_advance"
)

type sessionCreatedData struct {
	WorkflowID    string `json:"workflowId"`
	WorkflowHash  string `json:"workflowHash"`
	WorkspacePath string `json:"workspacePath,omitempty"`
	HeadSHA       string `json:"headSha,omitempty"`
	Branch        string `json:"branch,omitempty"`
}

type runStartedData struct {
	RunID        string `json:"runId"`
	WorkflowID   string `json:"workflowId"`
	WorkflowHash string `json:"workflowHash"`
}

type nodeCreatedData struct {
	NodeID       string   `json:"nodeId"`
	ParentNodeID string   `json:"parentNodeId,omitempty"`
	Kind         NodeKind `json:"kind"`
	WorkflowHash string   `json:"workflowHash"`
	SnapshotRef  string   `json:"snapshotRef"`
	AttemptID    string   `json:"attemptId"`
}

type preferencesChangedData struct {
	Autonomy    string `json:"autonomy"`
	RiskPolicy  string `json:"riskPolicy"`
}

type contextSetData struct {
	Context map[string]interface{} `json:"context"`
}

type advanceRecordedData struct {
	NodeID   string   `json:"nodeId"`
	Outcome  string   `json:"outcome"` // "advanced" | "blocked"
	ToNodeID string   `json:"toNodeId,omitempty"`
	Blockers []string `json:"blockers,omitempty"`
}

type nodeOutputAppendedData struct {
	NodeID string `json:"nodeId"`
	Output string `json:"output"`
}

type edgeCreatedData struct {
	FromNodeID string    `json:"fromNodeId"`
	ToNodeID   string    `json:"toNodeId"`
	Cause      ForkCause `json:"cause"`
}

// observationRecordedData carries a loop-control artifact decision — the
// typed artifact interpreter.Artifact mirrors (spec.md §4.6 step 5).
type observationRecordedData struct {
	ArtifactKind string `json:"artifactKind"`
	LoopID       string `json:"loopId"`
	Decision     string `json:"decision"`
}

type capabilityObservedData struct {
	NodeID string `json:"nodeId"`
	Name   string `json:"name"`
	Value  string `json:"value"`
}

type gapRecordedData struct {
	Field      string `json:"field"`
	Recommended string `json:"recommended"`
	Effective  string `json:"effective"`
	Severity   string `json:"severity"`
}

type validationRecordedData struct {
	NodeID string   `json:"nodeId"`
	Valid  bool     `json:"valid"`
	Issues []string `json:"issues,omitempty"`
}

// buildEvent marshals data as a sessionlog.Event's payload.
func buildEvent(eventIndex int, kind eventKind, dedupeKey string, data interface{}) (sessionlog.Event, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return sessionlog.Event{}, fmt.Errorf("marshaling %s payload: %w", kind, err)
	}
	return sessionlog.Event{
		EventIndex: eventIndex,
		Kind:       string(kind),
		DedupeKey:  dedupeKey,
		Payload:    payload,
	}, nil
}

func decode[T any](e sessionlog.Event) (T, error) {
	var out T
	err := json.Unmarshal(e.Payload, &out)
	return out, err
}
