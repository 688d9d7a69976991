// Package orchestrator implements the Execution Orchestrator (C8,
// spec.md §4.8): the stateful shell around the pure interpreter (C6) and
// validation engine (C7), durable via the session event log (C2) and
// snapshot store (C3), addressed by opaque tokens (C4).
package orchestrator

import (
	"context"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/EtienneBBeaulac/workrail/internal/interpreter"
	"github.com/EtienneBBeaulac/workrail/internal/legacycond"
	"github.com/EtienneBBeaulac/workrail/internal/sessionlog"
	"github.com/EtienneBBeaulac/workrail/internal/snapshotstore"
	"github.com/EtienneBBeaulac/workrail/internal/token"
	"github.com/EtienneBBeaulac/workrail/internal/validation"
	"github.com/EtienneBBeaulac/workrail/internal/varpath"
	wrerrors "github.com/EtienneBBeaulac/workrail/pkg/errors"
	"github.com/EtienneBBeaulac/workrail/pkg/workflow"
	"github.com/google/uuid"
)

// maxNodeOutputBytes bounds node_output_appended per spec.md §4.8.
const maxNodeOutputBytes = 4096

// Catalog resolves a workflow id to its compiled, hashed snapshot. The
// spec's list_workflows/inspect_workflow surface owns discovery; the
// orchestrator only needs lookup-by-id, so it depends on this narrow
// interface rather than a concrete loader (spec.md §9's "global
// singletons ... design as explicit dependencies" note, applied to the
// workflow source too).
type Catalog interface {
	Compiled(workflowID string) (*workflow.CompiledWorkflow, bool, error)
}

// GitSignals resolves a workspace's git HEAD SHA and branch at
// start_workflow time, so that C9's resume ranking can later match a
// caller's current workspace against what a session recorded without
// re-shelling out to every session's original workspace. Narrow port,
// same shape as Catalog, so the concrete implementation (internal/resume)
// never needs to be imported here (spec.md §9's "design as explicit
// dependencies" note).
type GitSignals interface {
	HeadSHA(ctx context.Context, workspacePath string) (sha string, ok bool)
	Branch(ctx context.Context, workspacePath string) (branch string, ok bool)
}

// Orchestrator wires together the session log, snapshot store, token
// codec, interpreter, and validation engine behind the five tool verbs'
// start/continue/checkpoint operations.
type Orchestrator struct {
	Sessions  *sessionlog.Store
	Snapshots *snapshotstore.Store
	Tokens    *token.Codec
	Catalog   Catalog
	Interp    *interpreter.Interpreter
	Validator *validation.Engine
	Git       GitSignals

	// rehydrateGroup collapses concurrent rehydrate calls for the same
	// node into a single snapshot read plus interpreter.Next
	// recomputation (rehydrate is a pure query, so sharing the result
	// across callers racing on the same state token is safe). Zero value
	// is ready to use, same as sync.Mutex.
	rehydrateGroup singleflight.Group
}

// WithGitSignals attaches a GitSignals port, enabling Start to record a
// session's workspace HEAD/branch for later resume ranking. Optional:
// an Orchestrator with a nil Git never records these fields.
func (o *Orchestrator) WithGitSignals(git GitSignals) *Orchestrator {
	o.Git = git
	return o
}

// New wires a fresh Orchestrator from its dependencies' natural
// constructors, matching how the teacher wires its controller from
// backend + auth components at startup.
func New(sessions *sessionlog.Store, snapshots *snapshotstore.Store, tokens *token.Codec, catalog Catalog) *Orchestrator {
	resolver := varpath.New()
	legacy := legacycond.New()
	return &Orchestrator{
		Sessions:  sessions,
		Snapshots: snapshots,
		Tokens:    tokens,
		Catalog:   catalog,
		Interp:    interpreter.New(resolver, legacy),
		Validator: validation.New(resolver),
	}
}

// PendingStep is the tool-visible description of the step the agent
// should perform next.
type PendingStep struct {
	StepID string
	Title  string
	Prompt string
}

// NextCall packages the already-correct next tool invocation so the
// agent never hand-crafts tokens (spec.md §4.8).
type NextCall struct {
	Tool   string
	Params map[string]interface{}
}

// NextIntent is the closed set spec.md §4.8 names.
type NextIntent string

const (
	IntentPerformPendingThenContinue NextIntent = "perform_pending_then_continue"
	IntentAwaitUserConfirmation      NextIntent = "await_user_confirmation"
	IntentRehydrateOnly              NextIntent = "rehydrate_only"
	IntentComplete                   NextIntent = "complete"
)

func deriveNextIntent(rehydrateOnly, isComplete bool, pending *PendingStep) NextIntent {
	switch {
	case isComplete:
		return IntentComplete
	case rehydrateOnly:
		return IntentRehydrateOnly
	case pending != nil:
		return IntentPerformPendingThenContinue
	default:
		return IntentAwaitUserConfirmation
	}
}

func buildNextCall(intent NextIntent, stateToken, ackToken string) *NextCall {
	switch intent {
	case IntentComplete:
		return nil
	case IntentRehydrateOnly:
		return &NextCall{Tool: "continue_workflow", Params: map[string]interface{}{"stateToken": stateToken}}
	default:
		return &NextCall{Tool: "continue_workflow", Params: map[string]interface{}{"stateToken": stateToken, "ackToken": ackToken}}
	}
}

// StartRequest is start_workflow's input (spec.md §6).
type StartRequest struct {
	WorkflowID    string
	Context       map[string]interface{}
	WorkspacePath string
}

// StartResult is start_workflow's output.
type StartResult struct {
	StateToken      string
	AckToken        string
	CheckpointToken string
	Pending         *PendingStep
	Preferences     Preferences
	NextIntent      NextIntent
	NextCall        *NextCall
	IsComplete      bool
}

// Start compiles, pins, and begins a new session.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	compiled, ok, err := o.Catalog.Compiled(req.WorkflowID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &wrerrors.NotFoundError{Resource: "workflow", ID: req.WorkflowID}
	}
	if len(compiled.TopLevelStepIDs) == 0 {
		return nil, &wrerrors.PreconditionError{Reason: "workflow has no steps", Details: req.WorkflowID}
	}

	reqContext := req.Context
	if reqContext == nil {
		reqContext = map[string]interface{}{}
	}
	if err := validateContextBudget(reqContext); err != nil {
		return nil, err
	}

	result, err := o.Interp.Next(ctx, compiled, interpreter.Init(), reqContext, nil)
	if err != nil {
		return nil, mapInterpreterError(err)
	}

	sessionID := uuid.New().String()
	runID := uuid.New().String()
	nodeID := uuid.New().String()
	attemptID := uuid.New().String()

	var headSHA, branch string
	if o.Git != nil && req.WorkspacePath != "" {
		headSHA, _ = o.Git.HeadSHA(ctx, req.WorkspacePath)
		branch, _ = o.Git.Branch(ctx, req.WorkspacePath)
	}

	snapRef, err := putSnapshot(ctx, o.Snapshots, engineSnapshot{State: result.State, Context: reqContext, Artifacts: nil})
	if err != nil {
		return nil, err
	}

	var events []sessionlog.Event
	add := func(kind eventKind, dedupe string, data interface{}) error {
		ev, err := buildEvent(len(events), kind, dedupe, data)
		if err != nil {
			return err
		}
		events = append(events, ev)
		return nil
	}
	if err := add(kindSessionCreated, "session_created:"+sessionID, sessionCreatedData{WorkflowID: compiled.ID, WorkflowHash: compiled.WorkflowHash, WorkspacePath: req.WorkspacePath, HeadSHA: headSHA, Branch: branch}); err != nil {
		return nil, err
	}
	if err := add(kindRunStarted, "run_started:"+sessionID, runStartedData{RunID: runID, WorkflowID: compiled.ID, WorkflowHash: compiled.WorkflowHash}); err != nil {
		return nil, err
	}
	nodeCreatedIdx := len(events)
	if err := add(kindNodeCreated, "node_created:"+nodeID, nodeCreatedData{NodeID: nodeID, Kind: NodeStep, WorkflowHash: compiled.WorkflowHash, SnapshotRef: snapRef, AttemptID: attemptID}); err != nil {
		return nil, err
	}
	prefs := defaultPreferences()
	if err := add(kindPreferencesChanged, "preferences_changed:"+sessionID+":0", preferencesChangedData{Autonomy: prefs.Autonomy, RiskPolicy: prefs.RiskPolicy}); err != nil {
		return nil, err
	}
	if len(req.Context) > 0 {
		if err := add(kindContextSet, "context_set:"+sessionID+":0", contextSetData{Context: req.Context}); err != nil {
			return nil, err
		}
	}

	witness, _, release, err := o.Sessions.Begin(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()
	plan := sessionlog.AppendPlan{
		Events: events,
		SnapshotPins: []sessionlog.SnapshotPin{
			{SnapshotRef: snapRef, EventIndex: nodeCreatedIdx, CreatedByEventID: "node_created:" + nodeID},
		},
	}
	if _, err := o.Sessions.Append(witness, sessionID, plan); err != nil {
		return nil, err
	}

	workflowHashRef := compiled.WorkflowHash
	stateToken, err := o.Tokens.SignState(token.StatePayload{SessionID: sessionID, RunID: runID, NodeID: nodeID, WorkflowHashRef: workflowHashRef})
	if err != nil {
		return nil, err
	}
	ackToken, err := o.Tokens.SignAck(token.AckPayload{SessionID: sessionID, RunID: runID, NodeID: nodeID, AttemptID: attemptID})
	if err != nil {
		return nil, err
	}
	checkpointToken, err := o.Tokens.SignCheckpoint(token.AckPayload{SessionID: sessionID, RunID: runID, NodeID: nodeID, AttemptID: attemptID})
	if err != nil {
		return nil, err
	}

	pending := renderPending(compiled, result.Next)
	intent := deriveNextIntent(false, result.IsComplete, pending)
	return &StartResult{
		StateToken:      stateToken,
		AckToken:        ackToken,
		CheckpointToken: checkpointToken,
		Pending:         pending,
		Preferences:     prefs,
		NextIntent:      intent,
		NextCall:        buildNextCall(intent, stateToken, ackToken),
		IsComplete:      result.IsComplete,
	}, nil
}

func renderPending(compiled *workflow.CompiledWorkflow, key *interpreter.StepInstanceKey) *PendingStep {
	if key == nil {
		return nil
	}
	step, ok := compiled.Step(key.StepID)
	if !ok {
		return nil
	}
	return &PendingStep{StepID: step.ID, Title: step.ID, Prompt: step.Prompt}
}

func mapInterpreterError(err error) error {
	var ie *wrerrors.InterpreterError
	if wrerrors.As(err, &ie) {
		switch ie.Kind {
		case wrerrors.InterpreterMissingContext:
			variable := ie.Variable
			if variable == "" {
				variable = ie.ArtifactRef
			}
			return &wrerrors.PreconditionError{Reason: "missing required context", Details: variable}
		case wrerrors.InterpreterUnsatisfiableCondition:
			return &wrerrors.PreconditionError{Reason: "no eligible step", Details: ie.Error()}
		}
	}
	return err
}

// loadProjection loads and replays a session's log. Read-only; no lock.
func (o *Orchestrator) loadProjection(sessionID string) (*Projection, error) {
	return LoadProjection(o.Sessions, sessionID)
}

// LoadProjection loads and replays a session's log into a Projection
// without requiring an Orchestrator — the entry point C9's resume
// ranking uses to read session metadata (spec.md §4.9) without
// depending on the orchestrator's token/catalog/validator wiring.
func LoadProjection(store *sessionlog.Store, sessionID string) (*Projection, error) {
	log, err := store.Load(sessionID)
	if err != nil {
		return nil, err
	}
	return project(sessionID, log)
}

// parseAndVerify parses raw and verifies its signature, returning the
// wrapped *wrerrors.TokenError on any failure.
func (o *Orchestrator) parseAndVerify(raw string) (*token.Parsed, error) {
	parsed, err := o.Tokens.Parse(raw)
	if err != nil {
		return nil, err
	}
	if err := o.Tokens.VerifySignature(parsed); err != nil {
		return nil, err
	}
	return parsed, nil
}

func truncateOutput(output string) string {
	if len(output) <= maxNodeOutputBytes {
		return output
	}
	return output[:maxNodeOutputBytes]
}

func canonicalHashEqual(a, b string) bool {
	return strings.EqualFold(a, b)
}
