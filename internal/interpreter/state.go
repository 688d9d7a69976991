// Package interpreter implements the pure workflow interpreter (C6,
// spec.md §4.6): next-step selection over a compiled workflow, execution
// state, context, and artifacts. No I/O, no clock, no randomness — the
// same inputs always produce the same outputs.
package interpreter

import (
	"fmt"
	"sort"
)

// LoopFrame is a loop's live bookkeeping on State.LoopStack: the loop it
// belongs to, its current iteration, its position within the loop's
// resolved body sequence, and (for for/forEach) the iteration count
// resolved once at loop entry.
type LoopFrame struct {
	LoopID      string
	Iteration   int
	BodyIndex   int
	ResolvedMax int // for/forEach only; 0 for while/until
}

// PathFrame is one entry of a step-instance-key's loopPath: just the
// (loopId, iteration) pair spec.md §3 defines — bodyIndex is bookkeeping,
// not part of a step instance's identity.
type PathFrame struct {
	LoopID    string
	Iteration int
}

// StepInstanceKey identifies one occurrence of a step: its id plus the
// ordered stack of loop frames it is nested under. Two keys are equal iff
// StepID and every LoopPath entry match structurally. Nested loops are
// rejected at compile time, so LoopPath never has more than one entry.
type StepInstanceKey struct {
	StepID   string
	LoopPath []PathFrame
}

// String renders a canonical, sortable form: stepId, then each loop frame
// as loopId:iteration. Used both for set membership and for the canonical
// ordering spec.md §3 requires when serializing `completed`.
func (k StepInstanceKey) String() string {
	s := k.StepID
	for _, f := range k.LoopPath {
		s += fmt.Sprintf("/%s:%d", f.LoopID, f.Iteration)
	}
	return s
}

// Equal reports structural equality.
func (k StepInstanceKey) Equal(other StepInstanceKey) bool {
	return k.String() == other.String()
}

// StateKind discriminates the execution-state tagged union.
type StateKind string

const (
	StateInit    StateKind = "init"
	StateRunning StateKind = "running"
	StateBlocked StateKind = "blocked"
	StateComplete StateKind = "complete"
)

// BlockerKind distinguishes a retryable blocker (validation failed, ask the
// agent to try again) from a terminal one (engine cannot proceed).
type BlockerKind string

const (
	BlockerRetryable BlockerKind = "retryable"
	BlockerTerminal  BlockerKind = "terminal"
)

// Blocker is one reason execution is blocked.
type Blocker struct {
	Reason string
}

// BlockedInfo carries the blocker detail attached to a blocked state.
type BlockedInfo struct {
	Kind          BlockerKind
	Blockers      []Blocker
	RetryAttemptID string
	ValidationRef  string
}

// State is the interpreter's immutable execution-state value. Completed is
// a set, represented as a slice kept in canonical order (sorted by
// StepInstanceKey.String()); callers must not mutate it in place — next()
// always returns a new State.
type State struct {
	Kind      StateKind
	Completed []StepInstanceKey
	LoopStack []LoopFrame
	Pending   *StepInstanceKey
	Blocked   *BlockedInfo
}

// Init returns the state before the first step.
func Init() State {
	return State{Kind: StateInit}
}

// hasCompleted reports whether key is already in s.Completed.
func (s State) hasCompleted(key StepInstanceKey) bool {
	for _, k := range s.Completed {
		if k.Equal(key) {
			return true
		}
	}
	return false
}

// withCompleted returns a copy of s with key inserted into Completed,
// re-sorted into canonical order, and Pending cleared.
func (s State) withCompleted(key StepInstanceKey) State {
	next := s
	completed := make([]StepInstanceKey, len(s.Completed), len(s.Completed)+1)
	copy(completed, s.Completed)
	completed = append(completed, key)
	sort.Slice(completed, func(i, j int) bool { return completed[i].String() < completed[j].String() })
	next.Completed = completed
	next.Pending = nil
	return next
}

// currentLoopPath derives the loopPath from the top of LoopStack, in
// stack order (outermost first).
func (s State) currentLoopPath() []LoopFrame {
	if len(s.LoopStack) == 0 {
		return nil
	}
	path := make([]LoopFrame, len(s.LoopStack))
	copy(path, s.LoopStack)
	return path
}
