package interpreter

import (
	wrerrors "github.com/EtienneBBeaulac/workrail/pkg/errors"
)

// EventKind is the closed set of interpreter-applicable events (spec.md
// §4.6, distinct from the durable domain-event kinds in C2 — these are the
// subset that mutate execution state).
type EventKind string

const (
	EventStepCompleted EventKind = "step_completed"
	EventLoopIterEnded EventKind = "loop_iter_ended"
)

// Event is a state-transition input to ApplyEvent.
type Event struct {
	Kind            EventKind
	StepInstanceKey StepInstanceKey // set for EventStepCompleted
	LoopID          string          // set for EventLoopIterEnded
}

// ApplyEvent transitions state per spec.md §4.6: step_completed adds the
// key to Completed and clears Pending; loop_iter_ended pops the top
// LoopFrame (it never advances the frame to a further iteration; Next
// does that itself when a loop continues). Events not applicable to the
// current state return
// InterpreterError{Kind: invalid_transition}.
func ApplyEvent(state State, event Event) (State, error) {
	switch event.Kind {
	case EventStepCompleted:
		if state.Pending == nil || !state.Pending.Equal(event.StepInstanceKey) {
			return state, &wrerrors.InterpreterError{
				Kind:    wrerrors.InterpreterInvalidTransition,
				Message: "step_completed does not match the current pending step",
			}
		}
		return state.withCompleted(event.StepInstanceKey), nil

	case EventLoopIterEnded:
		if len(state.LoopStack) == 0 {
			return state, &wrerrors.InterpreterError{
				Kind:    wrerrors.InterpreterInvalidTransition,
				Message: "loop_iter_ended with no active loop",
			}
		}
		top := state.LoopStack[len(state.LoopStack)-1]
		if top.LoopID != event.LoopID {
			return state, &wrerrors.InterpreterError{
				Kind:    wrerrors.InterpreterInvalidTransition,
				Message: "loop_iter_ended targets a loop that is not on top of the stack",
			}
		}
		next := state
		next.LoopStack = state.LoopStack[:len(state.LoopStack)-1]
		return next, nil

	default:
		return state, &wrerrors.InterpreterError{
			Kind:    wrerrors.InterpreterInvalidTransition,
			Message: "unknown event kind",
		}
	}
}
