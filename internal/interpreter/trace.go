package interpreter

// TraceEntryKind is the closed set of trace entry kinds spec.md §4.6 names.
type TraceEntryKind string

const (
	TraceEnteredLoop             TraceEntryKind = "entered_loop"
	TraceExitedLoop              TraceEntryKind = "exited_loop"
	TraceEvaluatedCondition      TraceEntryKind = "evaluated_condition"
	TraceSelectedNextStep        TraceEntryKind = "selected_next_step"
	TraceLoopMaxIterationsReached TraceEntryKind = "loop_max_iterations_reached"
	TraceBlocked                 TraceEntryKind = "blocked"
)

// TraceEntry is one step of the interpreter's decision trace.
type TraceEntry struct {
	Kind    TraceEntryKind
	Summary string
	Detail  string
}
