package workflow

// CompiledStep is a step after ref resolution and prompt rendering. Leaf
// and loop steps share this shape; the interpreter switches on Kind.
type CompiledStep struct {
	ID                 string
	Kind               StepKind
	Prompt             string // rendered text; empty for loop steps
	RunCondition       *Predicate
	OutputContract     *OutputContract
	ValidationCriteria []byte
	Functions          []FunctionDef
}

// CompiledLoop is a loop step's resolved body and derived condition source.
type CompiledLoop struct {
	LoopID          string
	Kind            LoopKind
	MaxIterations   int
	Count           *CountSpec
	Items           string
	LoopVar         string
	IndexVar        string
	BodyStepIDs     []string // resolved, ordered sequence of step ids
	ConditionSource *ConditionSource // nil for for/forEach
}

// ConditionSource is the resolved origin of a while/until loop's
// continuation decision (spec.md §4.5 phase 6, glossary).
type ConditionSource struct {
	Kind ConditionSourceKind

	// Set when Kind == ConditionSourceArtifactContract.
	ArtifactRef string
	LoopID      string

	// Set when Kind == ConditionSourceContextVariable. A legacy string
	// expression evaluated via internal/legacycond (expr-lang).
	Condition string
}

// CompiledWorkflow is the compiler's output: a pinned, hashed, executable
// snapshot of a workflow definition (spec.md §3, §4.5).
type CompiledWorkflow struct {
	ID              string
	Version         string
	TopLevelStepIDs []string
	StepByID        map[string]*CompiledStep
	CompiledLoops   map[string]*CompiledLoop // keyed by the loop step's id
	LoopBodyStepIDs map[string]bool
	WorkflowHash    string
}

// Step looks up a compiled step by id, returning ok=false if absent.
func (c *CompiledWorkflow) Step(id string) (*CompiledStep, bool) {
	s, ok := c.StepByID[id]
	return s, ok
}

// Loop looks up a compiled loop by its owning step id.
func (c *CompiledWorkflow) Loop(id string) (*CompiledLoop, bool) {
	l, ok := c.CompiledLoops[id]
	return l, ok
}

// IsLoopBodyStep reports whether id must never be selected at top level —
// it is only reachable through its owning loop's body sequence.
func (c *CompiledWorkflow) IsLoopBodyStep(id string) bool {
	return c.LoopBodyStepIDs[id]
}

// hashableWorkflow is the subset of CompiledWorkflow that participates in
// the workflow hash: derived/ephemeral bookkeeping (LoopBodyStepIDs is
// redundant with CompiledLoops; WorkflowHash is the output, not an input)
// is excluded so the hash is a pure function of resolved semantics.
type hashableWorkflow struct {
	ID              string                   `json:"id"`
	Version         string                   `json:"version"`
	TopLevelStepIDs []string                 `json:"topLevelStepIds"`
	Steps           map[string]hashableStep  `json:"steps"`
	Loops           map[string]hashableLoop  `json:"loops"`
}

type hashableStep struct {
	Kind               StepKind        `json:"kind"`
	Prompt             string          `json:"prompt,omitempty"`
	RunCondition       *Predicate      `json:"runCondition,omitempty"`
	OutputContract     *OutputContract `json:"outputContract,omitempty"`
	ValidationCriteria string          `json:"validationCriteria,omitempty"`
}

type hashableLoop struct {
	Kind            LoopKind         `json:"kind"`
	MaxIterations   int              `json:"maxIterations"`
	Count           *CountSpec       `json:"count,omitempty"`
	Items           string           `json:"items,omitempty"`
	LoopVar         string           `json:"loopVar,omitempty"`
	IndexVar        string           `json:"indexVar,omitempty"`
	BodyStepIDs     []string         `json:"bodyStepIds"`
	ConditionSource *ConditionSource `json:"conditionSource,omitempty"`
}

func toHashable(c *CompiledWorkflow) hashableWorkflow {
	steps := make(map[string]hashableStep, len(c.StepByID))
	for id, s := range c.StepByID {
		steps[id] = hashableStep{
			Kind:               s.Kind,
			Prompt:             s.Prompt,
			RunCondition:       s.RunCondition,
			OutputContract:     s.OutputContract,
			ValidationCriteria: string(s.ValidationCriteria),
		}
	}
	loops := make(map[string]hashableLoop, len(c.CompiledLoops))
	for id, l := range c.CompiledLoops {
		loops[id] = hashableLoop{
			Kind:            l.Kind,
			MaxIterations:   l.MaxIterations,
			Count:           l.Count,
			Items:           l.Items,
			LoopVar:         l.LoopVar,
			IndexVar:        l.IndexVar,
			BodyStepIDs:     l.BodyStepIDs,
			ConditionSource: l.ConditionSource,
		}
	}
	return hashableWorkflow{
		ID:              c.ID,
		Version:         c.Version,
		TopLevelStepIDs: c.TopLevelStepIDs,
		Steps:           steps,
		Loops:           loops,
	}
}
