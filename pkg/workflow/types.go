// Package workflow defines the authored workflow data model and the
// compiler that lowers it into an executable, hashed, deterministic
// snapshot (C5, spec.md §3, §4.5).
package workflow

import "encoding/json"

// StepKind discriminates a step's two shapes. The interpreter switches on
// this tag rather than performing any runtime type inspection (spec.md §9).
type StepKind string

const (
	StepKindLeaf StepKind = "leaf"
	StepKindLoop StepKind = "loop"
)

// Definition is an author's workflow source: an identifier, a version, and
// an ordered sequence of steps. This is the compiler's input (spec.md §3).
type Definition struct {
	ID      string    `json:"id" yaml:"id"`
	Version string    `json:"version" yaml:"version"`
	Steps   []StepDef `json:"steps" yaml:"steps"`

	// Refs registers named prompt snippets that promptBlocks.refs resolve
	// against during compilation. Left nil, compilation uses an empty
	// registry and any ref fails to resolve.
	Refs map[string]string `json:"refs,omitempty" yaml:"refs,omitempty"`
}

// StepDef is the authored, uncompiled shape of a single step: either a
// leaf (prompt + optional contract/criteria) or a loop (loop config + body).
type StepDef struct {
	ID   string   `json:"id" yaml:"id"`
	Kind StepKind `json:"kind" yaml:"kind"`

	// Leaf fields.
	Prompt             string          `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	PromptBlocks       *PromptBlocks   `json:"promptBlocks,omitempty" yaml:"promptBlocks,omitempty"`
	RunCondition       *Predicate      `json:"runCondition,omitempty" yaml:"runCondition,omitempty"`
	OutputContract     *OutputContract `json:"outputContract,omitempty" yaml:"outputContract,omitempty"`
	ValidationCriteria json.RawMessage `json:"validationCriteria,omitempty" yaml:"validationCriteria,omitempty"`
	Functions          []FunctionDef   `json:"functions,omitempty" yaml:"functions,omitempty"`

	// Loop fields.
	Loop *LoopConfig `json:"loop,omitempty" yaml:"loop,omitempty"`
}

// PromptBlocks is the structured alternative to a raw prompt string. A
// step must set exactly one of Prompt or PromptBlocks (spec.md §4.5 phase 2).
type PromptBlocks struct {
	Refs           []string `json:"refs,omitempty" yaml:"refs,omitempty"`
	Goal           string   `json:"goal,omitempty" yaml:"goal,omitempty"`
	Constraints    []string `json:"constraints,omitempty" yaml:"constraints,omitempty"`
	Procedure      []string `json:"procedure,omitempty" yaml:"procedure,omitempty"`
	OutputRequired string   `json:"outputRequired,omitempty" yaml:"outputRequired,omitempty"`
	Verify         string   `json:"verify,omitempty" yaml:"verify,omitempty"`
}

// OutputContract names a registered, typed artifact schema a step's output
// must satisfy (spec.md glossary: artifact contract).
type OutputContract struct {
	Ref string `json:"ref" yaml:"ref"`
}

// FunctionDef is an author-declared function definition or call attached
// to a leaf step. WorkRail does not execute these; it records and renders
// them as part of the compiled prompt for the agent to act on.
type FunctionDef struct {
	Name string                 `json:"name" yaml:"name"`
	Call string                 `json:"call,omitempty" yaml:"call,omitempty"`
	Args map[string]interface{} `json:"args,omitempty" yaml:"args,omitempty"`
}

// LoopKind is the closed set of loop flavors (spec.md §3).
type LoopKind string

const (
	LoopWhile   LoopKind = "while"
	LoopUntil   LoopKind = "until"
	LoopFor     LoopKind = "for"
	LoopForEach LoopKind = "forEach"
)

// MaxIterationsCeiling is the hard safety ceiling enforced at compile time
// (spec.md §8).
const MaxIterationsCeiling = 1000

// CountSpec resolves a `for` loop's iteration count: either a literal or a
// named context variable, resolved against the run's context at loop entry.
type CountSpec struct {
	Literal *int   `json:"literal,omitempty" yaml:"literal,omitempty"`
	Var     string `json:"var,omitempty" yaml:"var,omitempty"`
}

// ConditionSourceKind is the closed set of derived while/until condition
// origins (spec.md §3, glossary: condition source).
type ConditionSourceKind string

const (
	ConditionSourceArtifactContract ConditionSourceKind = "artifact_contract"
	ConditionSourceContextVariable  ConditionSourceKind = "context_variable"
)

// ConditionSourceConfig lets an author explicitly pin a while/until loop's
// condition source instead of relying on compiler derivation (spec.md §4.5
// phase 6, first bullet).
type ConditionSourceConfig struct {
	Kind      ConditionSourceKind `json:"kind" yaml:"kind"`
	Ref       string              `json:"ref,omitempty" yaml:"ref,omitempty"`
	Condition string              `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// LoopConfig is the authored configuration of a loop step.
type LoopConfig struct {
	Kind            LoopKind               `json:"kind" yaml:"kind"`
	MaxIterations   int                    `json:"maxIterations" yaml:"maxIterations"`
	Condition       string                 `json:"condition,omitempty" yaml:"condition,omitempty"` // legacy while/until string expression
	ConditionSource *ConditionSourceConfig `json:"conditionSource,omitempty" yaml:"conditionSource,omitempty"`
	Count           *CountSpec             `json:"count,omitempty" yaml:"count,omitempty"` // for `for`
	Items           string                 `json:"items,omitempty" yaml:"items,omitempty"` // context var for `forEach`
	LoopVar         string                 `json:"loopVar,omitempty" yaml:"loopVar,omitempty"`
	IndexVar        string                 `json:"indexVar,omitempty" yaml:"indexVar,omitempty"`
	Body            LoopBody               `json:"body" yaml:"body"`
}

// LoopBody is either a reference to an already-declared non-loop step id,
// or an inline sequence of step definitions materialized into the index
// at compile time (spec.md §4.5 phase 5).
type LoopBody struct {
	RefStepID string
	Inline    []StepDef
}

// MarshalJSON emits the inline sequence, or the bare string ref.
func (b LoopBody) MarshalJSON() ([]byte, error) {
	if b.RefStepID != "" {
		return json.Marshal(b.RefStepID)
	}
	return json.Marshal(b.Inline)
}

// UnmarshalJSON accepts either a JSON string (step id reference) or a JSON
// array (inline step sequence).
func (b *LoopBody) UnmarshalJSON(data []byte) error {
	var ref string
	if err := json.Unmarshal(data, &ref); err == nil {
		b.RefStepID = ref
		b.Inline = nil
		return nil
	}
	var inline []StepDef
	if err := json.Unmarshal(data, &inline); err != nil {
		return err
	}
	b.Inline = inline
	b.RefStepID = ""
	return nil
}

// Predicate is the small typed predicate language used by runCondition and
// by validation rules' condition gates (spec.md §4.6); context_variable loop
// conditions are legacy string expressions instead. Exactly one of the
// comparison/logical fields is set on any given node.
type Predicate struct {
	Var    string      `json:"var,omitempty" yaml:"var,omitempty"`
	Equals interface{} `json:"equals,omitempty" yaml:"equals,omitempty"`
	Lt     interface{} `json:"lt,omitempty" yaml:"lt,omitempty"`
	Le     interface{} `json:"le,omitempty" yaml:"le,omitempty"`
	Gt     interface{} `json:"gt,omitempty" yaml:"gt,omitempty"`
	Ge     interface{} `json:"ge,omitempty" yaml:"ge,omitempty"`

	And []*Predicate `json:"and,omitempty" yaml:"and,omitempty"`
	Or  []*Predicate `json:"or,omitempty" yaml:"or,omitempty"`
	Not *Predicate   `json:"not,omitempty" yaml:"not,omitempty"`
}
