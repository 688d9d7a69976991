// Package contracts is a registry of typed artifact-contract schemas,
// keyed by the same ref strings pkg/workflow.ContractRegistry checks at
// compile time. It supplements spec.md's single named contract
// (wr.contracts.loop_control) with an open registration point, grounded
// on the teacher's pkg/workflow/schema package: a schema lives behind a
// name, looked up by ref rather than switched on inline.
package contracts

import (
	"fmt"

	"github.com/EtienneBBeaulac/workrail/pkg/workflow"
)

// Schema is a JSON-Schema-shaped map, the same representation C7's
// schemaValidate already walks for outputSchema rules.
type Schema = map[string]interface{}

// Contract pairs a schema with the field the orchestrator reads back out
// of a validated artifact (loop_control's "decision" field, for example).
// DecisionField is empty for contracts that carry no such field.
type Contract struct {
	Schema        Schema
	DecisionField string
}

// Registry maps contract refs to their schema. Unlike
// pkg/workflow.ContractRegistry (which only tracks which refs are legal
// to reference in a compiled workflow), this registry holds the schema
// itself, for C7 to validate reported output against at runtime.
type Registry struct {
	contracts map[string]Contract
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{contracts: make(map[string]Contract)}
}

// Register adds or replaces the schema for ref.
func (r *Registry) Register(ref string, contract Contract) {
	r.contracts[ref] = contract
}

// Lookup returns the contract registered for ref, if any.
func (r *Registry) Lookup(ref string) (Contract, bool) {
	c, ok := r.contracts[ref]
	return c, ok
}

// loopControlSchema is the one typed artifact contract spec.md names
// (wr.contracts.loop_control): a decision plus optional freeform
// metadata a loop body step emits to drive while/until continuation.
var loopControlSchema = Schema{
	"type":     "object",
	"required": []interface{}{"decision"},
	"properties": map[string]interface{}{
		"decision": map[string]interface{}{
			"type": "string",
			"enum": []interface{}{"continue", "stop"},
		},
	},
}

// Default returns a registry seeded with every contract SPEC_FULL.md
// names. Additional contracts register here as the set grows; reaching
// a ref with no entry at runtime is reported distinctly from a known,
// failing-validation ref (see validation.ValidateArtifactContract).
func Default() *Registry {
	r := NewRegistry()
	r.Register(workflow.LoopControlContractRef, Contract{Schema: loopControlSchema, DecisionField: "decision"})
	return r
}

// MustHaveSchema panics if ref has no registered schema, for use at
// startup wiring time rather than per-call.
func MustHaveSchema(r *Registry, ref string) {
	if _, ok := r.Lookup(ref); !ok {
		panic(fmt.Sprintf("contracts: no schema registered for %q", ref))
	}
}
