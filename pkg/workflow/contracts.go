package workflow

// LoopControlContractRef is the one artifact contract spec.md names
// explicitly: a typed decision artifact a loop body step can emit to drive
// while/until continuation (spec.md §4.5 phase 4, §8 scenario 2).
const LoopControlContractRef = "wr.contracts.loop_control"

// ContractRegistry is the closed set of output-contract refs a compiled
// workflow may reference. It is left open to registering more than the
// one spec.md names (SPEC_FULL.md §"Supplemented features").
type ContractRegistry struct {
	known map[string]bool
}

// NewContractRegistry creates a registry seeded with refs.
func NewContractRegistry(refs ...string) *ContractRegistry {
	r := &ContractRegistry{known: make(map[string]bool, len(refs))}
	for _, ref := range refs {
		r.known[ref] = true
	}
	return r
}

// DefaultContractRegistry returns a registry containing only the one
// contract spec.md names.
func DefaultContractRegistry() *ContractRegistry {
	return NewContractRegistry(LoopControlContractRef)
}

// Register adds ref to the registry.
func (r *ContractRegistry) Register(ref string) {
	r.known[ref] = true
}

// Has reports whether ref is a known, registered contract.
func (r *ContractRegistry) Has(ref string) bool {
	return r.known[ref]
}
