package validation

import (
	"encoding/json"
	"fmt"

	"github.com/EtienneBBeaulac/workrail/internal/validation/contracts"
	"github.com/EtienneBBeaulac/workrail/pkg/workflow"
)

// defaultContracts is the registry ValidateArtifactContract consults.
// Seeded with every contract SPEC_FULL.md names; additional contracts
// register here rather than growing a switch statement, following the
// teacher's schema-by-name lookup pattern.
var defaultContracts = contracts.Default()

// ValidateArtifactContract locates the typed artifact a step's output
// claims to satisfy (by outputContract ref) and validates it against the
// registered schema for that ref. Returns the parsed decision for
// loop-control artifacts so the orchestrator can feed it to the
// interpreter as an Artifact (spec.md §4.7, §4.6 step 5).
func ValidateArtifactContract(contract *workflow.OutputContract, output string) (decision string, outcome *Outcome, err error) {
	if contract == nil {
		return "", &Outcome{Valid: true}, nil
	}

	var data interface{}
	if jsonErr := json.Unmarshal([]byte(output), &data); jsonErr != nil {
		return "", &Outcome{Valid: false, Issues: []string{fmt.Sprintf("output is not valid JSON: %s", jsonErr)}}, nil
	}

	c, ok := defaultContracts.Lookup(contract.Ref)
	if !ok {
		// Unregistered contracts are caught at compile time (C5 phase 4);
		// reaching here at runtime means a contract with no known schema.
		return "", &Outcome{Valid: true, Warnings: []string{fmt.Sprintf("no schema registered for contract %q; skipping structural validation", contract.Ref)}}, nil
	}

	if err := schemaValidate(c.Schema, data, "$"); err != nil {
		return "", &Outcome{Valid: false, Issues: []string{err.Error()}}, nil
	}

	if c.DecisionField == "" {
		return "", &Outcome{Valid: true}, nil
	}
	obj, _ := data.(map[string]interface{})
	decision, _ = obj[c.DecisionField].(string)
	return decision, &Outcome{Valid: true}, nil
}
