package workflow

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ParseDefinition parses a workflow definition from YAML bytes, grounded
// on the teacher's pkg/workflow.ParseDefinition. Semantic validation
// (step references, loop shapes) happens during Compile; this only
// decodes the author-facing shape.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse workflow definition: %w", err)
	}
	if def.ID == "" {
		return nil, fmt.Errorf("workflow definition missing required field: id")
	}
	return &def, nil
}
