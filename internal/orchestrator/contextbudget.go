package orchestrator

import (
	"fmt"

	"github.com/EtienneBBeaulac/workrail/pkg/canon"
	wrerrors "github.com/EtienneBBeaulac/workrail/pkg/errors"
)

const (
	maxContextDepth     = 64
	maxContextByteLength = 256 * 1024
)

// validateContextBudget enforces spec.md §4.8's context budget: plain
// JSON (canon.Marshal already rejects non-finite numbers and anything
// that isn't a JSON-shaped value), depth <= 64, canonical UTF-8 byte
// length <= 256 KiB. A value decoded from JSON can never contain a cycle,
// so that invariant is structural rather than checked here.
func validateContextBudget(context map[string]interface{}) error {
	if depth := valueDepth(context, 0); depth > maxContextDepth {
		return &wrerrors.ValidationError{
			Field:      "context",
			Message:    fmt.Sprintf("context depth %d exceeds maximum %d", depth, maxContextDepth),
			Suggestion: "flatten the context payload",
		}
	}

	canonical, err := canon.Marshal(context)
	if err != nil {
		return &wrerrors.ValidationError{Field: "context", Message: err.Error()}
	}
	if len(canonical) > maxContextByteLength {
		return &wrerrors.ValidationError{
			Field:      "context",
			Message:    fmt.Sprintf("context canonical byte length %d exceeds maximum %d", len(canonical), maxContextByteLength),
			Suggestion: "reduce the size of the context payload",
		}
	}
	return nil
}

func valueDepth(v interface{}, current int) int {
	switch val := v.(type) {
	case map[string]interface{}:
		max := current
		for _, child := range val {
			if d := valueDepth(child, current+1); d > max {
				max = d
			}
		}
		return max
	case []interface{}:
		max := current
		for _, child := range val {
			if d := valueDepth(child, current+1); d > max {
				max = d
			}
		}
		return max
	default:
		return current
	}
}
