package interpreter

import (
	"context"

	"github.com/EtienneBBeaulac/workrail/internal/predicate"
	"github.com/EtienneBBeaulac/workrail/internal/varpath"
	"github.com/EtienneBBeaulac/workrail/pkg/workflow"
)

// evalPredicate evaluates the typed predicate language against data; see
// internal/predicate for the shared implementation (also used by the
// validation engine's criteria condition gates).
func evalPredicate(ctx context.Context, p *workflow.Predicate, data interface{}, resolver *varpath.Resolver) (bool, error) {
	return predicate.Eval(ctx, p, data, resolver)
}
