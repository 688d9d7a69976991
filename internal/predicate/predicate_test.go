package predicate_test

import (
	"context"
	"testing"

	"github.com/EtienneBBeaulac/workrail/internal/predicate"
	"github.com/EtienneBBeaulac/workrail/internal/varpath"
	"github.com/EtienneBBeaulac/workrail/pkg/workflow"
	"github.com/stretchr/testify/require"
)

func TestEvalEqualsWithLenientCoercion(t *testing.T) {
	r := varpath.New()
	data := map[string]interface{}{"status": "YES"}
	ok, err := predicate.Eval(context.Background(), &workflow.Predicate{Var: "status", Equals: true}, data, r)
	require.NoError(t, err)
	require.True(t, ok, "string \"YES\" should coerce to boolean true")
}

func TestEvalMissingVarIsFalsyForEquals(t *testing.T) {
	r := varpath.New()
	ok, err := predicate.Eval(context.Background(), &workflow.Predicate{Var: "missing", Equals: "x"}, map[string]interface{}{}, r)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEvalMissingVarFailsClosedForComparisons(t *testing.T) {
	r := varpath.New()
	_, err := predicate.Eval(context.Background(), &workflow.Predicate{Var: "missing", Lt: 5}, map[string]interface{}{}, r)
	require.Error(t, err)
}

func TestEvalAndOrNot(t *testing.T) {
	r := varpath.New()
	data := map[string]interface{}{"a": 1, "b": 2}
	p := &workflow.Predicate{And: []*workflow.Predicate{
		{Var: "a", Equals: float64(1)},
		{Not: &workflow.Predicate{Var: "b", Equals: float64(1)}},
	}}
	ok, err := predicate.Eval(context.Background(), p, data, r)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEvalEqualsCoercesNumericToBoolean(t *testing.T) {
	r := varpath.New()

	ok, err := predicate.Eval(context.Background(), &workflow.Predicate{Var: "flag", Equals: true}, map[string]interface{}{"flag": 1}, r)
	require.NoError(t, err)
	require.True(t, ok, "nonzero numeric should coerce to boolean true")

	ok, err = predicate.Eval(context.Background(), &workflow.Predicate{Var: "flag", Equals: false}, map[string]interface{}{"flag": 0}, r)
	require.NoError(t, err)
	require.True(t, ok, "zero should coerce to boolean false")

	ok, err = predicate.Eval(context.Background(), &workflow.Predicate{Var: "flag", Equals: true}, map[string]interface{}{"flag": 0}, r)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEvalEqualsStillComparesNumericsNumerically(t *testing.T) {
	r := varpath.New()

	ok, err := predicate.Eval(context.Background(), &workflow.Predicate{Var: "count", Equals: float64(1)}, map[string]interface{}{"count": 2}, r)
	require.NoError(t, err)
	require.False(t, ok, "2 should not equal 1 even though both are non-zero/truthy")
}

func TestEvalNilPredicateIsVacuouslyTrue(t *testing.T) {
	r := varpath.New()
	ok, err := predicate.Eval(context.Background(), nil, map[string]interface{}{}, r)
	require.NoError(t, err)
	require.True(t, ok)
}
