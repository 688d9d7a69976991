package validation_test

import (
	"context"
	"testing"

	"github.com/EtienneBBeaulac/workrail/internal/validation"
	"github.com/EtienneBBeaulac/workrail/internal/varpath"
	"github.com/EtienneBBeaulac/workrail/pkg/workflow"
	"github.com/stretchr/testify/require"
)

func newEngine() *validation.Engine {
	return validation.New(varpath.New())
}

func TestParseAndEvaluateSingleContainsRule(t *testing.T) {
	criteria, err := validation.ParseCriteria([]byte(`{"contains": "done"}`))
	require.NoError(t, err)
	require.NotNil(t, criteria)

	out, err := newEngine().Evaluate(context.Background(), criteria, "task is done", nil)
	require.NoError(t, err)
	require.True(t, out.Valid)

	out, err = newEngine().Evaluate(context.Background(), criteria, "not finished", nil)
	require.NoError(t, err)
	require.False(t, out.Valid)
	require.NotEmpty(t, out.Issues)
}

func TestParseLegacyListOfRulesIsAND(t *testing.T) {
	criteria, err := validation.ParseCriteria([]byte(`[{"contains":"a"},{"contains":"b"}]`))
	require.NoError(t, err)

	out, err := newEngine().Evaluate(context.Background(), criteria, "a and b", nil)
	require.NoError(t, err)
	require.True(t, out.Valid)

	out, err = newEngine().Evaluate(context.Background(), criteria, "only a", nil)
	require.NoError(t, err)
	require.False(t, out.Valid)
}

func TestParseCompositionOrNot(t *testing.T) {
	criteria, err := validation.ParseCriteria([]byte(`{"or": [{"contains":"x"}, {"contains":"y"}]}`))
	require.NoError(t, err)
	out, err := newEngine().Evaluate(context.Background(), criteria, "contains y here", nil)
	require.NoError(t, err)
	require.True(t, out.Valid)

	notCriteria, err := validation.ParseCriteria([]byte(`{"not": {"contains":"forbidden"}}`))
	require.NoError(t, err)
	out, err = newEngine().Evaluate(context.Background(), notCriteria, "clean output", nil)
	require.NoError(t, err)
	require.True(t, out.Valid)
}

func TestRegexRuleRejectsInvalidPattern(t *testing.T) {
	criteria, err := validation.ParseCriteria([]byte(`{"regex": "("}`))
	require.NoError(t, err)
	_, err = newEngine().Evaluate(context.Background(), criteria, "x", nil)
	require.Error(t, err)
}

func TestLengthRule(t *testing.T) {
	criteria, err := validation.ParseCriteria([]byte(`{"minLength": 5, "maxLength": 10}`))
	require.NoError(t, err)
	out, err := newEngine().Evaluate(context.Background(), criteria, "short", nil)
	require.NoError(t, err)
	require.True(t, out.Valid)

	out, err = newEngine().Evaluate(context.Background(), criteria, "a", nil)
	require.NoError(t, err)
	require.False(t, out.Valid)
}

func TestSchemaRuleValidatesJSONOutput(t *testing.T) {
	criteria, err := validation.ParseCriteria([]byte(`{"schema": {"type":"object","required":["name"]}}`))
	require.NoError(t, err)
	out, err := newEngine().Evaluate(context.Background(), criteria, `{"name":"x"}`, nil)
	require.NoError(t, err)
	require.True(t, out.Valid)

	out, err = newEngine().Evaluate(context.Background(), criteria, `{}`, nil)
	require.NoError(t, err)
	require.False(t, out.Valid)
}

func TestRuleConditionGatesEvaluation(t *testing.T) {
	criteria, err := validation.ParseCriteria([]byte(`{"contains": "x", "condition": {"var": "strict", "equals": true}}`))
	require.NoError(t, err)
	out, err := newEngine().Evaluate(context.Background(), criteria, "no match here", map[string]interface{}{"strict": false})
	require.NoError(t, err)
	require.True(t, out.Valid, "rule should be skipped when its condition is not met")
}

func TestQuotedJSONHeuristicAddsSuggestion(t *testing.T) {
	criteria, err := validation.ParseCriteria([]byte(`{"contains": "ok"}`))
	require.NoError(t, err)
	out, err := newEngine().Evaluate(context.Background(), criteria, `the result was "{"ok": true}"`, nil)
	require.NoError(t, err)
	require.NotEmpty(t, out.Suggestions)
}

func TestValidateArtifactContractLoopControl(t *testing.T) {
	decision, out, err := validation.ValidateArtifactContract(&workflow.OutputContract{Ref: workflow.LoopControlContractRef}, `{"decision":"stop"}`)
	require.NoError(t, err)
	require.True(t, out.Valid)
	require.Equal(t, "stop", decision)
}

func TestValidateArtifactContractRejectsBadDecision(t *testing.T) {
	_, out, err := validation.ValidateArtifactContract(&workflow.OutputContract{Ref: workflow.LoopControlContractRef}, `{"decision":"maybe"}`)
	require.NoError(t, err)
	require.False(t, out.Valid)
}
