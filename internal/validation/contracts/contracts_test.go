package contracts_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/EtienneBBeaulac/workrail/internal/validation/contracts"
	"github.com/EtienneBBeaulac/workrail/pkg/workflow"
)

func TestDefaultRegistryKnowsLoopControl(t *testing.T) {
	r := contracts.Default()

	c, ok := r.Lookup(workflow.LoopControlContractRef)
	require.True(t, ok)
	require.Equal(t, "decision", c.DecisionField)
	require.NotNil(t, c.Schema)
}

func TestRegistryLookupMissingRef(t *testing.T) {
	r := contracts.NewRegistry()

	_, ok := r.Lookup("wr.contracts.unknown")
	require.False(t, ok)
}

func TestRegistryRegisterAddsNewContract(t *testing.T) {
	r := contracts.NewRegistry()
	r.Register("wr.contracts.custom", contracts.Contract{
		Schema: contracts.Schema{"type": "object"},
	})

	c, ok := r.Lookup("wr.contracts.custom")
	require.True(t, ok)
	require.Equal(t, "object", c.Schema["type"])
}

func TestMustHaveSchemaPanicsWhenMissing(t *testing.T) {
	r := contracts.NewRegistry()

	require.Panics(t, func() {
		contracts.MustHaveSchema(r, "wr.contracts.missing")
	})
}
