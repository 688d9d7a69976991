package canon_test

import (
	"math"
	"testing"

	"github.com/EtienneBBeaulac/workrail/pkg/canon"
	"github.com/stretchr/testify/require"
)

func TestMarshalSortsKeys(t *testing.T) {
	out, err := canon.Marshal(map[string]interface{}{"b": 1, "a": 2, "c": 3})
	require.NoError(t, err)
	require.Equal(t, `{"a":2,"b":1,"c":3}`, string(out))
}

func TestMarshalPreservesArrayOrder(t *testing.T) {
	out, err := canon.Marshal([]interface{}{3, 1, 2})
	require.NoError(t, err)
	require.Equal(t, `[3,1,2]`, string(out))
}

func TestMarshalRejectsNonFiniteNumbers(t *testing.T) {
	_, err := canon.Marshal(map[string]interface{}{"x": math.NaN()})
	require.Error(t, err)
	var nfe *canon.ErrNonFiniteNumber
	require.ErrorAs(t, err, &nfe)
}

func TestMarshalRoundTripIsStable(t *testing.T) {
	v := map[string]interface{}{
		"workflowId": "wf-1",
		"steps":      []interface{}{"a", "b"},
		"nested":     map[string]interface{}{"z": 1, "a": 2},
	}
	first, err := canon.Marshal(v)
	require.NoError(t, err)

	var roundTripped interface{}
	require.NoError(t, canon.Unmarshal(first, &roundTripped))
	second, err := canon.Marshal(roundTripped)
	require.NoError(t, err)

	require.Equal(t, string(first), string(second))
}

func TestHashIsDeterministic(t *testing.T) {
	v := map[string]interface{}{"a": 1, "b": []interface{}{1, 2, 3}}
	h1, err := canon.Hash(v)
	require.NoError(t, err)
	h2, err := canon.Hash(v)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
	require.Contains(t, h1, canon.DigestPrefix)
}

func TestHashDiffersOnContentChange(t *testing.T) {
	h1, err := canon.Hash(map[string]interface{}{"a": 1})
	require.NoError(t, err)
	h2, err := canon.Hash(map[string]interface{}{"a": 2})
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)
}
