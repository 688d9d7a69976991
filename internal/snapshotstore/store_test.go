package snapshotstore_test

import (
	"context"
	"testing"

	"github.com/EtienneBBeaulac/workrail/internal/snapshotstore"
	"github.com/stretchr/testify/require"
)

func TestPutThenGetRoundTrips(t *testing.T) {
	store := snapshotstore.New(t.TempDir())
	digest, err := store.Put(context.Background(), map[string]interface{}{"stepId": "s1", "kind": "running"})
	require.NoError(t, err)
	require.NotEmpty(t, digest)

	var out map[string]interface{}
	found, err := store.GetInto(context.Background(), digest, &out)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "s1", out["stepId"])
}

func TestPutIsContentAddressedAndIdempotent(t *testing.T) {
	store := snapshotstore.New(t.TempDir())
	d1, err := store.Put(context.Background(), map[string]interface{}{"a": 1})
	require.NoError(t, err)
	d2, err := store.Put(context.Background(), map[string]interface{}{"a": 1})
	require.NoError(t, err)
	require.Equal(t, d1, d2)

	d3, err := store.Put(context.Background(), map[string]interface{}{"a": 2})
	require.NoError(t, err)
	require.NotEqual(t, d1, d3)
}

func TestGetMissingDigestIsNotAnError(t *testing.T) {
	store := snapshotstore.New(t.TempDir())
	_, found, err := store.Get(context.Background(), "sha256:"+"00000000000000000000000000000000000000000000000000000000000000")
	require.NoError(t, err)
	require.False(t, found)
}

func TestGetRejectsMalformedDigest(t *testing.T) {
	store := snapshotstore.New(t.TempDir())
	_, _, err := store.Get(context.Background(), "not-hex-zz")
	require.Error(t, err)
}

func TestListDigestsReturnsEveryStoredBlob(t *testing.T) {
	store := snapshotstore.New(t.TempDir())
	d1, err := store.Put(context.Background(), map[string]interface{}{"a": 1})
	require.NoError(t, err)
	d2, err := store.Put(context.Background(), map[string]interface{}{"a": 2})
	require.NoError(t, err)

	digests, err := store.ListDigests()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{d1, d2}, digests)
}

func TestListDigestsOnEmptyStoreIsEmpty(t *testing.T) {
	store := snapshotstore.New(t.TempDir())
	digests, err := store.ListDigests()
	require.NoError(t, err)
	require.Empty(t, digests)
}
