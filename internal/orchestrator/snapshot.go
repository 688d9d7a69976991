package orchestrator

import (
	"context"

	"github.com/EtienneBBeaulac/workrail/internal/interpreter"
	"github.com/EtienneBBeaulac/workrail/internal/snapshotstore"
	wrerrors "github.com/EtienneBBeaulac/workrail/pkg/errors"
)

// engineSnapshot is the immutable engine-state blob a node's snapshotRef
// names (spec.md §4.3, §3's "node ... pointer to an execution snapshot").
type engineSnapshot struct {
	State     interpreter.State    `json:"state"`
	Context   map[string]interface{} `json:"context"`
	Artifacts []interpreter.Artifact `json:"artifacts"`
}

func putSnapshot(ctx context.Context, store *snapshotstore.Store, snap engineSnapshot) (string, error) {
	return store.Put(ctx, snap)
}

func getSnapshot(ctx context.Context, store *snapshotstore.Store, ref string) (engineSnapshot, error) {
	var snap engineSnapshot
	found, err := store.GetInto(ctx, ref, &snap)
	if err != nil {
		return engineSnapshot{}, err
	}
	if !found {
		return engineSnapshot{}, &wrerrors.PreconditionError{Reason: "pinned workflow snapshot missing", Details: ref}
	}
	return snap, nil
}
