// Package snapshotstore implements the content-addressed snapshot store
// (C3, spec.md §4.3): immutable blobs — execution snapshots and pinned
// compiled-workflow snapshots — keyed by sha256(canonical(body)).
package snapshotstore

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/EtienneBBeaulac/workrail/pkg/canon"
	wrerrors "github.com/EtienneBBeaulac/workrail/pkg/errors"
)

// Store is a filesystem-backed content-addressed blob store rooted at
// <dataDir>/snapshots/<digest>. Both kinds of snapshot spec.md §4.3 names
// (execution state, pinned compiled workflows) share this store; nothing
// about the wire layout distinguishes them — the caller's own ref
// bookkeeping (e.g. the session manifest's snapshot_pinned records) is
// what ties a digest to its role.
type Store struct {
	dataDir string
}

// New returns a Store rooted at dataDir.
func New(dataDir string) *Store {
	return &Store{dataDir: dataDir}
}

func (s *Store) path(digest string) (string, error) {
	hexPart := strings.TrimPrefix(digest, canon.DigestPrefix)
	if len(hexPart) < 4 {
		return "", &wrerrors.ValidationError{Field: "digest", Message: "digest too short to be a valid sha256 ref"}
	}
	if _, err := hex.DecodeString(hexPart); err != nil {
		return "", &wrerrors.ValidationError{Field: "digest", Message: "digest is not valid hex"}
	}
	// Two-level fan-out keeps any single directory from accumulating
	// every snapshot a long-lived session ever produces.
	return filepath.Join(s.dataDir, "snapshots", hexPart[:2], hexPart[2:]+".json"), nil
}

// Put canonicalizes body, computes its digest, and writes it if absent.
// Writing is atomic (write-temp + rename) and idempotent: writing the
// same body twice is a no-op on the second call, since content-addressing
// already guarantees the bytes on disk match what's being written.
func (s *Store) Put(ctx context.Context, body interface{}) (digest string, err error) {
	canonical, err := canon.Marshal(body)
	if err != nil {
		return "", err
	}
	digest = canon.HashBytes(canonical)

	finalPath, err := s.path(digest)
	if err != nil {
		return "", err
	}
	if _, statErr := os.Stat(finalPath); statErr == nil {
		return digest, nil
	}

	if err := os.MkdirAll(filepath.Dir(finalPath), 0700); err != nil {
		return "", &wrerrors.InternalError{Message: "creating snapshot directory", Cause: err}
	}

	tmpPath := finalPath + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return "", &wrerrors.InternalError{Message: "creating snapshot temp file", Cause: err}
	}
	if _, err := tmp.Write(canonical); err != nil {
		tmp.Close()
		return "", &wrerrors.InternalError{Message: "writing snapshot body", Cause: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", &wrerrors.InternalError{Message: "fsyncing snapshot body", Cause: err}
	}
	if err := tmp.Close(); err != nil {
		return "", &wrerrors.InternalError{Message: "closing snapshot temp file", Cause: err}
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", &wrerrors.InternalError{Message: "renaming snapshot into place", Cause: err}
	}
	return digest, nil
}

// Get reads the raw canonical bytes stored under digest. A missing blob
// is not an error at this layer — found is false — matching spec.md
// §4.3's "reads return option" rule; callers upstream (the orchestrator)
// decide whether absence is a precondition failure.
func (s *Store) Get(ctx context.Context, digest string) (body []byte, found bool, err error) {
	p, err := s.path(digest)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &wrerrors.InternalError{Message: "reading snapshot body", Cause: err}
	}
	return data, true, nil
}

// GetInto reads digest and unmarshals it into out with plain
// encoding/json, since canonical JSON is valid JSON. Returns found=false,
// no error, if the digest is absent.
func (s *Store) GetInto(ctx context.Context, digest string, out interface{}) (found bool, err error) {
	data, found, err := s.Get(ctx, digest)
	if err != nil || !found {
		return found, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return true, &wrerrors.InternalError{Message: "decoding snapshot body", Cause: err}
	}
	return true, nil
}

// ListDigests returns the content-addressed ref of every blob on disk,
// for workrail doctor's orphan-reporting sweep (SPEC_FULL.md's
// snapshot garbage-reporting feature). It never deletes anything; the
// store has no notion of which refs are still pinned by a session, only
// the caller (doctor, cross-referencing every session manifest) does.
func (s *Store) ListDigests() ([]string, error) {
	matches, err := doublestar.FilepathGlob(filepath.Join(s.dataDir, "snapshots", "*", "*.json"))
	if err != nil {
		return nil, &wrerrors.InternalError{Message: "listing snapshot blobs", Cause: err}
	}

	digests := make([]string, 0, len(matches))
	for _, m := range matches {
		fanout := filepath.Base(filepath.Dir(m))
		hexPart := fanout + strings.TrimSuffix(filepath.Base(m), ".json")
		digests = append(digests, canon.DigestPrefix+hexPart)
	}
	return digests, nil
}
