package sessionlog_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/EtienneBBeaulac/workrail/internal/sessionlog"
	wrerrors "github.com/EtienneBBeaulac/workrail/pkg/errors"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *sessionlog.Store {
	t.Helper()
	_, store := newStoreWithDir(t)
	return store
}

func newStoreWithDir(t *testing.T) (string, *sessionlog.Store) {
	t.Helper()
	dir := t.TempDir()
	return dir, sessionlog.New(dir)
}

func ev(idx int, kind, dedupe string) sessionlog.Event {
	return sessionlog.Event{EventIndex: idx, Kind: kind, DedupeKey: dedupe, Payload: json.RawMessage(`{}`)}
}

func TestAppendThenLoadYieldsContiguousEvents(t *testing.T) {
	store := newStore(t)
	w, _, release, err := store.Begin("s1")
	require.NoError(t, err)
	defer release()

	log, err := store.Append(w, "s1", sessionlog.AppendPlan{
		Events: []sessionlog.Event{ev(0, "step_completed", "d0"), ev(1, "step_completed", "d1")},
	})
	require.NoError(t, err)
	require.Len(t, log.Events, 2)
	require.Equal(t, 0, log.Events[0].EventIndex)
	require.Equal(t, 1, log.Events[1].EventIndex)
	require.Equal(t, 2, log.NextEventIndex)
}

func TestSnapshotPinAppearsAfterEnclosingSegmentClosed(t *testing.T) {
	store := newStore(t)
	w, _, release, err := store.Begin("s1")
	require.NoError(t, err)
	defer release()

	log, err := store.Append(w, "s1", sessionlog.AppendPlan{
		Events:       []sessionlog.Event{ev(0, "advance_recorded", "d0")},
		SnapshotPins: []sessionlog.SnapshotPin{{SnapshotRef: "sha256:abc", EventIndex: 0, CreatedByEventID: "d0"}},
	})
	require.NoError(t, err)
	require.True(t, log.PinnedSnapshots["sha256:abc"])
}

func TestReplayWithAllKnownDedupeKeysIsNoop(t *testing.T) {
	store := newStore(t)
	w, _, release, err := store.Begin("s1")
	require.NoError(t, err)
	defer release()

	plan := sessionlog.AppendPlan{Events: []sessionlog.Event{ev(0, "step_completed", "d0")}}
	log1, err := store.Append(w, "s1", plan)
	require.NoError(t, err)

	log2, err := store.Append(w, "s1", plan)
	require.NoError(t, err)
	require.Equal(t, log1.NextEventIndex, log2.NextEventIndex)
	require.Len(t, log2.Events, 1)
}

func TestAppendPlanConflictingWithRecordedEventsIsRejected(t *testing.T) {
	store := newStore(t)
	w, _, release, err := store.Begin("s1")
	require.NoError(t, err)
	defer release()

	_, err = store.Append(w, "s1", sessionlog.AppendPlan{Events: []sessionlog.Event{ev(0, "step_completed", "d0")}})
	require.NoError(t, err)

	_, err = store.Append(w, "s1", sessionlog.AppendPlan{Events: []sessionlog.Event{ev(5, "step_completed", "d5")}})
	require.Error(t, err)
	var sh *wrerrors.SessionHealthError
	require.ErrorAs(t, err, &sh)
	require.Equal(t, wrerrors.SessionInvariantViolation, sh.Code)
}

func TestBeginFailsFastWhenLockAlreadyHeld(t *testing.T) {
	store := newStore(t)
	_, _, release, err := store.Begin("s1")
	require.NoError(t, err)
	defer release()

	_, _, _, err = store.Begin("s1")
	require.Error(t, err)
	var sh *wrerrors.SessionHealthError
	require.ErrorAs(t, err, &sh)
	require.Equal(t, wrerrors.SessionLockBusy, sh.Code)
	require.True(t, sh.Retryable)
}

func TestWitnessUsedAfterReleaseFailsFast(t *testing.T) {
	store := newStore(t)
	w, _, release, err := store.Begin("s1")
	require.NoError(t, err)
	require.NoError(t, release())

	_, err = store.Append(w, "s1", sessionlog.AppendPlan{Events: []sessionlog.Event{ev(0, "step_completed", "d0")}})
	require.Error(t, err)
	var sh *wrerrors.SessionHealthError
	require.ErrorAs(t, err, &sh)
	require.Equal(t, wrerrors.SessionLockReentrant, sh.Code)
}

func TestLoadOfNonexistentSessionIsEmptyHealthy(t *testing.T) {
	store := newStore(t)
	log, err := store.Load("never-existed")
	require.NoError(t, err)
	require.Empty(t, log.Events)
	require.Equal(t, 0, log.NextEventIndex)
}

func TestLoadDetectsMissingAttestedSegment(t *testing.T) {
	dataDir, store := newStoreWithDir(t)
	w, _, release, err := store.Begin("s1")
	require.NoError(t, err)
	_, err = store.Append(w, "s1", sessionlog.AppendPlan{Events: []sessionlog.Event{ev(0, "step_completed", "d0")}})
	require.NoError(t, err)
	require.NoError(t, release())

	segPath := filepath.Join(dataDir, "sessions", "s1", "events", "0-0.jsonl")
	require.NoError(t, os.Remove(segPath))

	_, err = store.Load("s1")
	require.Error(t, err)
	var sh *wrerrors.SessionHealthError
	require.ErrorAs(t, err, &sh)
	require.Equal(t, wrerrors.SessionCorruptionDetected, sh.Code)
	require.Equal(t, "missing_attested_segment", sh.Reason)
}
