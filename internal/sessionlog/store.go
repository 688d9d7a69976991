package sessionlog

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"

	wrerrors "github.com/EtienneBBeaulac/workrail/pkg/errors"
)

// sessionsGlob locates every session's manifest, the same pattern C9's
// resume package uses to discover resumable sessions.
const sessionsGlob = "sessions/*/manifest.jsonl"

// ListSessionIDs returns every session id with at least one manifest
// record under dataDir, for workrail doctor's health sweep.
func (s *Store) ListSessionIDs() ([]string, error) {
	matches, err := doublestar.FilepathGlob(filepath.Join(s.dataDir, sessionsGlob))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		id := filepath.Base(filepath.Dir(m))
		if id == "" || id == "." {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Store is the filesystem-backed durable session event log. One Store
// serves every session under a data directory; per-session isolation
// comes entirely from path layout and the per-session lock file
// (spec.md §4.2).
type Store struct {
	dataDir string
}

// New returns a Store rooted at dataDir (typically $WORKRAIL_DATA_DIR).
func New(dataDir string) *Store {
	return &Store{dataDir: dataDir}
}

func (s *Store) sessionDir(sessionID string) string {
	return filepath.Join(s.dataDir, "sessions", sessionID)
}

func (s *Store) lockPath(sessionID string) string {
	return filepath.Join(s.sessionDir(sessionID), "lock")
}

func (s *Store) eventsDir(sessionID string) string {
	return filepath.Join(s.sessionDir(sessionID), "events")
}

func (s *Store) manifestPath(sessionID string) string {
	return filepath.Join(s.sessionDir(sessionID), "manifest.jsonl")
}

// Begin acquires the single-writer session lock, loads the session, and —
// if it loads healthy — mints a Witness scoping the caller's subsequent
// Append calls. The returned release func must be called exactly once,
// regardless of outcome, to drop the flock and invalidate the witness.
func (s *Store) Begin(sessionID string) (*Witness, *Log, func() error, error) {
	lock, err := acquireLock(s.lockPath(sessionID))
	if err != nil {
		return nil, nil, func() error { return nil }, err
	}

	log, err := s.Load(sessionID)
	if err != nil {
		lock.release()
		return nil, nil, func() error { return nil }, err
	}

	released := false
	witness := &Witness{sessionID: sessionID, released: &released}
	release := func() error {
		if released {
			return nil
		}
		released = true
		return lock.release()
	}
	return witness, log, release, nil
}

// Load replays the session's manifest and segments into a verified Log.
// This is a read-only operation and does not take the session lock
// (spec.md §5). A session directory that does not exist yet loads as an
// empty, healthy log at eventIndex 0.
func (s *Store) Load(sessionID string) (*Log, error) {
	manifestPath := s.manifestPath(sessionID)
	f, err := os.Open(manifestPath)
	if os.IsNotExist(err) {
		return &Log{PinnedSnapshots: map[string]bool{}}, nil
	}
	if err != nil {
		return nil, &wrerrors.SessionHealthError{Code: wrerrors.SessionIOError, Reason: err.Error()}
	}
	defer f.Close()

	var records []manifestRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec manifestRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			loc := wrerrors.CorruptionAtHead
			if lineNo > 1 {
				loc = wrerrors.CorruptionAtTail
			}
			return nil, &wrerrors.SessionHealthError{Code: wrerrors.SessionCorruptionDetected, Location: loc, Reason: "schema_validation_failed"}
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, &wrerrors.SessionHealthError{Code: wrerrors.SessionIOError, Reason: err.Error()}
	}

	events := make([]Event, 0)
	pinned := map[string]bool{}
	introducedBy := map[string]string{} // snapshotRef -> eventId, from events seen so far
	segmentClosedSeen := map[string]bool{}

	for i, rec := range records {
		switch rec.Kind {
		case recordSegmentClosed:
			segBytes, err := os.ReadFile(rec.SegmentPath)
			if os.IsNotExist(err) {
				return nil, &wrerrors.SessionHealthError{Code: wrerrors.SessionCorruptionDetected, Location: wrerrors.CorruptionAtTail, Reason: "missing_attested_segment"}
			}
			if err != nil {
				return nil, &wrerrors.SessionHealthError{Code: wrerrors.SessionIOError, Reason: err.Error()}
			}
			sum := sha256.Sum256(segBytes)
			if hex.EncodeToString(sum[:]) != rec.SHA256 || int64(len(segBytes)) != rec.ByteLength {
				return nil, &wrerrors.SessionHealthError{Code: wrerrors.SessionCorruptionDetected, Location: wrerrors.CorruptionAtTail, Reason: "segment_hash_mismatch"}
			}

			segEvents, err := parseSegment(segBytes)
			if err != nil {
				return nil, &wrerrors.SessionHealthError{Code: wrerrors.SessionCorruptionDetected, Location: wrerrors.CorruptionAtTail, Reason: "schema_validation_failed"}
			}
			expectedNext := 0
			if len(events) > 0 {
				expectedNext = events[len(events)-1].EventIndex + 1
			}
			for _, ev := range segEvents {
				if ev.EventIndex != expectedNext {
					return nil, &wrerrors.SessionHealthError{Code: wrerrors.SessionCorruptionDetected, Location: wrerrors.CorruptionAtTail, Reason: "non_contiguous_event_index"}
				}
				expectedNext++
			}
			events = append(events, segEvents...)
			segmentClosedSeen[rec.SegmentPath] = true

		case recordSnapshotPinned:
			// Must appear after the segment_closed for the segment that
			// introduced the event named by CreatedByEventID. Since
			// segment_closed records are always written in order before
			// any of their snapshot_pinned records, it is sufficient to
			// require at least one segment_closed has been seen by now.
			if len(segmentClosedSeen) == 0 {
				return nil, &wrerrors.SessionHealthError{Code: wrerrors.SessionCorruptionDetected, Location: wrerrors.CorruptionAtTail, Reason: "pin_before_segment_closed"}
			}
			pinned[rec.SnapshotRef] = true
			introducedBy[rec.SnapshotRef] = rec.CreatedByEventID

		default:
			loc := wrerrors.CorruptionAtHead
			if i > 0 {
				loc = wrerrors.CorruptionAtTail
			}
			return nil, &wrerrors.SessionHealthError{Code: wrerrors.SessionCorruptionDetected, Location: loc, Reason: "unknown_schema_version"}
		}
	}

	nextIdx := 0
	if len(events) > 0 {
		nextIdx = events[len(events)-1].EventIndex + 1
	}
	return &Log{Events: events, PinnedSnapshots: pinned, NextEventIndex: nextIdx}, nil
}

func parseSegment(segBytes []byte) ([]Event, error) {
	var events []Event
	scanner := bufio.NewScanner(bytes.NewReader(segBytes))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// planOutcome classifies an AppendPlan against the already-loaded log, per
// spec.md §4.2's append-plan invariants.
type planOutcome int

const (
	planFresh planOutcome = iota
	planReplayNoop
	planConflict
)

func classifyPlan(log *Log, plan AppendPlan) planOutcome {
	if len(plan.Events) == 0 {
		return planFresh
	}
	known := log.dedupeSet()
	allKnown := true
	anyKnown := false
	for _, e := range plan.Events {
		if known[e.DedupeKey] {
			anyKnown = true
		} else {
			allKnown = false
		}
	}
	if allKnown {
		return planReplayNoop
	}
	if anyKnown {
		return planConflict
	}
	if plan.Events[0].EventIndex != log.NextEventIndex {
		return planConflict
	}
	for i := 1; i < len(plan.Events); i++ {
		if plan.Events[i].EventIndex != plan.Events[i-1].EventIndex+1 {
			return planConflict
		}
	}
	return planFresh
}

// Append executes the pin-after-close write protocol: segment write+fsync,
// atomic rename, segment_closed manifest append, then snapshot_pinned
// manifest appends — only after segment_closed is durable. Requires a live
// Witness scoped to sessionID (spec.md §4.2 Write protocol, §4.2 Witness
// discipline).
func (s *Store) Append(w *Witness, sessionID string, plan AppendPlan) (*Log, error) {
	if err := w.checkLive(); err != nil {
		return nil, err
	}
	if w.sessionID != sessionID {
		return nil, &wrerrors.SessionHealthError{Code: wrerrors.SessionInvariantViolation, Reason: "witness scoped to a different session"}
	}

	log, err := s.Load(sessionID)
	if err != nil {
		return nil, err
	}

	switch classifyPlan(log, plan) {
	case planReplayNoop:
		return log, nil
	case planConflict:
		return nil, &wrerrors.SessionHealthError{Code: wrerrors.SessionInvariantViolation, Reason: "append plan conflicts with recorded events"}
	}

	if len(plan.Events) > 0 {
		if err := s.writeSegment(sessionID, plan.Events); err != nil {
			return nil, err
		}
	}
	for _, pin := range plan.SnapshotPins {
		if err := s.appendManifestRecord(sessionID, manifestRecord{
			Kind:             recordSnapshotPinned,
			SnapshotRef:      pin.SnapshotRef,
			EventIndex:       pin.EventIndex,
			CreatedByEventID: pin.CreatedByEventID,
		}); err != nil {
			return nil, err
		}
	}

	return s.Load(sessionID)
}

func (s *Store) writeSegment(sessionID string, events []Event) error {
	dir := s.eventsDir(sessionID)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return &wrerrors.SessionHealthError{Code: wrerrors.SessionIOError, Reason: err.Error()}
	}

	first := events[0].EventIndex
	last := events[len(events)-1].EventIndex
	finalName := fmt.Sprintf("%d-%d.jsonl", first, last)
	finalPath := filepath.Join(dir, finalName)
	tmpPath := finalPath + ".tmp"

	var buf []byte
	for _, ev := range events {
		line, err := json.Marshal(ev)
		if err != nil {
			return &wrerrors.SessionHealthError{Code: wrerrors.SessionInvariantViolation, Reason: err.Error()}
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}

	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return &wrerrors.SessionHealthError{Code: wrerrors.SessionIOError, Reason: err.Error()}
	}
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		return &wrerrors.SessionHealthError{Code: wrerrors.SessionIOError, Reason: err.Error()}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &wrerrors.SessionHealthError{Code: wrerrors.SessionIOError, Reason: err.Error()}
	}
	if err := tmp.Close(); err != nil {
		return &wrerrors.SessionHealthError{Code: wrerrors.SessionIOError, Reason: err.Error()}
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return &wrerrors.SessionHealthError{Code: wrerrors.SessionIOError, Reason: err.Error()}
	}
	if dirF, err := os.Open(dir); err == nil {
		dirF.Sync()
		dirF.Close()
	}

	sum := sha256.Sum256(buf)
	return s.appendManifestRecord(sessionID, manifestRecord{
		Kind:        recordSegmentClosed,
		SegmentPath: finalPath,
		FirstIndex:  first,
		LastIndex:   last,
		ByteLength:  int64(len(buf)),
		SHA256:      hex.EncodeToString(sum[:]),
	})
}

func (s *Store) appendManifestRecord(sessionID string, rec manifestRecord) error {
	path := s.manifestPath(sessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return &wrerrors.SessionHealthError{Code: wrerrors.SessionIOError, Reason: err.Error()}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return &wrerrors.SessionHealthError{Code: wrerrors.SessionIOError, Reason: err.Error()}
	}
	defer f.Close()

	line, err := json.Marshal(rec)
	if err != nil {
		return &wrerrors.SessionHealthError{Code: wrerrors.SessionInvariantViolation, Reason: err.Error()}
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return &wrerrors.SessionHealthError{Code: wrerrors.SessionIOError, Reason: err.Error()}
	}
	return f.Sync()
}
