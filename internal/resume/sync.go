package resume

import (
	"context"
	"time"

	"github.com/EtienneBBeaulac/workrail/internal/orchestrator"
	"github.com/EtienneBBeaulac/workrail/internal/sessionlog"
)

// syncIndex refreshes cached rows whose backing manifest changed since
// the row was written, and drops rows for sessions that no longer exist.
// Sessions never seen before are computed and inserted. The sqlite index
// is explicitly a cache (SPEC_FULL's dependency table): this is the
// lazy, on-miss rebuild path; Rebuild forces every session unconditionally.
func (r *Resolver) syncIndex(ctx context.Context) error {
	discovered, err := discoverSessions(r.DataDir)
	if err != nil {
		return err
	}

	cached, err := r.Index.All(ctx)
	if err != nil {
		return err
	}
	cachedByID := make(map[string]Record, len(cached))
	for _, rec := range cached {
		cachedByID[rec.SessionID] = rec
	}

	for sessionID, info := range discovered {
		existing, ok := cachedByID[sessionID]
		if ok && !info.ModTime().After(existing.UpdatedAt) {
			continue
		}
		rec, found, err := buildRecord(r.Sessions, sessionID, info.ModTime())
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		if err := r.Index.Upsert(ctx, rec); err != nil {
			return err
		}
	}

	for sessionID := range cachedByID {
		if _, ok := discovered[sessionID]; !ok {
			if err := r.Index.Delete(ctx, sessionID); err != nil {
				return err
			}
		}
	}
	return nil
}

// Rebuild recomputes every discovered session's row unconditionally,
// exercising the same path `workrail doctor --rebuild-index` uses.
func (r *Resolver) Rebuild(ctx context.Context) error {
	discovered, err := discoverSessions(r.DataDir)
	if err != nil {
		return err
	}
	for sessionID, info := range discovered {
		rec, found, err := buildRecord(r.Sessions, sessionID, info.ModTime())
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		if err := r.Index.Upsert(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// buildRecord replays sessionID's log into the denormalized Record the
// index caches. found is false for a session directory whose log has no
// session_created event yet (e.g. a lock file left by a crash before the
// first append).
func buildRecord(sessions *sessionlog.Store, sessionID string, updatedAt time.Time) (Record, bool, error) {
	proj, err := orchestrator.LoadProjection(sessions, sessionID)
	if err != nil {
		return Record{}, false, err
	}
	if proj.WorkflowID == "" {
		return Record{}, false, nil
	}

	return Record{
		SessionID:      sessionID,
		WorkflowID:     proj.WorkflowID,
		WorkspacePath:  proj.WorkspacePath,
		HeadSHA:        proj.HeadSHA,
		Branch:         proj.Branch,
		LastNotes:      proj.LastNotes,
		LastEventIndex: proj.NextEventIdx - 1,
		UpdatedAt:      updatedAt,
	}, true, nil
}
