package resume

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Record is the resume index's denormalized per-session row: exactly the
// fields the 5-tier ranking needs, so ranking never has to replay a
// session's event log just to compare signals (spec.md §4.9).
type Record struct {
	SessionID      string
	WorkflowID     string
	WorkspacePath  string
	HeadSHA        string
	Branch         string
	LastNotes      string
	LastEventIndex int
	UpdatedAt      time.Time
}

// Index is a rebuildable sqlite cache over session metadata. The session
// event log remains the source of truth; Index exists only to make
// resume_session ranking fast, mirroring the teacher's sqlite backend
// (internal/controller/backend/sqlite) used as a secondary store behind a
// narrower interface than the full filesystem log.
type Index struct {
	db *sql.DB
}

// OpenIndex opens (creating if absent) the resume index database at
// <dataDir>/resume_index.db.
func OpenIndex(dataDir string) (*Index, error) {
	path := filepath.Join(dataDir, "resume_index.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open resume index: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to resume index: %w", err)
	}

	idx := &Index{db: db}
	if err := idx.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) migrate(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := idx.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("failed to execute %s: %w", p, err)
		}
	}

	_, err := idx.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS resume_index (
		session_id TEXT PRIMARY KEY,
		workflow_id TEXT NOT NULL,
		workspace_path TEXT,
		head_sha TEXT,
		branch TEXT,
		last_notes TEXT,
		last_event_index INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("resume index migration failed: %w", err)
	}
	return nil
}

// Get returns the cached record for sessionID, if present.
func (idx *Index) Get(ctx context.Context, sessionID string) (Record, bool, error) {
	row := idx.db.QueryRowContext(ctx, `SELECT session_id, workflow_id, workspace_path, head_sha,
		branch, last_notes, last_event_index, updated_at FROM resume_index WHERE session_id = ?`, sessionID)
	return scanRecord(row)
}

// All returns every cached record.
func (idx *Index) All(ctx context.Context) ([]Record, error) {
	rows, err := idx.db.QueryContext(ctx, `SELECT session_id, workflow_id, workspace_path, head_sha,
		branch, last_notes, last_event_index, updated_at FROM resume_index`)
	if err != nil {
		return nil, fmt.Errorf("failed to list resume index: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, ok, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, rows.Err()
}

// Upsert writes or replaces rec's cached row.
func (idx *Index) Upsert(ctx context.Context, rec Record) error {
	_, err := idx.db.ExecContext(ctx, `INSERT INTO resume_index
		(session_id, workflow_id, workspace_path, head_sha, branch, last_notes, last_event_index, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			workflow_id = excluded.workflow_id,
			workspace_path = excluded.workspace_path,
			head_sha = excluded.head_sha,
			branch = excluded.branch,
			last_notes = excluded.last_notes,
			last_event_index = excluded.last_event_index,
			updated_at = excluded.updated_at`,
		rec.SessionID, rec.WorkflowID, rec.WorkspacePath, rec.HeadSHA, rec.Branch,
		rec.LastNotes, rec.LastEventIndex, rec.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to upsert resume index row: %w", err)
	}
	return nil
}

// Delete drops sessionID's cached row, used when a session directory
// disappears from underneath the index (spec.md's append-only log never
// deletes sessions itself, but a rebuild should not resurrect stale rows).
func (idx *Index) Delete(ctx context.Context, sessionID string) error {
	_, err := idx.db.ExecContext(ctx, `DELETE FROM resume_index WHERE session_id = ?`, sessionID)
	return err
}

func (idx *Index) Close() error {
	return idx.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, bool, error) {
	var rec Record
	var workspacePath, headSHA, branch, notes, updatedAt sql.NullString
	err := row.Scan(&rec.SessionID, &rec.WorkflowID, &workspacePath, &headSHA, &branch,
		&notes, &rec.LastEventIndex, &updatedAt)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to scan resume index row: %w", err)
	}
	rec.WorkspacePath = workspacePath.String
	rec.HeadSHA = headSHA.String
	rec.Branch = branch.String
	rec.LastNotes = notes.String
	if updatedAt.Valid {
		rec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt.String)
	}
	return rec, true, nil
}
