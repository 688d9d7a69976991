package resume

import (
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// manifestGlob locates every session's manifest the way the teacher's
// permissions package matches path patterns (internal/permissions/paths.go),
// here fixed to the session-log layout internal/sessionlog/store.go lays
// out: <dataDir>/sessions/<sessionId>/manifest.jsonl.
const manifestGlob = "sessions/*/manifest.jsonl"

// discoverSessions returns each session id under dataDir that has at
// least one manifest record, paired with that manifest's mtime (used as
// the cheap staleness signal for the resume index).
func discoverSessions(dataDir string) (map[string]os.FileInfo, error) {
	matches, err := doublestar.FilepathGlob(filepath.Join(dataDir, manifestGlob))
	if err != nil {
		return nil, err
	}
	found := map[string]os.FileInfo{}
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		sessionID := filepath.Base(filepath.Dir(m))
		if sessionID == "" || sessionID == "." {
			continue
		}
		found[sessionID] = info
	}
	return found, nil
}
