package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/EtienneBBeaulac/workrail/internal/snapshotstore"
)

func TestRunDoctorWithNoSessionsIsHealthy(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("WORKRAIL_DATA_DIR", dataDir)

	cmd := newDoctorCommand()
	err := runDoctor(cmd, false, true)
	require.NoError(t, err)
}

func TestRunDoctorReportsCorruptManifestAsUnhealthy(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("WORKRAIL_DATA_DIR", dataDir)

	sessionDir := filepath.Join(dataDir, "sessions", "broken-session")
	require.NoError(t, os.MkdirAll(sessionDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sessionDir, "manifest.jsonl"), []byte("not valid json\n"), 0o644))

	cmd := newDoctorCommand()
	err := runDoctor(cmd, false, true)
	require.Error(t, err)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, ExitUnhealthy, exitErr.Code)
}

func TestRunDoctorReportsOrphanedSnapshot(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("WORKRAIL_DATA_DIR", dataDir)

	store := snapshotstore.New(dataDir)
	_, err := store.Put(context.Background(), map[string]interface{}{"stepId": "s1"})
	require.NoError(t, err)

	cmd := newDoctorCommand()
	err = runDoctor(cmd, false, true)
	require.NoError(t, err)
}

func TestOrphanedSnapshotsExcludesPinnedDigests(t *testing.T) {
	dataDir := t.TempDir()
	store := snapshotstore.New(dataDir)
	pinnedDigest, err := store.Put(context.Background(), map[string]interface{}{"stepId": "pinned"})
	require.NoError(t, err)
	orphanDigest, err := store.Put(context.Background(), map[string]interface{}{"stepId": "orphan"})
	require.NoError(t, err)

	orphans, err := orphanedSnapshots(dataDir, map[string]bool{pinnedDigest: true})
	require.NoError(t, err)
	require.Equal(t, []string{orphanDigest}, orphans)
}

func TestDoctorCommandRegistersFlags(t *testing.T) {
	cmd := newDoctorCommand()
	require.NotNil(t, cmd.Flags().Lookup("rebuild-index"))
	require.NotNil(t, cmd.Flags().Lookup("json"))
}
