package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/EtienneBBeaulac/workrail/internal/config"
)

func TestLoadDefaultsUnderHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("WORKRAIL_DATA_DIR", "")
	t.Setenv("WORKRAIL_LOG_LEVEL", "")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, ".workrail"), cfg.DataDir)
	require.Equal(t, "info", cfg.LogLevel)

	info, err := os.Stat(cfg.DataDir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestLoadRespectsDataDirEnvVar(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("WORKRAIL_DATA_DIR", dir)
	t.Setenv("WORKRAIL_LOG_LEVEL", "debug")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, dir, cfg.DataDir)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestWorkflowsDirIsUnderDataDir(t *testing.T) {
	cfg := &config.Config{DataDir: "/tmp/example"}
	require.Equal(t, "/tmp/example/workflows", cfg.WorkflowsDir())
}

func TestTokenSecretGeneratesAndPersists(t *testing.T) {
	cfg := &config.Config{DataDir: t.TempDir()}
	t.Setenv("WORKRAIL_TOKEN_SECRET", "")

	first, err := cfg.TokenSecret()
	require.NoError(t, err)
	require.Len(t, first, 32)

	second, err := cfg.TokenSecret()
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestTokenSecretRespectsEnvVar(t *testing.T) {
	cfg := &config.Config{DataDir: t.TempDir()}
	t.Setenv("WORKRAIL_TOKEN_SECRET", "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=")

	secret, err := cfg.TokenSecret()
	require.NoError(t, err)
	require.NotEmpty(t, secret)
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := config.NewLogger("verbose")
	require.Error(t, err)
}

func TestNewLoggerAcceptsKnownLevels(t *testing.T) {
	for _, level := range []string{"", "debug", "info", "warn", "error"} {
		logger, err := config.NewLogger(level)
		require.NoError(t, err)
		require.NotNil(t, logger)
	}
}
