package cli

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRootCommand(t *testing.T) {
	cmd := NewRootCommand()

	require.Equal(t, "workrail", cmd.Use)
	require.NotEmpty(t, cmd.Short)
	require.NotEmpty(t, cmd.Long)
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	cmd := NewRootCommand()

	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	require.True(t, names["serve"])
	require.True(t, names["inspect"])
	require.True(t, names["doctor"])
}

func TestSetVersion(t *testing.T) {
	SetVersion("1.2.3", "abc123", "2026-07-30")
	require.Equal(t, "1.2.3", version)
	require.Equal(t, "abc123", commit)
	require.Equal(t, "2026-07-30", buildDate)
}
