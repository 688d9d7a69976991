package mcpserver

import "os"

// homeDir returns the current user's home directory, or "" if it cannot
// be resolved. Used only to sanitize INTERNAL_ERROR messages.
func homeDir() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return dir
}
