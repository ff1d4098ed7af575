package storage

import (
	"os"
	"path/filepath"
)

const appDir = ".dynrpc"

// DefaultStoragePath returns the default storage location:
//   - macOS/Linux: ~/.dynrpc
//   - Windows: %USERPROFILE%\.dynrpc
func DefaultStoragePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, appDir), nil
}
