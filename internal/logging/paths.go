package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir returns the default log directory (~/.myragdb/logs/).
// Falls back to the temp directory if the home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".myragdb", "logs")
	}
	return filepath.Join(home, ".myragdb", "logs")
}

// DefaultLogPath returns the default service log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "service.log")
}

// EnsureDir creates the directory holding path if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
