package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir returns the log directory under the service data dir.
// Falls back to a temp directory when no data dir is configured.
func DefaultLogDir(dataDir string) string {
	if dataDir == "" {
		return filepath.Join(os.TempDir(), "askdocs", "logs")
	}
	return filepath.Join(dataDir, "logs")
}

// DefaultLogPath returns the default service log path.
func DefaultLogPath(dataDir string) string {
	return filepath.Join(DefaultLogDir(dataDir), "askdocs.log")
}
