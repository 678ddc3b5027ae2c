package index

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// VersionFileName holds the active index version, one line.
	VersionFileName = "index_version"
	// LastReindexFileName records when the last full reindex finished.
	LastReindexFileName = "last_full_reindex.txt"
)

// NewIndexVersion derives a version string from the build time and the
// retrieval config hash: "v20241024T120000Z_ab12cd34". The config hash
// makes a config change look like a new index to the cache namespace.
func NewIndexVersion(now time.Time, configHash string) string {
	return "v" + now.UTC().Format("20060102T150405Z") + "_" + configHash
}

// WriteVersionFile atomically writes the version string to its one-line
// file via temp-and-rename.
func WriteVersionFile(dataDir, version string) error {
	return writeOneLineFile(filepath.Join(dataDir, VersionFileName), version)
}

// ReadVersionFile returns the recorded version, "" when absent.
func ReadVersionFile(dataDir string) string {
	return readOneLineFile(filepath.Join(dataDir, VersionFileName))
}

// WriteLastReindexFile records the completion time of a full reindex.
func WriteLastReindexFile(dataDir string, at time.Time) error {
	return writeOneLineFile(filepath.Join(dataDir, LastReindexFileName), at.UTC().Format(time.RFC3339))
}

// ReadLastReindexFile returns the last full reindex time, zero when
// absent or malformed.
func ReadLastReindexFile(dataDir string) time.Time {
	raw := readOneLineFile(filepath.Join(dataDir, LastReindexFileName))
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func writeOneLineFile(path, line string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(line+"\n"), 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to publish %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readOneLineFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
