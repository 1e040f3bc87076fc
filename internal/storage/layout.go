// Package storage defines the on-disk layout for job artifacts: one
// directory per job holding numbered screenshots, debug captures, and the
// final archive.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// Layout resolves artifact paths under a single data directory.
type Layout struct {
	dataDir string
}

// NewLayout creates a Layout rooted at dataDir.
func NewLayout(dataDir string) Layout {
	return Layout{dataDir: dataDir}
}

// EnsureDataDir creates the root data directory.
func (l Layout) EnsureDataDir() error {
	if err := os.MkdirAll(l.dataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}

// JobDir returns the directory holding a job's artifacts.
func (l Layout) JobDir(jobID string) string {
	return filepath.Join(l.dataDir, jobID)
}

// EnsureJobDir creates the job directory and returns its path.
func (l Layout) EnsureJobDir(jobID string) (string, error) {
	dir := l.JobDir(jobID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create job dir: %w", err)
	}
	return dir, nil
}

// ScreenshotPath returns the zero-padded image path for an item.
func (l Layout) ScreenshotPath(jobID string, index int) string {
	return filepath.Join(l.JobDir(jobID), fmt.Sprintf("%03d.png", index))
}

// DebugScreenshotPath returns the full-page debug capture path for an item.
func (l Layout) DebugScreenshotPath(jobID string, index int) string {
	return filepath.Join(l.JobDir(jobID), fmt.Sprintf("%03d.debug.png", index))
}

// ZipPath returns the deterministic archive location for a job.
func (l Layout) ZipPath(jobID string) string {
	return filepath.Join(l.JobDir(jobID), "screenshots.zip")
}
