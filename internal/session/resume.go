package session

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ResumeState is the sidecar record that lets a later process continue
// an interrupted upload against the same remote target.
type ResumeState struct {
	UploadURL  string    `json:"upload_url"`
	Offset     int64     `json:"offset"`
	TotalSize  int64     `json:"total_size"`
	ChunkSize  int64     `json:"chunk_size"`
	CreatedAt  time.Time `json:"created_at"`
	LastUpdate time.Time `json:"last_update"`
}

const resumeSuffix = ".upload.resume"

// MaxResumeAge is how long a sidecar stays usable. Remote upload
// targets expire server-side; a stale URL would just fail the first
// chunk, so old state is discarded up front.
const MaxResumeAge = 24 * time.Hour

// ResumeStatePath returns the sidecar path for a local source file.
func ResumeStatePath(localPath string) string {
	return localPath + resumeSuffix
}

// SaveResumeState writes the sidecar atomically via temp file + rename.
func SaveResumeState(path string, state *ResumeState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal resume state: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp resume state: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename resume state: %w", err)
	}
	return nil
}

// LoadResumeState reads a sidecar. A missing file returns nil state
// with no error.
func LoadResumeState(path string) (*ResumeState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read resume state: %w", err)
	}

	var state ResumeState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal resume state: %w", err)
	}
	return &state, nil
}

// ValidateResumeState checks a loaded sidecar against the current
// source file before it is trusted.
func ValidateResumeState(state *ResumeState, localPath string) error {
	if state == nil {
		return fmt.Errorf("resume state is nil")
	}
	if state.UploadURL == "" {
		return fmt.Errorf("resume state missing upload URL")
	}

	info, err := os.Stat(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("source file no longer exists")
		}
		return fmt.Errorf("failed to stat source file: %w", err)
	}
	if info.Size() != state.TotalSize {
		return fmt.Errorf("source file size changed (was %d, now %d)", state.TotalSize, info.Size())
	}

	if age := time.Since(state.CreatedAt); age > MaxResumeAge {
		return fmt.Errorf("resume state expired (age: %s, max: %s)", age.Round(time.Second), MaxResumeAge)
	}
	if state.Offset < 0 || state.Offset > state.TotalSize {
		return fmt.Errorf("recorded offset %d out of range [0,%d]", state.Offset, state.TotalSize)
	}
	return nil
}

// DeleteResumeState removes the sidecar; a missing file is not an error.
func DeleteResumeState(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete resume state: %w", err)
	}
	return nil
}
