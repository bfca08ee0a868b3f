package infra

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
)

const statusFileName = "status.json"

// StatusFile implements domain.StatusIndicator as a JSON snapshot the CLI reads.
type StatusFile struct {
	path string
}

// NewStatusFile creates a status indicator in dataDir.
func NewStatusFile(dataDir string) *StatusFile {
	return &StatusFile{path: filepath.Join(dataDir, statusFileName)}
}

// Publish writes the snapshot atomically.
func (f *StatusFile) Publish(status domain.Status) error {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}
	return atomicWriteFile(f.path, data, 0644)
}

// Remove deletes the snapshot. Missing file is not an error.
func (f *StatusFile) Remove() error {
	err := os.Remove(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Read loads the last published snapshot. ok is false when none exists.
func (f *StatusFile) Read() (status domain.Status, ok bool, err error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.Status{}, false, nil
		}
		return domain.Status{}, false, err
	}
	if err := json.Unmarshal(data, &status); err != nil {
		return domain.Status{}, false, err
	}
	return status, true, nil
}

// Ensure StatusFile implements domain.StatusIndicator.
var _ domain.StatusIndicator = (*StatusFile)(nil)
