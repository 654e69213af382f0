// Package artifact provides implementations of the core.ArtifactStore interface.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// File and directory permissions.
const (
	filePermissions = 0o600
	dirPermissions  = 0o750
)

var (
	// ErrInvalidLocation indicates a location that would escape the store directory.
	ErrInvalidLocation = errors.New("invalid artifact location")
	// ErrArtifactNotFound indicates the requested artifact does not exist.
	ErrArtifactNotFound = errors.New("artifact not found")
)

// FSStore stores artifacts as files under a single directory.
// Locations are bare file names relative to that directory.
type FSStore struct {
	dir string
}

// NewFSStore creates the store directory if needed and returns the store.
func NewFSStore(dir string) (*FSStore, error) {
	err := os.MkdirAll(dir, dirPermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact directory '%s': %w", dir, err)
	}

	return &FSStore{dir: dir}, nil
}

// Put writes data to a file named after key and returns the file name as the
// location. The write goes through a temp file and rename so a crashed write
// never leaves a partial artifact at the final location.
func (s *FSStore) Put(_ context.Context, key string, data []byte) (string, error) {
	location := key + ".mp3"

	path, err := s.resolve(location)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.dir, "artifact-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp artifact file: %w", err)
	}

	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()

	if writeErr != nil {
		removeTempFile(tmp.Name())

		return "", fmt.Errorf("failed to write artifact '%s': %w", location, writeErr)
	}

	if closeErr != nil {
		removeTempFile(tmp.Name())

		return "", fmt.Errorf("failed to close artifact '%s': %w", location, closeErr)
	}

	err = os.Chmod(tmp.Name(), filePermissions)
	if err != nil {
		removeTempFile(tmp.Name())

		return "", fmt.Errorf("failed to set artifact permissions '%s': %w", location, err)
	}

	err = os.Rename(tmp.Name(), path)
	if err != nil {
		removeTempFile(tmp.Name())

		return "", fmt.Errorf("failed to commit artifact '%s': %w", location, err)
	}

	return location, nil
}

// Get reads the artifact bytes at location.
func (s *FSStore) Get(_ context.Context, location string) ([]byte, error) {
	path, err := s.resolve(location)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: '%s'", ErrArtifactNotFound, location)
		}

		return nil, fmt.Errorf("failed to read artifact '%s': %w", location, err)
	}

	return data, nil
}

// Delete removes the artifact at location. Deleting a missing artifact is
// not an error; the caller only cares that the bytes are gone.
func (s *FSStore) Delete(_ context.Context, location string) error {
	path, err := s.resolve(location)
	if err != nil {
		return err
	}

	err = os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete artifact '%s': %w", location, err)
	}

	return nil
}

func (s *FSStore) resolve(location string) (string, error) {
	if location == "" || strings.Contains(location, "/") || strings.Contains(location, "..") {
		return "", fmt.Errorf("%w: '%s'", ErrInvalidLocation, location)
	}

	return filepath.Join(s.dir, location), nil
}

func removeTempFile(name string) {
	// Best effort; an orphaned temp file is harmless.
	_ = os.Remove(name)
}
