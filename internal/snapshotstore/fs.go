package snapshotstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/daniacca/membranedb/internal/psystem"
)

// FileStore keeps one file per environment under a directory. Writes go to
// a temporary file first and are renamed into place.
type FileStore struct {
	mu     sync.Mutex
	dir    string
	format Format
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string, format Format) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("snapshot directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	if format == "" {
		format = FormatJSON
	}
	return &FileStore{dir: dir, format: format}, nil
}

// Dir returns the directory snapshots are written to.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) path(id psystem.EnvironmentID) (string, error) {
	name, err := objectName(id, s.format)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, name), nil
}

// Save replaces the stored snapshot for id.
func (s *FileStore) Save(ctx context.Context, id psystem.EnvironmentID, snap psystem.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(id)
	if err != nil {
		return err
	}
	data, err := s.format.encode(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// Load returns the stored snapshot for id, or ErrNotFound.
func (s *FileStore) Load(ctx context.Context, id psystem.EnvironmentID) (psystem.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return psystem.Snapshot{}, err
	}
	path, err := s.path(id)
	if err != nil {
		return psystem.Snapshot{}, err
	}

	s.mu.Lock()
	data, err := os.ReadFile(path)
	s.mu.Unlock()
	if errors.Is(err, fs.ErrNotExist) {
		return psystem.Snapshot{}, fmt.Errorf("environment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return psystem.Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	return s.format.decode(data)
}

// Delete removes the stored snapshot. Deleting a missing snapshot is not
// an error.
func (s *FileStore) Delete(ctx context.Context, id psystem.EnvironmentID) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
