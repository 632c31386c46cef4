package state

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileStorage keeps the checkpoint as a JSON file. With an empty path it
// only remembers the last save in memory.
type FileStorage struct {
	path string

	mu  sync.Mutex
	mem Checkpoint
}

var _ Storage = (*FileStorage)(nil)

func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

// Save writes to a temp file next to the target and renames it over, so
// a crash leaves either the old or the new checkpoint on disk.
func (s *FileStorage) Save(_ context.Context, cp Checkpoint) error {
	data, err := encode(cp)
	if err != nil {
		return err
	}

	if s.path == "" {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.mem, err = decode(data)
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace checkpoint %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStorage) Retrieve(_ context.Context) (Checkpoint, error) {
	if s.path == "" {
		s.mu.Lock()
		defer s.mu.Unlock()
		cp := Checkpoint{}
		for k, v := range s.mem {
			cp[k] = v
		}
		return cp, nil
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Checkpoint{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", s.path, err)
	}
	return decode(data)
}

func (s *FileStorage) CleanUp(_ context.Context) error {
	if s.path == "" {
		s.mu.Lock()
		s.mem = nil
		s.mu.Unlock()
		return nil
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove checkpoint %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStorage) Close() error { return nil }
