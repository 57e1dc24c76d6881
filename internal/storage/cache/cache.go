// Package cache stores session payloads as files, sharded by id prefix.
package cache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const (
	cacheExt       = ".json"
	shardPrefixLen = 2
)

var errInvalidID = errors.New("invalid id")

// Store is a directory of files addressed by id. Writes are atomic.
type Store struct {
	dir string
}

// NewStore creates the store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(id string) string {
	if len(id) <= shardPrefixLen {
		return filepath.Join(s.dir, id+cacheExt)
	}
	return filepath.Join(s.dir, id[:shardPrefixLen], id+cacheExt)
}

func validID(id string) bool {
	return id != "" && filepath.Base(id) == id && id != "." && id != ".."
}

// Read opens the file of id and hands it to readFn.
func (s *Store) Read(id string, readFn func(io.Reader) error) error {
	if !validID(id) {
		return fmt.Errorf("read: %w", errInvalidID)
	}
	file, err := os.Open(s.path(id))
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	defer file.Close() //nolint:errcheck

	if err := readFn(file); err != nil {
		return fmt.Errorf("read: %w", err)
	}
	return nil
}

// Write replaces the file of id with what writeFn produces. A failing
// writeFn leaves the previous content in place.
func (s *Store) Write(id string, writeFn func(io.Writer) error) error {
	if !validID(id) {
		return fmt.Errorf("write: %w", errInvalidID)
	}
	path := s.path(id)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if err := writeFn(tmp); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// Delete removes the file of id.
func (s *Store) Delete(id string) error {
	if !validID(id) {
		return fmt.Errorf("delete: %w", errInvalidID)
	}
	if err := os.Remove(s.path(id)); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}
