package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/c360/udprelay/errors"
	"github.com/c360/udprelay/relay"
)

// FileStore keeps the route table in a JSON file, replaced atomically on save.
type FileStore struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewFileStore creates a store backed by path. The file need not exist.
func NewFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	if path == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "FileStore", "New", "path validation")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{
		path:   path,
		logger: logger.With("component", "store", "backend", BackendFile, "path", path),
	}, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads and validates the table. A missing file is ErrNotFound.
func (s *FileStore) Load(_ context.Context) (*relay.RouteTable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, errors.WrapTransient(err, "FileStore", "Load", "read file")
	}

	var table relay.RouteTable
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, errors.WrapInvalid(err, "FileStore", "Load", fmt.Sprintf("decode %s", filepath.Base(s.path)))
	}

	s.logger.Debug("Route table loaded", "inputs", table.Len())
	return &table, nil
}

// Save writes the table to a temp file in the same directory and renames it
// over the target, so readers never see a partial file.
func (s *FileStore) Save(_ context.Context, table *relay.RouteTable) error {
	if err := validateTable(table, "FileStore", "Save"); err != nil {
		return err
	}

	data, err := json.MarshalIndent(table, "", "  ")
	if err != nil {
		return errors.WrapFatal(err, "FileStore", "Save", "encode table")
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.WrapTransient(err, "FileStore", "Save", "create directory")
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return errors.WrapTransient(err, "FileStore", "Save", "create temp file")
	}
	tmpName := tmp.Name()
	defer func() {
		// No-op after a successful rename.
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.WrapTransient(err, "FileStore", "Save", "write temp file")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.WrapTransient(err, "FileStore", "Save", "sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.WrapTransient(err, "FileStore", "Save", "close temp file")
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return errors.WrapTransient(err, "FileStore", "Save", "chmod temp file")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return errors.WrapTransient(err, "FileStore", "Save", "replace file")
	}

	s.logger.Info("Route table saved", "inputs", table.Len())
	return nil
}
