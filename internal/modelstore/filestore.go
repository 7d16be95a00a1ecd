// Package modelstore persists serialized model bundles on disk so trained
// models survive restarts.
package modelstore

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/utils"
)

// FileStore keeps one file per bundle under a directory. Writes go through
// a temp file and rename, so a crash mid-save never leaves a torn bundle.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, utils.NewAppError("modelstore.New", "create model directory", err)
	}
	return &FileStore{dir: dir}, nil
}

// Save atomically replaces the named bundle.
func (s *FileStore) Save(name string, blob []byte) error {
	path := filepath.Join(s.dir, name)

	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return utils.NewAppError("modelstore.Save", "create temp file", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return utils.NewAppError("modelstore.Save", "write bundle", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return utils.NewAppError("modelstore.Save", "close temp file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return utils.NewAppError("modelstore.Save", "replace bundle", err)
	}
	return nil
}

// Load reads the named bundle. A missing bundle is not an error; the second
// return reports presence.
func (s *FileStore) Load(name string) ([]byte, bool, error) {
	blob, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, utils.NewAppError("modelstore.Load", "read bundle", err)
	}
	return blob, true, nil
}
