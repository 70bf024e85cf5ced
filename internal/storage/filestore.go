package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FileStore writes uploaded documents to local disk under
// <root>/<case_id>/<uuid>_<sanitized original name>.
type FileStore struct {
	root string
}

// NewFileStore creates the upload root if needed.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("storage: create upload dir: %w", err)
	}
	return &FileStore{root: root}, nil
}

// Save streams an upload to disk and returns its storage key, relative to the
// store root.
func (fs *FileStore) Save(caseID uuid.UUID, originalName string, r io.Reader) (string, int64, error) {
	dir := filepath.Join(fs.root, caseID.String())
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", 0, fmt.Errorf("storage: create case dir: %w", err)
	}

	key := filepath.Join(caseID.String(), uuid.New().String()+"_"+sanitizeFilename(originalName))
	path := filepath.Join(fs.root, key)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640) //nolint:gosec // path is built from UUIDs and a sanitized name
	if err != nil {
		return "", 0, fmt.Errorf("storage: create upload file: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", 0, fmt.Errorf("storage: write upload file: %w", err)
	}
	return key, n, nil
}

// Open returns a reader for a stored file.
func (fs *FileStore) Open(key string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(fs.root, filepath.Clean(key))) //nolint:gosec // keys are generated by Save, never caller-supplied paths
	if err != nil {
		return nil, fmt.Errorf("storage: open upload file: %w", err)
	}
	return f, nil
}

// sanitizeFilename keeps the base name and replaces path separators and
// control characters so keys are safe on any filesystem.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == '/' || r == '\\' || r < 0x20:
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" || out == "." || out == ".." {
		out = "upload"
	}
	const maxLen = 128
	if len(out) > maxLen {
		out = out[len(out)-maxLen:]
	}
	return out
}
