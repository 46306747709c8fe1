package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FSStore writes binaries below a root directory.
type FSStore struct {
	root    string
	urlBase string
}

var _ Store = (*FSStore)(nil)

// NewFSStore creates root when missing and checks it is writable.
func NewFSStore(root, urlBase string) (*FSStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("blob root %s: %w", abs, err)
	}
	probe, err := os.CreateTemp(abs, ".probe-*")
	if err != nil {
		return nil, fmt.Errorf("blob root %s is not writable: %w", abs, err)
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())
	return &FSStore{root: abs, urlBase: urlBase}, nil
}

// Path returns the absolute file path of key.
func (s *FSStore) Path(key Key) string {
	return filepath.Join(s.root, filepath.FromSlash(key.Name()))
}

// URL joins the public base with the key name.
func (s *FSStore) URL(key Key) (string, bool) {
	if s.urlBase == "" {
		return "", false
	}
	return joinURL(s.urlBase, key.Name()), true
}

// Save writes r to a temporary file and renames it into place.
func (s *FSStore) Save(_ context.Context, r io.Reader, key Key) (string, error) {
	dst := s.Path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".part-*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("write %s: %w", dst, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return dst, nil
}
