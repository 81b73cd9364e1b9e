package export

import (
	"context"
	"os"
	"path/filepath"
)

// FileStore writes artifacts to a local directory and addresses them with
// file:// URLs.
type FileStore struct {
	Dir string
}

var _ ArtifactStore = FileStore{}

func (s FileStore) Put(_ context.Context, name string, data []byte) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(s.Dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return "file://" + abs, nil
}
