package filestore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/manthysbr/inspectd/internal/core/domain"
	"github.com/manthysbr/inspectd/internal/core/ports"
)

// Local stores files under a root directory. The ref of a file is its key.
type Local struct {
	root string
}

var _ ports.FileStore = (*Local)(nil)

func NewLocal(root string) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &Local{root: abs}, nil
}

// resolve maps a key onto the filesystem, refusing keys that escape root.
func (l *Local) resolve(key string) (string, error) {
	clean := path.Clean("/" + strings.ReplaceAll(key, "\\", "/"))
	if clean == "/" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid file key %q", key)
	}
	return filepath.Join(l.root, filepath.FromSlash(clean)), nil
}

func (l *Local) Save(ctx context.Context, key string, r io.Reader, _ string) (domain.FileRef, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dst, err := l.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", err
	}
	return domain.FileRef(key), nil
}

func (l *Local) Open(_ context.Context, ref domain.FileRef) (io.ReadCloser, error) {
	p, err := l.resolve(string(ref))
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

// DeletePrefix removes the directory named by prefix. A missing directory
// is not an error.
func (l *Local) DeletePrefix(_ context.Context, prefix string) error {
	p, err := l.resolve(strings.TrimSuffix(prefix, "/"))
	if err != nil {
		return err
	}
	return os.RemoveAll(p)
}
