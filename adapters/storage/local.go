// Package storage provides read-only ObjectStore implementations images are
// decoded from.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
)

// Local opens images on the local filesystem.
type Local struct {
	rootDir string
}

// NewLocal creates a Local store rooted at dir.  dir must exist.
func NewLocal(dir string) (*Local, error) {
	fi, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("local storage: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("local storage: %s is not a directory", dir)
	}
	return &Local{rootDir: dir}, nil
}

// absPath maps a key under rootDir.  Bucket maps to a subdirectory; Path is
// the filename.  Keys cannot escape the root.
func (l *Local) absPath(key core.StorageKey) (string, error) {
	rel := filepath.Join(filepath.Clean("/"+key.Bucket), filepath.Clean("/"+key.Path))
	p := filepath.Join(l.rootDir, rel)
	if !strings.HasPrefix(p, filepath.Clean(l.rootDir)) {
		return "", apperrors.New(apperrors.CategoryStorage, "local.path", fmt.Errorf("key escapes root: %v", key))
	}
	return p, nil
}

func (l *Local) Open(ctx context.Context, key core.StorageKey) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "local.open", err)
	}
	path, err := l.absPath(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.New(apperrors.CategoryStorage, "local.open",
				fmt.Errorf("%w: %v", apperrors.ErrNotFound, key))
		}
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "local.open", err)
	}
	return f, nil
}

func (l *Local) Exists(ctx context.Context, key core.StorageKey) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, apperrors.Wrap(apperrors.CategoryStorage, "local.exists", err)
	}
	path, err := l.absPath(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, apperrors.Wrap(apperrors.CategoryStorage, "local.exists.stat", err)
}
