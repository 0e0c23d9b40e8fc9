// Package file implements a local filesystem-backed data source.
package file

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Local opens one file from the local disk.
type Local struct{ path string }

// NewLocal returns a source for path.
func NewLocal(path string) *Local { return &Local{path: path} }

// Name is the cleaned path.
func (l *Local) Name() string { return filepath.Clean(l.path) }

// Open returns the file for reading. A canceled ctx is returned as is; a
// directory is rejected. Filesystem errors wrap the underlying error, so
// errors.Is(err, os.ErrNotExist) works.
func (l *Local) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.path == "" {
		return nil, fmt.Errorf("open: empty path")
	}
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", l.path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", l.path, err)
	}
	if st.IsDir() {
		f.Close()
		return nil, fmt.Errorf("open %s: is a directory", l.path)
	}
	return f, nil
}
