package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// FSStore keeps blobs on the local filesystem under
// root/<owner>/<document>/<filename>.
type FSStore struct {
	root   string
	logger *zap.Logger
}

// NewFSStore creates the root directory if needed.
func NewFSStore(root string, logger *zap.Logger) (*FSStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if root == "" {
		return nil, fmt.Errorf("%w: empty root", ErrInvalidPointer)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob root: %w", err)
	}
	return &FSStore{root: root, logger: logger}, nil
}

// Put streams content to disk and returns the relative pointer.
func (s *FSStore) Put(ctx context.Context, ownerID, documentID, filename string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := sanitizeFilename(filename)
	pointer := filepath.ToSlash(filepath.Join(ownerID, documentID, name))
	path, err := s.resolve(pointer)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating blob directory: %w", err)
	}

	// Write to a temp file in the same directory, then rename, so a partial
	// write never appears at the final path.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("publishing blob: %w", err)
	}

	s.logger.Debug("blob stored", zap.String("pointer", pointer))
	return pointer, nil
}

// Open returns a reader over the blob at pointer.
func (s *FSStore) Open(_ context.Context, pointer string) (io.ReadCloser, error) {
	path, err := s.resolve(pointer)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, pointer)
		}
		return nil, fmt.Errorf("opening blob: %w", err)
	}
	return f, nil
}

// Delete removes the blob and prunes its now-empty document directory.
func (s *FSStore) Delete(_ context.Context, pointer string) error {
	path, err := s.resolve(pointer)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting blob: %w", err)
	}
	// Best effort; fails if the directory still has entries.
	_ = os.Remove(filepath.Dir(path))
	return nil
}

// resolve maps a pointer to an absolute path, rejecting escapes from root.
func (s *FSStore) resolve(pointer string) (string, error) {
	if pointer == "" {
		return "", fmt.Errorf("%w: empty pointer", ErrInvalidPointer)
	}
	path := filepath.Join(s.root, filepath.FromSlash(pointer))
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrInvalidPointer, pointer)
	}
	return path, nil
}

// sanitizeFilename strips path components and control characters from an
// uploaded filename.
func sanitizeFilename(filename string) string {
	name := filepath.Base(filepath.Clean(filename))
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == filepath.Separator || r == '/' {
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "upload"
	}
	return name
}

var _ Store = (*FSStore)(nil)
