package preview

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"

	"mina-studio/internal/domain"
	"mina-studio/internal/domain/ports/adapter"
)

var _ adapter.PreviewStore = (*FileStore)(nil)

// FileStore keeps upload previews as files under one directory. A preview
// lives until Release; Close removes whatever is left.
type FileStore struct {
	basePath string
	owned    bool // basePath was created by us and is removed on Close

	mu   sync.Mutex
	live map[string]struct{}
}

// NewFileStore roots the store at basePath. An empty basePath creates a
// private temp directory.
func NewFileStore(basePath string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	owned := false
	if basePath == "" {
		dir, err := os.MkdirTemp("", "mina-previews-")
		if err != nil {
			return nil, fmt.Errorf("preview: temp dir: %w", err)
		}
		basePath, owned = dir, true
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("preview: ensure base path: %w", err)
	}
	return &FileStore{basePath: basePath, owned: owned, live: map[string]struct{}{}}, nil
}

func (s *FileStore) BasePath() string { return s.basePath }

// Create writes data and returns an opaque reference.
func (s *FileStore) Create(name string, data []byte) (string, error) {
	ref := ulid.Make().String() + "-" + sanitizeName(name)
	if err := os.WriteFile(filepath.Join(s.basePath, ref), data, 0o600); err != nil {
		return "", fmt.Errorf("preview: write: %w", err)
	}
	s.mu.Lock()
	s.live[ref] = struct{}{}
	s.mu.Unlock()
	return ref, nil
}

func (s *FileStore) Open(ref string) (io.ReadCloser, error) {
	path, err := s.path(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, domain.ErrNotFound
	}
	return f, err
}

// Release deletes the preview. Releasing twice is not an error.
func (s *FileStore) Release(ref string) error {
	path, err := s.path(ref)
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.live, ref)
	s.mu.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("preview: remove: %w", err)
	}
	return nil
}

// Live returns the number of unreleased previews.
func (s *FileStore) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Close releases every remaining preview.
func (s *FileStore) Close() error {
	s.mu.Lock()
	refs := make([]string, 0, len(s.live))
	for ref := range s.live {
		refs = append(refs, ref)
	}
	s.mu.Unlock()

	var errs []error
	for _, ref := range refs {
		if err := s.Release(ref); err != nil {
			errs = append(errs, err)
		}
	}
	if s.owned {
		errs = append(errs, os.RemoveAll(s.basePath))
	}
	return errors.Join(errs...)
}

// path resolves ref inside the store; refs never contain separators.
func (s *FileStore) path(ref string) (string, error) {
	if ref == "" || ref != filepath.Base(ref) || ref == "." || ref == ".." {
		return "", fmt.Errorf("preview: invalid ref %q: %w", ref, domain.ErrInvalidArgument)
	}
	return filepath.Join(s.basePath, ref), nil
}

func sanitizeName(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	name = filepath.Base(filepath.Clean("/" + name))
	if name == "/" || name == "." || name == "" {
		return "preview"
	}
	return strings.Map(func(r rune) rune {
		if r == '/' || r < 0x20 {
			return '_'
		}
		return r
	}, name)
}
