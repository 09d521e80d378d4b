// Package tempstore creates and tracks the transient on-disk artifacts a
// conversion job produces: one fetched source file plus one output file per
// resolution attempt. Every artifact must be released exactly once before
// its job terminates; Release is idempotent so failure paths can call it
// without checking whether the file was ever written.
package tempstore

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/google/uuid"
)

// Artifact is a transient local file plus the owner token used to track it.
type Artifact struct {
	ID   string
	Path string
}

// Store allocates uniquely-named files in a dedicated temp directory and
// tracks which of them are still live.
type Store struct {
	dir string

	mu   sync.Mutex
	live map[string]string // artifact ID -> path
}

// New returns a store rooted at dir. An empty dir falls back to the
// system temp directory. The directory is created if missing.
func New(dir string) (*Store, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("prepare temp dir %s: %w", dir, err)
	}
	return &Store{dir: dir, live: make(map[string]string)}, nil
}

// Dir returns the directory artifacts are allocated in.
func (s *Store) Dir() string {
	return s.dir
}

// Allocate creates a new empty artifact with the given suffix and hands
// ownership to the caller. The returned path never collides with a live
// artifact (os.CreateTemp guarantees uniqueness among existing files).
func (s *Store) Allocate(suffix string) (*Artifact, error) {
	f, err := os.CreateTemp(s.dir, "vid-*"+suffix)
	if err != nil {
		return nil, fmt.Errorf("allocate artifact: %w", err)
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("allocate artifact: %w", err)
	}

	a := &Artifact{ID: uuid.New().String(), Path: path}
	s.mu.Lock()
	s.live[a.ID] = path
	s.mu.Unlock()
	return a, nil
}

// Release deletes the artifact's file and stops tracking it. Releasing nil,
// an already-released artifact, or one whose file was never written is a
// no-op; failure-handling paths rely on that.
func (s *Store) Release(a *Artifact) {
	if a == nil {
		return
	}
	s.mu.Lock()
	_, tracked := s.live[a.ID]
	delete(s.live, a.ID)
	s.mu.Unlock()
	if !tracked {
		return
	}
	if err := os.Remove(a.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("tempstore: remove %s: %v", a.Path, err)
	}
}

// Count reports how many artifacts are currently live. Used by tests to
// verify the cleanup invariant and by the status surface.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}
