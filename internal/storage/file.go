package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/conorfennell/flashsync/internal/cardstore"
	"github.com/conorfennell/flashsync/internal/domain"
)

// FileTier is the fallback storage tier: one JSON file per document in a
// directory. Revisions are tracked in memory, so it serves a single process.
type FileTier struct {
	dir string
	now func() time.Time

	mu  sync.Mutex
	rev int64
}

// NewFileTier returns a file tier rooted at dir. The directory is created on
// first write.
func NewFileTier(dir string) *FileTier {
	return &FileTier{dir: dir, now: time.Now}
}

func (f *FileTier) path(key string) string {
	return filepath.Join(f.dir, key+".json")
}

// LoadStore returns the stored card store and the in-memory revision.
func (f *FileTier) LoadStore(ctx context.Context) (*domain.Store, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := f.read(keyFlashcards)
	if err != nil {
		return nil, 0, err
	}
	s, err := cardstore.Normalize(raw, f.now())
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode card store: %w", err)
	}
	if cardstore.IsLegacy(raw) {
		if err := f.writeStore(s); err != nil {
			return nil, 0, err
		}
	}
	return s, f.rev, nil
}

// SaveStore writes s if no other save happened since expect was read.
func (f *FileTier) SaveStore(ctx context.Context, s *domain.Store, expect int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if expect != f.rev {
		return 0, cardstore.ErrConflict
	}
	if err := f.writeStore(s); err != nil {
		return 0, err
	}
	return f.rev, nil
}

func (f *FileTier) ReadStore(ctx context.Context) (*domain.Store, error) {
	s, _, err := f.LoadStore(ctx)
	return s, err
}

func (f *FileTier) WriteStore(ctx context.Context, s *domain.Store) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writeStore(s)
}

func (f *FileTier) ReadWordFreq(ctx context.Context) (domain.WordFreq, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, err := f.read(keyWordFreq)
	if err != nil {
		return nil, err
	}
	return decodeWordFreq(raw), nil
}

func (f *FileTier) WriteWordFreq(ctx context.Context, wf domain.WordFreq) error {
	raw, err := encodeWordFreq(wf)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.write(keyWordFreq, raw)
}

// Close is a no-op; files are written through.
func (f *FileTier) Close() error { return nil }

// Exists reports whether the tier holds any document.
func (f *FileTier) Exists() bool {
	for _, key := range []string{keyFlashcards, keyWordFreq} {
		if _, err := os.Stat(f.path(key)); err == nil {
			return true
		}
	}
	return false
}

// Remove deletes every document of the tier.
func (f *FileTier) Remove() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range []string{keyFlashcards, keyWordFreq} {
		if err := os.Remove(f.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", key, err)
		}
	}
	return nil
}

func (f *FileTier) readRaw(key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read(key)
}

func (f *FileTier) writeStore(s *domain.Store) error {
	raw, err := cardstore.Encode(s)
	if err != nil {
		return fmt.Errorf("failed to encode card store: %w", err)
	}
	if err := f.write(keyFlashcards, raw); err != nil {
		return err
	}
	f.rev++
	return nil
}

func (f *FileTier) read(key string) ([]byte, error) {
	raw, err := os.ReadFile(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return raw, nil
}

// write replaces the document atomically via a temp file and rename.
func (f *FileTier) write(key string, raw []byte) error {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", f.dir, err)
	}
	tmp, err := os.CreateTemp(f.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), f.path(key)); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}
