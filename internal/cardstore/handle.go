package cardstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/conorfennell/flashsync/internal/domain"
)

// ErrConflict is returned by a Backend when the stored revision no longer
// matches the one the caller read.
var ErrConflict = errors.New("store revision conflict")

const maxUpdateAttempts = 5

// Backend persists the store with a revision stamp.
type Backend interface {
	// LoadStore returns the current store and its revision.
	LoadStore(ctx context.Context) (*domain.Store, int64, error)
	// SaveStore writes s if the stored revision still equals expect and
	// returns the new revision, or ErrConflict.
	SaveStore(ctx context.Context, s *domain.Store, expect int64) (int64, error)
}

// Handle is the single entry point for changing the persisted store. Each
// Update is a read-modify-write guarded by the backend's revision check.
type Handle struct {
	backend Backend
	log     *slog.Logger

	// Now is the clock used by callers that need one. Defaults to time.Now.
	Now func() time.Time
}

// NewHandle returns a handle over backend.
func NewHandle(backend Backend, logger *slog.Logger) *Handle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handle{backend: backend, log: logger, Now: time.Now}
}

// Load returns a copy of the current store.
func (h *Handle) Load(ctx context.Context) (*domain.Store, error) {
	s, _, err := h.backend.LoadStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading store: %w", err)
	}
	return s, nil
}

// Revision tells which stored revision an update was applied to and which
// one it produced. They are equal when nothing was saved.
type Revision struct {
	Base  int64
	Saved int64
}

// Update applies fn to the current store and saves the result. If another
// writer got there first, fn is re-run on the fresh store. A nil result
// from fn skips the save.
func (h *Handle) Update(ctx context.Context, fn func(*domain.Store) (*domain.Store, error)) (*domain.Store, error) {
	s, _, err := h.UpdateRevision(ctx, fn)
	return s, err
}

// UpdateRevision is Update that also reports the revisions involved.
func (h *Handle) UpdateRevision(ctx context.Context, fn func(*domain.Store) (*domain.Store, error)) (*domain.Store, Revision, error) {
	for attempt := 1; ; attempt++ {
		cur, rev, err := h.backend.LoadStore(ctx)
		if err != nil {
			return nil, Revision{}, fmt.Errorf("loading store: %w", err)
		}
		next, err := fn(cur)
		if err != nil {
			return nil, Revision{}, err
		}
		if next == nil {
			return cur, Revision{Base: rev, Saved: rev}, nil
		}
		saved, err := h.backend.SaveStore(ctx, next, rev)
		if err == nil {
			return next, Revision{Base: rev, Saved: saved}, nil
		}
		if !errors.Is(err, ErrConflict) || attempt == maxUpdateAttempts {
			return nil, Revision{}, fmt.Errorf("saving store: %w", err)
		}
		h.log.Debug("store changed underneath update, retrying", "attempt", attempt)
	}
}

// ReplaceAt overwrites the store wholesale if its revision is still expect.
// It returns the new revision, or ErrConflict without retrying.
func (h *Handle) ReplaceAt(ctx context.Context, s *domain.Store, expect int64) (int64, error) {
	rev, err := h.backend.SaveStore(ctx, s, expect)
	if err != nil {
		return 0, fmt.Errorf("replacing store: %w", err)
	}
	return rev, nil
}
