// Package storage persists the card store and word-frequency table. The
// primary tier is sqlite; a directory of JSON files serves as the fallback
// when sqlite is unavailable and as the source of data written by older
// builds, which is moved into sqlite on first open.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/conorfennell/flashsync/internal/cardstore"
	"github.com/conorfennell/flashsync/internal/domain"
)

// Backend is what the rest of the program needs from storage.
type Backend interface {
	cardstore.Backend
	ReadStore(ctx context.Context) (*domain.Store, error)
	WriteStore(ctx context.Context, s *domain.Store) error
	ReadWordFreq(ctx context.Context) (domain.WordFreq, error)
	WriteWordFreq(ctx context.Context, wf domain.WordFreq) error
	Close() error
}

var (
	_ Backend = (*DB)(nil)
	_ Backend = (*FileTier)(nil)
)

// Open returns the sqlite tier at dsn, hydrated from fallbackDir if that
// holds data. If sqlite cannot be opened and fallbackDir is set, it returns
// the file tier instead so the program keeps working in a degraded mode.
func Open(ctx context.Context, dsn, fallbackDir string, logger *slog.Logger) (Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var files *FileTier
	if fallbackDir != "" {
		files = NewFileTier(fallbackDir)
	}

	db, err := OpenDB(dsn, logger)
	if err != nil {
		if files == nil {
			return nil, err
		}
		logger.Warn("sqlite unavailable, falling back to file storage", "dir", fallbackDir, "err", err)
		return files, nil
	}

	if files != nil && files.Exists() {
		if err := db.hydrate(ctx, files); err != nil {
			logger.Warn("failed to import file storage", "dir", fallbackDir, "err", err)
		}
	}
	return db, nil
}

// hydrate copies documents from the file tier into empty sqlite keys, then
// removes the files.
func (db *DB) hydrate(ctx context.Context, files *FileTier) error {
	for _, key := range []string{keyFlashcards, keyWordFreq} {
		_, rev, err := db.get(ctx, key)
		if err != nil {
			return err
		}
		if rev > 0 {
			continue
		}
		raw, err := files.readRaw(key)
		if err != nil {
			return err
		}
		if raw == nil {
			continue
		}

		switch key {
		case keyFlashcards:
			s, err := cardstore.Normalize(raw, db.now())
			if err != nil {
				return fmt.Errorf("failed to decode %s: %w", key, err)
			}
			if err := db.WriteStore(ctx, s); err != nil {
				return err
			}
			db.log.Info("imported card store from file storage", "cards", len(s.Flashcards))
		case keyWordFreq:
			if err := db.WriteWordFreq(ctx, decodeWordFreq(raw)); err != nil {
				return err
			}
		}
	}
	return files.Remove()
}
