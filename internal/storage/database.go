package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // Registers the sqlite driver

	"github.com/conorfennell/flashsync/internal/cardstore"
	"github.com/conorfennell/flashsync/internal/domain"
)

// DB is the primary storage tier: a sqlite key-value table of JSON documents.
type DB struct {
	conn *sql.DB
	log  *slog.Logger
	now  func() time.Time
}

// OpenDB creates a new database connection and ensures the schema is up to date.
func OpenDB(dsn string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	// Execute the schema to create tables if they don't exist.
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &DB{conn: db, log: logger, now: time.Now}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// LoadStore returns the card store and its revision. A store still in the
// legacy format is migrated and written back so card ids stay stable.
func (db *DB) LoadStore(ctx context.Context) (*domain.Store, int64, error) {
	raw, rev, err := db.get(ctx, keyFlashcards)
	if err != nil {
		return nil, 0, err
	}
	s, err := cardstore.Normalize(raw, db.now())
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode card store: %w", err)
	}
	if rev > 0 && cardstore.IsLegacy(raw) {
		db.log.Info("migrating legacy card store", "cards", len(s.Flashcards))
		rev, err = db.SaveStore(ctx, s, rev)
		if err != nil {
			return nil, 0, err
		}
	}
	return s, rev, nil
}

// SaveStore writes s if the stored revision still equals expect.
func (db *DB) SaveStore(ctx context.Context, s *domain.Store, expect int64) (int64, error) {
	raw, err := cardstore.Encode(s)
	if err != nil {
		return 0, fmt.Errorf("failed to encode card store: %w", err)
	}
	return db.compareAndSwap(ctx, keyFlashcards, raw, expect)
}

// ReadStore returns the current card store.
func (db *DB) ReadStore(ctx context.Context) (*domain.Store, error) {
	s, _, err := db.LoadStore(ctx)
	return s, err
}

// WriteStore overwrites the card store regardless of its revision.
func (db *DB) WriteStore(ctx context.Context, s *domain.Store) error {
	raw, err := cardstore.Encode(s)
	if err != nil {
		return fmt.Errorf("failed to encode card store: %w", err)
	}
	return db.put(ctx, keyFlashcards, raw)
}

// ReadWordFreq returns the word-frequency table, empty if none is stored.
func (db *DB) ReadWordFreq(ctx context.Context) (domain.WordFreq, error) {
	raw, _, err := db.get(ctx, keyWordFreq)
	if err != nil {
		return nil, err
	}
	return decodeWordFreq(raw), nil
}

// WriteWordFreq overwrites the word-frequency table.
func (db *DB) WriteWordFreq(ctx context.Context, wf domain.WordFreq) error {
	raw, err := encodeWordFreq(wf)
	if err != nil {
		return err
	}
	return db.put(ctx, keyWordFreq, raw)
}

func (db *DB) get(ctx context.Context, key string) ([]byte, int64, error) {
	var (
		value string
		rev   int64
	)
	err := db.conn.QueryRowContext(ctx, `SELECT value, rev FROM kv WHERE key = ?`, key).Scan(&value, &rev)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return []byte(value), rev, nil
}

func (db *DB) put(ctx context.Context, key string, value []byte) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO kv (key, value, rev, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(key) DO UPDATE
		SET value = excluded.value, rev = kv.rev + 1, updated_at = excluded.updated_at
	`, key, string(value), db.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (db *DB) compareAndSwap(ctx context.Context, key string, value []byte, expect int64) (int64, error) {
	if expect == 0 {
		res, err := db.conn.ExecContext(ctx, `
			INSERT INTO kv (key, value, rev, updated_at) VALUES (?, ?, 1, ?)
			ON CONFLICT(key) DO NOTHING
		`, key, string(value), db.now().UnixMilli())
		if err != nil {
			return 0, fmt.Errorf("failed to write %s: %w", key, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return 0, cardstore.ErrConflict
		}
		return 1, nil
	}

	var rev int64
	err := db.conn.QueryRowContext(ctx, `
		UPDATE kv SET value = ?, rev = rev + 1, updated_at = ?
		WHERE key = ? AND rev = ?
		RETURNING rev
	`, string(value), db.now().UnixMilli(), key, expect).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, cardstore.ErrConflict
	}
	if err != nil {
		return 0, fmt.Errorf("failed to write %s: %w", key, err)
	}
	return rev, nil
}

func decodeWordFreq(raw []byte) domain.WordFreq {
	wf := domain.WordFreq{}
	if len(raw) == 0 {
		return wf
	}
	if err := json.Unmarshal(raw, &wf); err != nil || wf == nil {
		return domain.WordFreq{}
	}
	return wf
}

func encodeWordFreq(wf domain.WordFreq) ([]byte, error) {
	if wf == nil {
		wf = domain.WordFreq{}
	}
	raw, err := json.Marshal(wf)
	if err != nil {
		return nil, fmt.Errorf("failed to encode word frequencies: %w", err)
	}
	return raw, nil
}
