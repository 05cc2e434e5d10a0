package storage

const schema = `
-- The 'kv' table holds whole JSON documents: the card store and the
-- word-frequency table. 'rev' increases on every write.
CREATE TABLE IF NOT EXISTS kv (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    rev INTEGER NOT NULL DEFAULT 1,
    updated_at INTEGER NOT NULL
);

-- The 'sources' table tracks where imported cards came from, either a local
-- directory or a git repository.
CREATE TABLE IF NOT EXISTS sources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT NOT NULL UNIQUE,
    last_scanned DATETIME
);
`

const (
	keyFlashcards = "flashcards"
	keyWordFreq   = "wordFreq"
)
