package cache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Journal persists cache index metadata to SQLite so the index can be
// restored after a process restart. The blobs themselves live in the
// artifact store; the journal records only what the index knows.
type Journal struct {
	db *sql.DB
}

// OpenJournal opens (or creates) the journal database at path.
func OpenJournal(path string) (*Journal, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		err := os.MkdirAll(dir, dirPermissions)
		if err != nil {
			return nil, fmt.Errorf("failed to create journal directory '%s': %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache journal '%s': %w", path, err)
	}

	journal := &Journal{db: db}

	err = journal.initSchema()
	if err != nil {
		closeErr := db.Close()
		if closeErr != nil {
			return nil, fmt.Errorf("failed to initialize journal schema: %w (close: %v)", err, closeErr)
		}

		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}

	return journal, nil
}

const dirPermissions = 0o750

func (j *Journal) initSchema() error {
	ddl := `
CREATE TABLE IF NOT EXISTS cache_entries (
    fingerprint TEXT PRIMARY KEY,
    location TEXT NOT NULL,
    size INTEGER NOT NULL,
    voice_style TEXT,
    created_at INTEGER NOT NULL,
    last_access INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_last_access ON cache_entries(last_access);
`

	_, err := j.db.Exec(ddl)
	if err != nil {
		return fmt.Errorf("failed to create journal tables: %w", err)
	}

	return nil
}

// Upsert records a created or replaced cache entry.
func (j *Journal) Upsert(entry *Entry) error {
	_, err := j.db.Exec(`
INSERT INTO cache_entries (fingerprint, location, size, voice_style, created_at, last_access)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(fingerprint) DO UPDATE SET
    location = excluded.location,
    size = excluded.size,
    voice_style = excluded.voice_style,
    created_at = excluded.created_at,
    last_access = excluded.last_access
`,
		entry.Fingerprint,
		entry.Location,
		entry.Size,
		entry.VoiceStyle,
		entry.CreatedAt.UnixNano(),
		entry.LastAccess.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert journal entry for %s: %w", entry.Fingerprint, err)
	}

	return nil
}

// Touch records a successful read's last-access update.
func (j *Journal) Touch(fingerprint string, lastAccess time.Time) error {
	_, err := j.db.Exec(
		`UPDATE cache_entries SET last_access = ? WHERE fingerprint = ?`,
		lastAccess.UnixNano(),
		fingerprint,
	)
	if err != nil {
		return fmt.Errorf("failed to touch journal entry for %s: %w", fingerprint, err)
	}

	return nil
}

// Remove records an eviction or expiry.
func (j *Journal) Remove(fingerprint string) error {
	_, err := j.db.Exec(`DELETE FROM cache_entries WHERE fingerprint = ?`, fingerprint)
	if err != nil {
		return fmt.Errorf("failed to remove journal entry for %s: %w", fingerprint, err)
	}

	return nil
}

// Load returns all recorded entries ordered by last access, oldest first.
func (j *Journal) Load() ([]Entry, error) {
	rows, err := j.db.Query(`
SELECT fingerprint, location, size, voice_style, created_at, last_access
FROM cache_entries
ORDER BY last_access ASC
`)
	if err != nil {
		return nil, fmt.Errorf("failed to load journal entries: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var entries []Entry

	for rows.Next() {
		var (
			entry      Entry
			createdAt  int64
			lastAccess int64
		)

		err = rows.Scan(
			&entry.Fingerprint,
			&entry.Location,
			&entry.Size,
			&entry.VoiceStyle,
			&createdAt,
			&lastAccess,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}

		entry.CreatedAt = time.Unix(0, createdAt)
		entry.LastAccess = time.Unix(0, lastAccess)
		entries = append(entries, entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate journal entries: %w", err)
	}

	return entries, nil
}

// Close releases the underlying database handle.
func (j *Journal) Close() error {
	err := j.db.Close()
	if err != nil {
		return fmt.Errorf("failed to close cache journal: %w", err)
	}

	return nil
}
