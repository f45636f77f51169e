package dedup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/AnyUserName/avifbatch/internal/hasher"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS conversions (
    digest        TEXT PRIMARY KEY,
    output_path   TEXT NOT NULL,
    output_digest TEXT NOT NULL DEFAULT '',
    settings      TEXT NOT NULL,
    created_at    TEXT NOT NULL
)`

// Caches created before output digests were recorded lack the column.
const sqliteAddOutputDigest = `ALTER TABLE conversions ADD COLUMN output_digest TEXT NOT NULL DEFAULT ''`

type sqliteStore struct {
	db *sql.DB
}

func openSQLite(path string) (*sqliteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	if _, err := db.Exec(sqliteAddOutputDigest); err != nil && !strings.Contains(err.Error(), "duplicate column") {
		_ = db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Get(d hasher.Digest) (Entry, bool, error) {
	var (
		e       Entry
		created string
	)
	err := s.db.QueryRowContext(context.Background(),
		`SELECT digest, output_path, output_digest, settings, created_at FROM conversions WHERE digest = ?`, string(d),
	).Scan(&e.Digest, &e.OutputPath, &e.OutputDigest, &e.Settings, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	e.Timestamp, _ = time.Parse(time.RFC3339Nano, created)
	return e, true, nil
}

func (s *sqliteStore) Put(e Entry) error {
	_, err := s.db.ExecContext(context.Background(),
		`INSERT INTO conversions (digest, output_path, output_digest, settings, created_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(digest) DO UPDATE SET
            output_path   = excluded.output_path,
            output_digest = excluded.output_digest,
            settings      = excluded.settings,
            created_at    = excluded.created_at`,
		string(e.Digest), e.OutputPath, string(e.OutputDigest), e.Settings, e.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) List() ([]Entry, error) {
	rows, err := s.db.QueryContext(context.Background(),
		`SELECT digest, output_path, output_digest, settings, created_at FROM conversions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			created string
		)
		if err := rows.Scan(&e.Digest, &e.OutputPath, &e.OutputDigest, &e.Settings, &created); err != nil {
			return nil, err
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Clear() error {
	_, err := s.db.ExecContext(context.Background(), `DELETE FROM conversions`)
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
