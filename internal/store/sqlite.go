// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: One database file holds multiple record tables with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	_ "modernc.org/sqlite"
)

// SQLiteDB wraps a SQLite database file that can host multiple record
// tables (e.g. the message log and the context log share one file).
type SQLiteDB struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) a SQLite database at the given
// path. Parent directories are created if needed.
func OpenSQLite(path string) (*SQLiteDB, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	logger.Info("SQLite store opened", "path", path)
	return &SQLiteDB{db: db, logger: logger}, nil
}

// Close releases the underlying database handle.
func (d *SQLiteDB) Close() error {
	return d.db.Close()
}

var tableNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Records returns a Store backed by the named table, creating the table
// if it does not exist. The seq column preserves insertion order across
// overwrites of the same primary key.
func (d *SQLiteDB) Records(table string) (*SQLiteStore, error) {
	if !tableNameRe.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			primary_key TEXT NOT NULL UNIQUE,
			secondary_key TEXT NOT NULL,
			payload TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_%[1]s_secondary_key
			ON %[1]s(secondary_key);
	`, table)

	if _, err := d.db.Exec(schema); err != nil {
		return nil, fmt.Errorf("creating table %s: %w", table, err)
	}

	return &SQLiteStore{
		db:     d.db,
		table:  table,
		logger: d.logger.With("table", table),
	}, nil
}

// SQLiteStore implements the Store interface over one table of a SQLiteDB.
type SQLiteStore struct {
	db     *sql.DB
	table  string
	logger *slog.Logger
}

// Create persists a record, overwriting on primary key conflict. The
// original seq is kept on overwrite so insertion order is stable.
func (s *SQLiteStore) Create(ctx context.Context, rec *Record) error {
	query := fmt.Sprintf(`
		INSERT INTO %[1]s (primary_key, secondary_key, payload)
		VALUES (?, ?, ?)
		ON CONFLICT(primary_key) DO UPDATE SET
			secondary_key = excluded.secondary_key,
			payload = excluded.payload
	`, s.table)

	_, err := s.db.ExecContext(ctx, query, rec.PrimaryKey, rec.SecondaryKey, string(rec.Payload))
	if err != nil {
		return fmt.Errorf("creating record %s: %w", rec.PrimaryKey, err)
	}
	return nil
}

// GetByID returns the record with the given primary key.
func (s *SQLiteStore) GetByID(ctx context.Context, primaryKey string) (*Record, error) {
	query := fmt.Sprintf(`
		SELECT primary_key, secondary_key, payload
		FROM %s WHERE primary_key = ?
	`, s.table)

	var rec Record
	var payload string
	err := s.db.QueryRowContext(ctx, query, primaryKey).Scan(
		&rec.PrimaryKey, &rec.SecondaryKey, &payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading record %s: %w", primaryKey, err)
	}
	rec.Payload = []byte(payload)
	return &rec, nil
}

// List returns a partition's records in insertion order.
func (s *SQLiteStore) List(ctx context.Context, secondaryKey string, limit, offset int) ([]*Record, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	if offset < 0 {
		offset = 0
	}
	query := fmt.Sprintf(`
		SELECT primary_key, secondary_key, payload
		FROM %s WHERE secondary_key = ?
		ORDER BY seq LIMIT ? OFFSET ?
	`, s.table)

	rows, err := s.db.QueryContext(ctx, query, secondaryKey, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing records for %s: %w", secondaryKey, err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// All returns every record in insertion order.
func (s *SQLiteStore) All(ctx context.Context) ([]*Record, error) {
	query := fmt.Sprintf(`
		SELECT primary_key, secondary_key, payload
		FROM %s ORDER BY seq
	`, s.table)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing all records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Update overwrites the record with the given primary key.
func (s *SQLiteStore) Update(ctx context.Context, rec *Record) error {
	return s.Create(ctx, rec)
}

// Delete removes the record with the given primary key.
func (s *SQLiteStore) Delete(ctx context.Context, primaryKey string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE primary_key = ?`, s.table)
	if _, err := s.db.ExecContext(ctx, query, primaryKey); err != nil {
		return fmt.Errorf("deleting record %s: %w", primaryKey, err)
	}
	return nil
}

func scanRecords(rows *sql.Rows) ([]*Record, error) {
	var records []*Record
	for rows.Next() {
		var rec Record
		var payload string
		if err := rows.Scan(&rec.PrimaryKey, &rec.SecondaryKey, &payload); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		rec.Payload = []byte(payload)
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}
	return records, nil
}
