// Package sqlite provides a SQLite-backed bucket storage.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	_ "modernc.org/sqlite"

	"github.com/GriffinCanCode/shellcache/internal/cache"
)

const schema = `
CREATE TABLE IF NOT EXISTS buckets (
	name       TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
	bucket    TEXT NOT NULL,
	key       TEXT NOT NULL,
	method    TEXT NOT NULL,
	url       TEXT NOT NULL,
	status    INTEGER NOT NULL,
	header    BLOB NOT NULL,
	body      BLOB,
	stored_at INTEGER NOT NULL,
	PRIMARY KEY (bucket, key)
);
`

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store persists buckets in SQLite
type Store struct {
	sqlDB *sql.DB
}

// Open opens a SQLite store and creates its schema
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := "file:" + cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Open returns the named bucket, inserting it if absent
func (s *Store) Open(ctx context.Context, name string) (cache.Bucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, cache.ErrInvalidName
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO buckets (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		name, toMillis(time.Now()),
	)
	if err != nil {
		return nil, fmt.Errorf("open bucket %q: %w", name, err)
	}
	return &Bucket{sqlDB: s.sqlDB, name: name}, nil
}

// Lookup returns the named bucket without inserting it
func (s *Store) Lookup(ctx context.Context, name string) (cache.Bucket, error) {
	ok, err := s.Has(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, cache.ErrNoBucket
	}
	return &Bucket{sqlDB: s.sqlDB, name: name}, nil
}

// Has reports whether the named bucket exists
func (s *Store) Has(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var found int
	err := s.sqlDB.QueryRowContext(ctx, `SELECT 1 FROM buckets WHERE name = ?`, name).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup bucket %q: %w", name, err)
	}
	return true, nil
}

// Keys returns bucket names in ascending order
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT name FROM buckets ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Delete removes the bucket and its entries in one transaction
func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE bucket = ?`, name); err != nil {
		return false, fmt.Errorf("delete entries of %q: %w", name, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM buckets WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("delete bucket %q: %w", name, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete bucket %q: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete: %w", err)
	}
	return affected > 0, nil
}

// Bucket is a row set in the entries table
type Bucket struct {
	sqlDB *sql.DB
	name  string
}

// Name returns the bucket name
func (b *Bucket) Name() string {
	return b.name
}

// Match returns the entry stored under key
func (b *Bucket) Match(ctx context.Context, key string) (*cache.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		entry    cache.Entry
		header   []byte
		storedAt int64
	)
	err := b.sqlDB.QueryRowContext(ctx,
		`SELECT key, method, url, status, header, body, stored_at FROM entries WHERE bucket = ? AND key = ?`,
		b.name, key,
	).Scan(&entry.Key, &entry.Method, &entry.URL, &entry.Status, &header, &entry.Body, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("match entry: %w", err)
	}

	entry.Header = make(http.Header)
	if err := sonic.Unmarshal(header, &entry.Header); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	entry.StoredAt = fromMillis(storedAt)
	return &entry, nil
}

// Put upserts entry under entry.Key. The bucket row is recreated if a
// concurrent delete removed it.
func (b *Bucket) Put(ctx context.Context, entry *cache.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	header, err := sonic.Marshal(entry.Header)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	tx, err := b.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO buckets (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		b.name, toMillis(time.Now()),
	); err != nil {
		return fmt.Errorf("ensure bucket %q: %w", b.name, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO entries (bucket, key, method, url, status, header, body, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(bucket, key) DO UPDATE SET
			method = excluded.method,
			url = excluded.url,
			status = excluded.status,
			header = excluded.header,
			body = excluded.body,
			stored_at = excluded.stored_at`,
		b.name, entry.Key, entry.Method, entry.URL, entry.Status, header, entry.Body, toMillis(entry.StoredAt),
	); err != nil {
		return fmt.Errorf("put entry: %w", err)
	}
	return tx.Commit()
}

// Keys returns the entry keys in ascending order
func (b *Bucket) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := b.sqlDB.QueryContext(ctx, `SELECT key FROM entries WHERE bucket = ? ORDER BY key`, b.name)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
