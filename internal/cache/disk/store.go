// Package disk provides a filesystem bucket storage.
//
// Layout:
//
//	<root>/<escaped bucket name>/<entry hash>.json
//
// Each file holds the entry encoded by cache.Pack, so bodies are zstd
// compressed at rest. Writes go to a temp file that is renamed into place.
package disk

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/charlievieth/fastwalk"

	"github.com/GriffinCanCode/shellcache/internal/cache"
	"github.com/GriffinCanCode/shellcache/internal/shared/utils"
)

const entryExt = ".json"

var entryNames = utils.NewHasher(utils.SHA256, 16)

// Store keeps one directory per bucket under root
type Store struct {
	root string
	mu   sync.RWMutex
}

// Open creates root if needed and returns a store rooted there
func Open(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	clean := filepath.Clean(root)
	if err := os.MkdirAll(clean, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &Store{root: clean}, nil
}

// bucketDir maps name to a directory directly under root. Names that would
// resolve to root itself or outside it are rejected.
func (s *Store) bucketDir(name string) (string, error) {
	if name == "" {
		return "", cache.ErrInvalidName
	}
	dir := filepath.Join(s.root, url.PathEscape(name))
	if filepath.Dir(dir) != s.root {
		return "", fmt.Errorf("%w: %q", cache.ErrInvalidName, name)
	}
	return dir, nil
}

// Open returns the named bucket, creating its directory if absent
func (s *Store) Open(ctx context.Context, name string) (cache.Bucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := s.bucketDir(name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create bucket %q: %w", name, err)
	}
	return &Bucket{store: s, name: name, dir: dir}, nil
}

// Lookup returns the named bucket if its directory exists
func (s *Store) Lookup(ctx context.Context, name string) (cache.Bucket, error) {
	ok, err := s.Has(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, cache.ErrNoBucket
	}
	dir, err := s.bucketDir(name)
	if err != nil {
		return nil, err
	}
	return &Bucket{store: s, name: name, dir: dir}, nil
}

// Has reports whether the named bucket directory exists
func (s *Store) Has(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	dir, err := s.bucketDir(name)
	if err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

// Keys returns bucket names in ascending order
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	dirents, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list buckets: %w", err)
	}

	names := make([]string, 0, len(dirents))
	for _, d := range dirents {
		if !d.IsDir() {
			continue
		}
		name, err := url.PathUnescape(d.Name())
		if err != nil {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes the bucket directory
func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	dir, err := s.bucketDir(name)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("failed to delete bucket %q: %w", name, err)
	}
	return true, nil
}

// Close is a no-op
func (s *Store) Close() error {
	return nil
}

// Usage summarises the on-disk footprint of one bucket
type Usage struct {
	Entries int64 `json:"entries"`
	Bytes   int64 `json:"bytes"`
}

// Usage walks the bucket directory and totals its entry files
func (s *Store) Usage(name string) (Usage, error) {
	dir, err := s.bucketDir(name)
	if err != nil {
		return Usage{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries, bytes atomic.Int64
	conf := fastwalk.Config{Follow: false}
	err = fastwalk.Walk(&conf, dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != entryExt {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		entries.Add(1)
		bytes.Add(info.Size())
		return nil
	})
	if err != nil {
		return Usage{}, fmt.Errorf("failed to walk bucket %q: %w", name, err)
	}
	return Usage{Entries: entries.Load(), Bytes: bytes.Load()}, nil
}

// Bucket is a directory of entry files
type Bucket struct {
	store *Store
	name  string
	dir   string
}

// Name returns the bucket name
func (b *Bucket) Name() string {
	return b.name
}

func (b *Bucket) entryPath(key string) string {
	return filepath.Join(b.dir, entryNames.HashString(key)+entryExt)
}

// Match reads the entry stored under key
func (b *Bucket) Match(ctx context.Context, key string) (*cache.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.store.mu.RLock()
	defer b.store.mu.RUnlock()

	data, err := os.ReadFile(b.entryPath(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read entry: %w", err)
	}

	entry, err := cache.Unpack(data)
	if err != nil {
		return nil, err
	}
	// Hash collisions are treated as misses
	if entry.Key != key {
		return nil, cache.ErrNotFound
	}
	return entry, nil
}

// Put writes entry atomically
func (b *Bucket) Put(ctx context.Context, entry *cache.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := cache.Pack(entry)
	if err != nil {
		return err
	}

	b.store.mu.Lock()
	defer b.store.mu.Unlock()

	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create bucket %q: %w", b.name, err)
	}
	path := b.entryPath(entry.Key)
	tmp, err := os.CreateTemp(b.dir, ".entry-*")
	if err != nil {
		return fmt.Errorf("failed to create temp entry: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close entry: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to commit entry: %w", err)
	}
	return nil
}

// Keys decodes every entry file and returns their keys
func (b *Bucket) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.store.mu.RLock()
	defer b.store.mu.RUnlock()

	dirents, err := os.ReadDir(b.dir)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}

	keys := make([]string, 0, len(dirents))
	for _, d := range dirents {
		if d.IsDir() || filepath.Ext(d.Name()) != entryExt {
			continue
		}
		data, err := os.ReadFile(filepath.Join(b.dir, d.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read entry: %w", err)
		}
		entry, err := cache.Unmarshal(data)
		if err != nil {
			return nil, err
		}
		keys = append(keys, entry.Key)
	}
	sort.Strings(keys)
	return keys, nil
}
