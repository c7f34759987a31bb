// Package memory provides a process-local bucket storage.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/GriffinCanCode/shellcache/internal/cache"
)

// Store keeps buckets in memory
type Store struct {
	mu      sync.RWMutex
	buckets map[string]*Bucket
}

// New creates an empty store
func New() *Store {
	return &Store{buckets: make(map[string]*Bucket)}
}

// Open returns the named bucket, creating it if absent
func (s *Store) Open(ctx context.Context, name string) (cache.Bucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, cache.ErrInvalidName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[name]
	if !ok {
		b = &Bucket{name: name, entries: make(map[string]*cache.Entry)}
		s.buckets[name] = b
	}
	return b, nil
}

// Lookup returns the named bucket without creating it
func (s *Store) Lookup(ctx context.Context, name string) (cache.Bucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.buckets[name]
	if !ok {
		return nil, cache.ErrNoBucket
	}
	return b, nil
}

// Has reports whether the named bucket exists
func (s *Store) Has(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.buckets[name]
	return ok, nil
}

// Keys returns bucket names in ascending order
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.buckets))
	for name := range s.buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes the named bucket
func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.buckets[name]
	delete(s.buckets, name)
	return ok, nil
}

// Close is a no-op
func (s *Store) Close() error {
	return nil
}

// Bucket is an in-memory bucket. Entries are copied on the way in and out.
type Bucket struct {
	name    string
	mu      sync.RWMutex
	entries map[string]*cache.Entry
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
	b.mu.RLock()
	defer b.mu.RUnlock()

	entry, ok := b.entries[key]
	if !ok {
		return nil, cache.ErrNotFound
	}
	return entry.Clone(), nil
}

// Put stores entry under entry.Key
func (b *Bucket) Put(ctx context.Context, entry *cache.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[entry.Key] = entry.Clone()
	return nil
}

// Keys returns the entry keys in ascending order
func (b *Bucket) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]string, 0, len(b.entries))
	for k := range b.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
