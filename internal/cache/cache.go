package cache

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a bucket holds no entry for a key
	ErrNotFound = errors.New("cache entry not found")
	// ErrInvalidName is returned for bucket names a backend cannot store
	ErrInvalidName = errors.New("invalid bucket name")
	// ErrNoBucket is returned by Lookup when the named bucket does not exist
	ErrNoBucket = errors.New("bucket not found")
)

// Storage manages named buckets
type Storage interface {
	// Open returns the named bucket, creating it if absent
	Open(ctx context.Context, name string) (Bucket, error)
	// Lookup returns the named bucket or ErrNoBucket, never creating it
	Lookup(ctx context.Context, name string) (Bucket, error)
	// Has reports whether the named bucket exists
	Has(ctx context.Context, name string) (bool, error)
	// Keys returns all bucket names in ascending order
	Keys(ctx context.Context) ([]string, error)
	// Delete removes the named bucket and reports whether it existed
	Delete(ctx context.Context, name string) (bool, error)
	// Close releases backend resources
	Close() error
}

// Bucket stores entries for one cache version
type Bucket interface {
	Name() string
	// Match returns the entry stored under key or ErrNotFound
	Match(ctx context.Context, key string) (*Entry, error)
	// Put stores entry under entry.Key, overwriting any previous value
	Put(ctx context.Context, entry *Entry) error
	// Keys returns the entry keys in ascending order
	Keys(ctx context.Context) ([]string, error)
}

// PutAll stores every entry or returns the first error
func PutAll(ctx context.Context, bucket Bucket, entries []*Entry) error {
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := bucket.Put(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}
