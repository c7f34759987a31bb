// Package redis provides a Redis-backed bucket storage.
//
// Keys:
//
//	<prefix>:buckets        set of bucket names
//	<prefix>:bucket:<name>  hash of entry key -> packed entry
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/GriffinCanCode/shellcache/internal/cache"
)

// Config holds Redis connection configuration.
type Config struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// ErrEmptyAddress is returned when Redis address is not configured.
var ErrEmptyAddress = errors.New("redis address is required")

// connectionTimeout is the timeout for verifying Redis connection.
const connectionTimeout = 5 * time.Second

const defaultPrefix = "shellcache"

// Store keeps buckets in Redis hashes
type Store struct {
	client *redis.Client
	prefix string
}

// Open connects to Redis and verifies the connection
func Open(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddress
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return New(client, cfg.Prefix), nil
}

// New wraps an existing client
func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) setKey() string {
	return s.prefix + ":buckets"
}

func (s *Store) hashKey(name string) string {
	return s.prefix + ":bucket:" + name
}

// Open returns the named bucket, registering it if absent
func (s *Store) Open(ctx context.Context, name string) (cache.Bucket, error) {
	if name == "" {
		return nil, cache.ErrInvalidName
	}
	if err := s.client.SAdd(ctx, s.setKey(), name).Err(); err != nil {
		return nil, fmt.Errorf("open bucket %q: %w", name, err)
	}
	return &Bucket{store: s, name: name}, nil
}

// Lookup returns the named bucket without registering it
func (s *Store) Lookup(ctx context.Context, name string) (cache.Bucket, error) {
	ok, err := s.Has(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, cache.ErrNoBucket
	}
	return &Bucket{store: s, name: name}, nil
}

// Has reports whether the named bucket exists
func (s *Store) Has(ctx context.Context, name string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.setKey(), name).Result()
	if err != nil {
		return false, fmt.Errorf("lookup bucket %q: %w", name, err)
	}
	return ok, nil
}

// Keys returns bucket names in ascending order
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, s.setKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes the bucket hash and its registration atomically
func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	var removed *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.hashKey(name))
		removed = pipe.SRem(ctx, s.setKey(), name)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete bucket %q: %w", name, err)
	}
	return removed.Val() > 0, nil
}

// Close closes the Redis client
func (s *Store) Close() error {
	return s.client.Close()
}

// Bucket is one Redis hash
type Bucket struct {
	store *Store
	name  string
}

// Name returns the bucket name
func (b *Bucket) Name() string {
	return b.name
}

// Match returns the entry stored under key
func (b *Bucket) Match(ctx context.Context, key string) (*cache.Entry, error) {
	data, err := b.store.client.HGet(ctx, b.store.hashKey(b.name), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("match entry: %w", err)
	}
	return cache.Unpack(data)
}

// Put stores entry under entry.Key
func (b *Bucket) Put(ctx context.Context, entry *cache.Entry) error {
	data, err := cache.Pack(entry)
	if err != nil {
		return err
	}
	_, err = b.store.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, b.store.setKey(), b.name)
		pipe.HSet(ctx, b.store.hashKey(b.name), entry.Key, data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("put entry: %w", err)
	}
	return nil
}

// Keys returns the entry keys in ascending order
func (b *Bucket) Keys(ctx context.Context) ([]string, error) {
	keys, err := b.store.client.HKeys(ctx, b.store.hashKey(b.name)).Result()
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}
