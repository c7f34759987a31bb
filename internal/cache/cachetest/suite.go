// Package cachetest provides a conformance suite for cache.Storage backends.
package cachetest

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/shellcache/internal/cache"
	"github.com/GriffinCanCode/shellcache/internal/shared/types"
)

// Factory returns a fresh, empty storage for one subtest
type Factory func(t *testing.T) cache.Storage

// NewEntry builds an entry for a GET of rawURL with the given body
func NewEntry(rawURL, body string) *cache.Entry {
	req := types.NewRequest(http.MethodGet, rawURL)
	resp := &types.Response{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
		Body:   []byte(body),
	}
	return cache.NewEntry(req, resp)
}

// Run exercises the Storage contract against a backend
func Run(t *testing.T, newStorage Factory) {
	t.Helper()

	t.Run("open creates bucket", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()

		has, err := s.Has(ctx, "v1")
		require.NoError(t, err)
		assert.False(t, has)

		b, err := s.Open(ctx, "v1")
		require.NoError(t, err)
		assert.Equal(t, "v1", b.Name())

		has, err = s.Has(ctx, "v1")
		require.NoError(t, err)
		assert.True(t, has)
	})

	t.Run("open rejects empty name", func(t *testing.T) {
		s := newStorage(t)
		_, err := s.Open(context.Background(), "")
		assert.ErrorIs(t, err, cache.ErrInvalidName)
	})

	t.Run("open is idempotent", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()

		first, err := s.Open(ctx, "v1")
		require.NoError(t, err)
		require.NoError(t, first.Put(ctx, NewEntry("https://app.local/a.js", "a")))

		second, err := s.Open(ctx, "v1")
		require.NoError(t, err)
		entry, err := second.Match(ctx, cache.Key(http.MethodGet, "https://app.local/a.js"))
		require.NoError(t, err)
		assert.Equal(t, "a", string(entry.Body))
	})

	t.Run("match miss", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()

		b, err := s.Open(ctx, "v1")
		require.NoError(t, err)
		_, err = b.Match(ctx, cache.Key(http.MethodGet, "https://app.local/missing"))
		assert.ErrorIs(t, err, cache.ErrNotFound)
	})

	t.Run("put then match round trips", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()

		b, err := s.Open(ctx, "v1")
		require.NoError(t, err)

		want := NewEntry("https://app.local/index.html", "<html>shell</html>")
		want.Header.Set("X-Test", "yes")
		require.NoError(t, b.Put(ctx, want))

		got, err := b.Match(ctx, want.Key)
		require.NoError(t, err)
		assert.Equal(t, want.Key, got.Key)
		assert.Equal(t, want.Method, got.Method)
		assert.Equal(t, want.URL, got.URL)
		assert.Equal(t, http.StatusOK, got.Status)
		assert.Equal(t, "yes", got.Header.Get("X-Test"))
		assert.Equal(t, want.Body, got.Body)
		assert.WithinDuration(t, want.StoredAt, got.StoredAt, time.Second)
	})

	t.Run("put overwrites", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()

		b, err := s.Open(ctx, "v1")
		require.NoError(t, err)
		require.NoError(t, b.Put(ctx, NewEntry("https://app.local/a.js", "old")))
		require.NoError(t, b.Put(ctx, NewEntry("https://app.local/a.js", "new")))

		got, err := b.Match(ctx, cache.Key(http.MethodGet, "https://app.local/a.js"))
		require.NoError(t, err)
		assert.Equal(t, "new", string(got.Body))

		keys, err := b.Keys(ctx)
		require.NoError(t, err)
		assert.Len(t, keys, 1)
	})

	t.Run("empty body", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()

		b, err := s.Open(ctx, "v1")
		require.NoError(t, err)
		require.NoError(t, b.Put(ctx, NewEntry("https://app.local/empty", "")))

		got, err := b.Match(ctx, cache.Key(http.MethodGet, "https://app.local/empty"))
		require.NoError(t, err)
		assert.Empty(t, got.Body)
	})

	t.Run("buckets are isolated", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()

		v1, err := s.Open(ctx, "v1")
		require.NoError(t, err)
		v2, err := s.Open(ctx, "v2")
		require.NoError(t, err)

		require.NoError(t, v1.Put(ctx, NewEntry("https://app.local/a.js", "a")))
		_, err = v2.Match(ctx, cache.Key(http.MethodGet, "https://app.local/a.js"))
		assert.ErrorIs(t, err, cache.ErrNotFound)
	})

	t.Run("keys are sorted", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()

		for _, name := range []string{"v3", "v1", "v2"} {
			_, err := s.Open(ctx, name)
			require.NoError(t, err)
		}
		names, err := s.Keys(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"v1", "v2", "v3"}, names)

		b, err := s.Open(ctx, "v1")
		require.NoError(t, err)
		require.NoError(t, b.Put(ctx, NewEntry("https://app.local/b", "b")))
		require.NoError(t, b.Put(ctx, NewEntry("https://app.local/a", "a")))
		keys, err := b.Keys(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{
			cache.Key(http.MethodGet, "https://app.local/a"),
			cache.Key(http.MethodGet, "https://app.local/b"),
		}, keys)
	})

	t.Run("delete removes bucket and entries", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()

		b, err := s.Open(ctx, "old")
		require.NoError(t, err)
		require.NoError(t, b.Put(ctx, NewEntry("https://app.local/a.js", "a")))

		deleted, err := s.Delete(ctx, "old")
		require.NoError(t, err)
		assert.True(t, deleted)

		has, err := s.Has(ctx, "old")
		require.NoError(t, err)
		assert.False(t, has)

		reopened, err := s.Open(ctx, "old")
		require.NoError(t, err)
		_, err = reopened.Match(ctx, cache.Key(http.MethodGet, "https://app.local/a.js"))
		assert.ErrorIs(t, err, cache.ErrNotFound)
	})

	t.Run("lookup never creates", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()

		_, err := s.Lookup(ctx, "gone")
		assert.ErrorIs(t, err, cache.ErrNoBucket)
		has, err := s.Has(ctx, "gone")
		require.NoError(t, err)
		assert.False(t, has)
		names, err := s.Keys(ctx)
		require.NoError(t, err)
		assert.Empty(t, names)

		b, err := s.Open(ctx, "v1")
		require.NoError(t, err)
		require.NoError(t, b.Put(ctx, NewEntry("https://app.local/a.js", "a")))

		found, err := s.Lookup(ctx, "v1")
		require.NoError(t, err)
		assert.Equal(t, "v1", found.Name())
		keys, err := found.Keys(ctx)
		require.NoError(t, err)
		assert.Len(t, keys, 1)

		_, err = s.Delete(ctx, "v1")
		require.NoError(t, err)
		_, err = s.Lookup(ctx, "v1")
		assert.ErrorIs(t, err, cache.ErrNoBucket)
		has, err = s.Has(ctx, "v1")
		require.NoError(t, err)
		assert.False(t, has)
	})

	t.Run("delete missing bucket", func(t *testing.T) {
		s := newStorage(t)
		deleted, err := s.Delete(context.Background(), "nope")
		require.NoError(t, err)
		assert.False(t, deleted)
	})
}
