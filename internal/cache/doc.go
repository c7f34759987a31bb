/*
Package cache provides versioned response buckets.

# Overview

A Storage holds named Buckets. Each bucket maps a request identity (method
plus normalised URL) to a stored response. Buckets have no eviction and no
expiry: a Put for an existing key overwrites it, and a bucket disappears
only when it is deleted by name.

# Backends

  - memory: process-local maps, the default
  - disk: one directory per bucket, JSON metadata plus zstd body files
  - sqlite: one table of entries keyed by (bucket, key)
  - redis: one hash per bucket plus a set of bucket names

# Usage

	storage := memory.New()
	bucket, err := storage.Open(ctx, "scoremaster-v13.0.0")
	if err != nil {
		return err
	}
	entry, err := bucket.Match(ctx, cache.Key(http.MethodGet, "https://app.local/"))
	if errors.Is(err, cache.ErrNotFound) {
		// miss
	}
*/
package cache
