package server

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/GriffinCanCode/shellcache/internal/cache"
	"github.com/GriffinCanCode/shellcache/internal/cache/disk"
	"github.com/GriffinCanCode/shellcache/internal/cache/memory"
	"github.com/GriffinCanCode/shellcache/internal/cache/redis"
	"github.com/GriffinCanCode/shellcache/internal/cache/sqlite"
	"github.com/GriffinCanCode/shellcache/internal/infrastructure/config"
)

// sqliteFile is the database file created under STORE_PATH
const sqliteFile = "shellcache.db"

// NewStorage opens the configured bucket backend
func NewStorage(cfg config.StoreConfig) (cache.Storage, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.New(), nil
	case config.BackendDisk:
		return disk.Open(cfg.Path)
	case config.BackendSQLite:
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
		return sqlite.Open(filepath.Join(cfg.Path, sqliteFile))
	case config.BackendRedis:
		return redis.Open(redis.Config{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
