// Package store opens the configured kv.Store driver.
package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/aussiebroadwan/sessionguard/internal/store/drivers/bolt"
	"github.com/aussiebroadwan/sessionguard/internal/store/drivers/memory"
	"github.com/aussiebroadwan/sessionguard/internal/store/drivers/sqlite"
	"github.com/aussiebroadwan/sessionguard/pkg/kv"
)

const (
	DriverSQLite = "sqlite"
	DriverBolt   = "bolt"
	DriverMemory = "memory"
)

// Open returns a ready to use store for driver. File backed drivers create
// the parent directory of path when missing.
func Open(driver, path string) (kv.Store, error) {
	switch driver {
	case DriverMemory:
		return memory.NewStore(), nil
	case DriverBolt, DriverSQLite:
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	if driver == DriverBolt {
		return bolt.NewStore(path)
	}

	db, err := sqlite.NewStore(sqlite.DSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}
	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	return db, nil
}
