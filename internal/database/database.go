package database

import (
	"fmt"

	"github.com/ksred/intent-settlement/internal/store"
	"github.com/ksred/intent-settlement/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase initializes and returns a new GORM DB connection.
//
// A non-empty path opens (or creates) a sqlite file, making the order store
// durable across restarts; a missing file is treated as an empty store, not an
// error. An empty path opens an in-memory database for ephemeral operation.
func NewDatabase(path string) (*gorm.DB, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dsn, err)
	}

	// An in-memory sqlite database exists per connection, so the pool must
	// stay at a single connection or queries land on empty databases.
	if path == "" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	err = db.AutoMigrate(
		&types.StoredOrderRecord{},
		&store.IdempotencyRecord{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}
