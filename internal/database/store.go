package database

import (
	"context"

	"gorm.io/gorm"
)

const DefaultBatchSize = 500

// Store groups the repositories used by the tracking components. A Store
// built with a nil connection falls back to the package level DB.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) conn(ctx context.Context) (*gorm.DB, error) {
	db := DB
	if s != nil && s.db != nil {
		db = s.db
	}
	if db == nil {
		return nil, ErrNotInitialised
	}
	if ctx != nil {
		db = db.WithContext(ctx)
	}
	return db, nil
}

// Ping checks that the connection pool can reach the database.
func (s *Store) Ping(ctx context.Context) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return persistenceError("ping", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return persistenceError("ping", err)
	}
	return nil
}
