package database

import (
	"context"

	"gorm.io/gorm/clause"

	"iptracker/internal/domain"
)

// ListBlockedIPs returns every blocked address as stored.
func (s *Store) ListBlockedIPs(ctx context.Context) ([]string, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, persistenceError("list blocked ips", err)
	}

	var ips []string
	if err := db.Model(&domain.BlockedIP{}).Pluck("ip_address", &ips).Error; err != nil {
		return nil, persistenceError("list blocked ips", err)
	}
	return ips, nil
}

// ListBlockedIPEntries returns the full rows, newest first.
func (s *Store) ListBlockedIPEntries(ctx context.Context) ([]domain.BlockedIP, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, persistenceError("list blocked ip entries", err)
	}

	var entries []domain.BlockedIP
	if err := db.Order("created_at DESC").Order("id DESC").Find(&entries).Error; err != nil {
		return nil, persistenceError("list blocked ip entries", err)
	}
	return entries, nil
}

// HasBlockedIP reports whether a row for ip exists.
func (s *Store) HasBlockedIP(ctx context.Context, ip string) (bool, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return false, persistenceError("check blocked ip", err)
	}

	var count int64
	if err := db.Model(&domain.BlockedIP{}).Where("ip_address = ?", ip).Limit(1).Count(&count).Error; err != nil {
		return false, persistenceError("check blocked ip", err)
	}
	return count > 0, nil
}

// CreateBlockedIP inserts ip unless it is already present. created reports
// whether a new row was written.
func (s *Store) CreateBlockedIP(ctx context.Context, ip string) (bool, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return false, persistenceError("create blocked ip", err)
	}

	entry := domain.BlockedIP{IPAddress: ip}
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ip_address"}},
		DoNothing: true,
	}).Create(&entry)
	if result.Error != nil {
		return false, persistenceError("create blocked ip", result.Error)
	}
	return result.RowsAffected == 1, nil
}
