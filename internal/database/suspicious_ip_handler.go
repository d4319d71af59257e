package database

import (
	"context"
	"time"

	"gorm.io/gorm/clause"

	"iptracker/internal/domain"
)

// UpsertSuspiciousIP records the latest verdict for ip, replacing reason and
// detection time of an existing row.
func (s *Store) UpsertSuspiciousIP(ctx context.Context, ip, reason string, detectedAt time.Time) error {
	db, err := s.conn(ctx)
	if err != nil {
		return persistenceError("upsert suspicious ip", err)
	}

	entry := domain.SuspiciousIP{
		IPAddress:  ip,
		Reason:     domain.ClipReason(reason),
		DetectedAt: detectedAt.UTC(),
	}

	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ip_address"}},
		DoUpdates: clause.AssignmentColumns([]string{"reason", "detected_at"}),
	}).Create(&entry).Error; err != nil {
		return persistenceError("upsert suspicious ip", err)
	}
	return nil
}

func (s *Store) ListSuspiciousIPs(ctx context.Context, limit int) ([]domain.SuspiciousIP, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, persistenceError("list suspicious ips", err)
	}

	query := db.Order("detected_at DESC").Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var entries []domain.SuspiciousIP
	if err := query.Find(&entries).Error; err != nil {
		return nil, persistenceError("list suspicious ips", err)
	}
	return entries, nil
}

func (s *Store) GetSuspiciousIP(ctx context.Context, ip string) (domain.SuspiciousIP, error) {
	var entry domain.SuspiciousIP

	db, err := s.conn(ctx)
	if err != nil {
		return entry, persistenceError("get suspicious ip", err)
	}

	if err := db.Where("ip_address = ?", ip).First(&entry).Error; err != nil {
		return entry, persistenceError("get suspicious ip", err)
	}
	return entry, nil
}
