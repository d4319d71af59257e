package database

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"iptracker/internal/domain"
)

// CreateRequestLog appends one entry. Values are clipped to their column
// sizes and the timestamp is stored in UTC.
func (s *Store) CreateRequestLog(ctx context.Context, entry *domain.RequestLog) error {
	db, err := s.conn(ctx)
	if err != nil {
		return persistenceError("create request log", err)
	}

	entry.Truncate()
	entry.Timestamp = entry.Timestamp.UTC()

	if err := db.Create(entry).Error; err != nil {
		return persistenceError("create request log", err)
	}
	return nil
}

// StreamRequestLogsSince feeds every entry with Timestamp >= since to fn in
// batches of batchSize. Returning an error from fn stops the iteration.
func (s *Store) StreamRequestLogsSince(ctx context.Context, since time.Time, batchSize int, fn func([]domain.RequestLog) error) error {
	db, err := s.conn(ctx)
	if err != nil {
		return persistenceError("stream request logs", err)
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	var batch []domain.RequestLog
	result := db.Model(&domain.RequestLog{}).
		Select("id", "ip_address", "path", "timestamp").
		Where(clause.Gte{Column: clause.Column{Name: "timestamp"}, Value: since.UTC()}).
		FindInBatches(&batch, batchSize, func(tx *gorm.DB, _ int) error {
			return fn(batch)
		})
	if result.Error != nil {
		return persistenceError("stream request logs", result.Error)
	}
	return nil
}

// ListRequestLogs returns the newest entries, optionally for a single address.
func (s *Store) ListRequestLogs(ctx context.Context, ip string, limit int) ([]domain.RequestLog, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, persistenceError("list request logs", err)
	}

	query := db.Model(&domain.RequestLog{})
	if ip != "" {
		query = query.Where("ip_address = ?", ip)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var logs []domain.RequestLog
	if err := query.Order(clause.OrderByColumn{Column: clause.Column{Name: "timestamp"}, Desc: true}).Order("id DESC").Find(&logs).Error; err != nil {
		return nil, persistenceError("list request logs", err)
	}
	return logs, nil
}
