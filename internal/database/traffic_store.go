package database

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"sentinel/internal/domain"
	"sentinel/internal/traffic"
)

// TrafficStore is the gorm-backed implementation of the engine's store.
type TrafficStore struct {
	db *gorm.DB
}

func NewTrafficStore(db *gorm.DB) *TrafficStore {
	return &TrafficStore{db: db}
}

func (s *TrafficStore) ListBlockedIPs(ctx context.Context) ([]domain.BlockedIP, error) {
	var rows []domain.BlockedIP
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&rows).Error
	return rows, err
}

func (s *TrafficStore) UpsertBlockedIP(ctx context.Context, rec domain.BlockedIP) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "ip"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"reason", "blocked_by", "request_count", "country", "is_vpn", "log_snapshot",
		}),
	}).Create(&rec).Error
}

func (s *TrafficStore) DeleteBlockedIP(ctx context.Context, ip string) error {
	return s.db.WithContext(ctx).Where("ip = ?", ip).Delete(&domain.BlockedIP{}).Error
}

func (s *TrafficStore) ListBlockedDevices(ctx context.Context) ([]domain.BlockedDevice, error) {
	var rows []domain.BlockedDevice
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&rows).Error
	return rows, err
}

func (s *TrafficStore) GetBlockedDevice(ctx context.Context, fpHash string) (*domain.BlockedDevice, error) {
	var rec domain.BlockedDevice
	err := s.db.WithContext(ctx).Where("fingerprint_hash = ?", fpHash).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *TrafficStore) UpsertBlockedDevice(ctx context.Context, rec domain.BlockedDevice) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "fingerprint_hash"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"reason", "blocked_by", "components", "associated_ips",
		}),
	}).Create(&rec).Error
}

func (s *TrafficStore) UpdateBlockedDeviceReason(ctx context.Context, fpHash, reason string) error {
	result := s.db.WithContext(ctx).
		Model(&domain.BlockedDevice{}).
		Where("fingerprint_hash = ?", fpHash).
		Update("reason", reason)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return traffic.ErrNotFound
	}
	return nil
}

func (s *TrafficStore) DeleteBlockedDevice(ctx context.Context, fpHash string) error {
	return s.db.WithContext(ctx).
		Where("fingerprint_hash = ?", fpHash).
		Delete(&domain.BlockedDevice{}).Error
}

func (s *TrafficStore) GetDeviceFingerprint(ctx context.Context, fpHash string) (*domain.DeviceFingerprint, error) {
	var rec domain.DeviceFingerprint
	err := s.db.WithContext(ctx).Where("fingerprint_hash = ?", fpHash).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *TrafficStore) UpsertDeviceFingerprint(ctx context.Context, rec domain.DeviceFingerprint) error {
	now := time.Now()
	if rec.FirstSeenAt.IsZero() {
		rec.FirstSeenAt = now
	}
	rec.LastSeenAt = now

	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "fingerprint_hash"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"components", "ips", "last_seen_at",
		}),
	}).Create(&rec).Error
}

func (s *TrafficStore) InsertTrafficLog(ctx context.Context, row domain.TrafficLog) error {
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *TrafficStore) RecentTrafficLogs(ctx context.Context, ip string, limit int) ([]domain.TrafficLog, error) {
	var rows []domain.TrafficLog
	err := s.db.WithContext(ctx).
		Where("ip = ?", ip).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (s *TrafficStore) CountTrafficLogsSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&domain.TrafficLog{}).
		Where("created_at >= ?", since).
		Count(&count).Error
	return count, err
}

func (s *TrafficStore) InsertSuspiciousEvent(ctx context.Context, evt domain.SuspiciousEvent) error {
	return s.db.WithContext(ctx).Create(&evt).Error
}

func (s *TrafficStore) CountSuspiciousEventsSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&domain.SuspiciousEvent{}).
		Where("created_at >= ?", since).
		Count(&count).Error
	return count, err
}

func (s *TrafficStore) CountBlockedIPs(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&domain.BlockedIP{}).Count(&count).Error
	return count, err
}

func (s *TrafficStore) GetGeoCache(ctx context.Context, ip string) (*domain.GeoCacheEntry, error) {
	var entry domain.GeoCacheEntry
	err := s.db.WithContext(ctx).Where("ip = ?", ip).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *TrafficStore) UpsertGeoCache(ctx context.Context, entry domain.GeoCacheEntry) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "ip"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"country", "city", "is_vpn", "provider", "updated_at",
		}),
	}).Create(&entry).Error
}

// Dashboard reads, outside the engine's Store interface.

func (s *TrafficStore) ListTrafficLogs(ctx context.Context, limit, offset int, ipFilter string) ([]domain.TrafficLog, int64, error) {
	query := s.db.WithContext(ctx).Model(&domain.TrafficLog{})
	if ipFilter != "" {
		query = query.Where("ip = ?", ipFilter)
	} else {
		query = query.Where("ip NOT IN ?", traffic.NonRealIdentities())
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []domain.TrafficLog
	err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&rows).Error
	return rows, total, err
}

func (s *TrafficStore) ListTrafficLogsSince(ctx context.Context, since time.Time) ([]domain.TrafficLog, error) {
	var rows []domain.TrafficLog
	err := s.db.WithContext(ctx).
		Where("created_at >= ?", since).
		Order("created_at DESC").
		Find(&rows).Error
	return rows, err
}

func (s *TrafficStore) ListSuspiciousEvents(ctx context.Context, limit, offset int) ([]domain.SuspiciousEvent, error) {
	var rows []domain.SuspiciousEvent
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	return rows, err
}
