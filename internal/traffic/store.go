package traffic

import (
	"context"
	"errors"
	"time"

	"sentinel/internal/domain"
)

var (
	// ErrForbiddenAdminTarget is returned when a block targets an identity that
	// is currently tagged as an administrator.
	ErrForbiddenAdminTarget = errors.New("traffic: target belongs to an administrator")

	// ErrPersistenceUnavailable wraps store failures on administrative
	// operations. Admission keeps serving from the in-memory sets regardless.
	ErrPersistenceUnavailable = errors.New("traffic: persistent store unavailable")

	// ErrNotFound is returned by store lookups that target a missing record.
	ErrNotFound = errors.New("traffic: record not found")
)

// Store is the durable side of the engine: blocked IPs, blocked devices,
// device fingerprints, the request log, suspicious events and the geo cache.
type Store interface {
	ListBlockedIPs(ctx context.Context) ([]domain.BlockedIP, error)
	UpsertBlockedIP(ctx context.Context, rec domain.BlockedIP) error
	DeleteBlockedIP(ctx context.Context, ip string) error

	ListBlockedDevices(ctx context.Context) ([]domain.BlockedDevice, error)
	GetBlockedDevice(ctx context.Context, fpHash string) (*domain.BlockedDevice, error)
	UpsertBlockedDevice(ctx context.Context, rec domain.BlockedDevice) error
	UpdateBlockedDeviceReason(ctx context.Context, fpHash, reason string) error
	DeleteBlockedDevice(ctx context.Context, fpHash string) error

	GetDeviceFingerprint(ctx context.Context, fpHash string) (*domain.DeviceFingerprint, error)
	UpsertDeviceFingerprint(ctx context.Context, rec domain.DeviceFingerprint) error

	InsertTrafficLog(ctx context.Context, row domain.TrafficLog) error
	RecentTrafficLogs(ctx context.Context, ip string, limit int) ([]domain.TrafficLog, error)
	CountTrafficLogsSince(ctx context.Context, since time.Time) (int64, error)

	InsertSuspiciousEvent(ctx context.Context, evt domain.SuspiciousEvent) error
	CountSuspiciousEventsSince(ctx context.Context, since time.Time) (int64, error)

	CountBlockedIPs(ctx context.Context) (int64, error)

	GetGeoCache(ctx context.Context, ip string) (*domain.GeoCacheEntry, error)
	UpsertGeoCache(ctx context.Context, entry domain.GeoCacheEntry) error
}
