package traffic

import (
	"context"
	"errors"
	"sync"
	"time"

	"sentinel/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeStore is an in-memory Store for tests. Set failWrites to simulate a
// database outage.
type fakeStore struct {
	mu sync.Mutex

	blockedIPs     map[string]domain.BlockedIP
	blockedDevices map[string]domain.BlockedDevice
	fingerprints   map[string]domain.DeviceFingerprint
	trafficLogs    []domain.TrafficLog
	events         []domain.SuspiciousEvent
	geoCache       map[string]domain.GeoCacheEntry

	failWrites bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		blockedIPs:     make(map[string]domain.BlockedIP),
		blockedDevices: make(map[string]domain.BlockedDevice),
		fingerprints:   make(map[string]domain.DeviceFingerprint),
		geoCache:       make(map[string]domain.GeoCacheEntry),
	}
}

var errFakeWrite = errors.New("write failed")

func (s *fakeStore) writeErr() error {
	if s.failWrites {
		return errFakeWrite
	}
	return nil
}

func (s *fakeStore) ListBlockedIPs(context.Context) ([]domain.BlockedIP, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.BlockedIP, 0, len(s.blockedIPs))
	for _, rec := range s.blockedIPs {
		out = append(out, rec)
	}
	return out, nil
}

func (s *fakeStore) UpsertBlockedIP(_ context.Context, rec domain.BlockedIP) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr(); err != nil {
		return err
	}
	s.blockedIPs[rec.IP] = rec
	return nil
}

func (s *fakeStore) DeleteBlockedIP(_ context.Context, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr(); err != nil {
		return err
	}
	delete(s.blockedIPs, ip)
	return nil
}

func (s *fakeStore) ListBlockedDevices(context.Context) ([]domain.BlockedDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.BlockedDevice, 0, len(s.blockedDevices))
	for _, rec := range s.blockedDevices {
		out = append(out, rec)
	}
	return out, nil
}

func (s *fakeStore) GetBlockedDevice(_ context.Context, fpHash string) (*domain.BlockedDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, found := s.blockedDevices[fpHash]
	if !found {
		return nil, nil
	}
	return &rec, nil
}

func (s *fakeStore) UpsertBlockedDevice(_ context.Context, rec domain.BlockedDevice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr(); err != nil {
		return err
	}
	s.blockedDevices[rec.FingerprintHash] = rec
	return nil
}

func (s *fakeStore) UpdateBlockedDeviceReason(_ context.Context, fpHash, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr(); err != nil {
		return err
	}
	rec, found := s.blockedDevices[fpHash]
	if !found {
		return ErrNotFound
	}
	rec.Reason = reason
	s.blockedDevices[fpHash] = rec
	return nil
}

func (s *fakeStore) DeleteBlockedDevice(_ context.Context, fpHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr(); err != nil {
		return err
	}
	delete(s.blockedDevices, fpHash)
	return nil
}

func (s *fakeStore) GetDeviceFingerprint(_ context.Context, fpHash string) (*domain.DeviceFingerprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, found := s.fingerprints[fpHash]
	if !found {
		return nil, nil
	}
	return &rec, nil
}

func (s *fakeStore) UpsertDeviceFingerprint(_ context.Context, rec domain.DeviceFingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr(); err != nil {
		return err
	}
	s.fingerprints[rec.FingerprintHash] = rec
	return nil
}

func (s *fakeStore) InsertTrafficLog(_ context.Context, row domain.TrafficLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr(); err != nil {
		return err
	}
	s.trafficLogs = append(s.trafficLogs, row)
	return nil
}

func (s *fakeStore) RecentTrafficLogs(_ context.Context, ip string, limit int) ([]domain.TrafficLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TrafficLog
	for i := len(s.trafficLogs) - 1; i >= 0 && len(out) < limit; i-- {
		if s.trafficLogs[i].IP == ip {
			out = append(out, s.trafficLogs[i])
		}
	}
	return out, nil
}

func (s *fakeStore) CountTrafficLogsSince(_ context.Context, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, row := range s.trafficLogs {
		if !row.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *fakeStore) InsertSuspiciousEvent(_ context.Context, evt domain.SuspiciousEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr(); err != nil {
		return err
	}
	s.events = append(s.events, evt)
	return nil
}

func (s *fakeStore) CountSuspiciousEventsSince(_ context.Context, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, evt := range s.events {
		if !evt.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *fakeStore) CountBlockedIPs(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.blockedIPs)), nil
}

func (s *fakeStore) GetGeoCache(_ context.Context, ip string) (*domain.GeoCacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, found := s.geoCache[ip]
	if !found {
		return nil, nil
	}
	return &entry, nil
}

func (s *fakeStore) UpsertGeoCache(_ context.Context, entry domain.GeoCacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr(); err != nil {
		return err
	}
	s.geoCache[entry.IP] = entry
	return nil
}

func (s *fakeStore) setFailWrites(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites = fail
}

func (s *fakeStore) blockedIPCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blockedIPs)
}

// staticAdmins is an AdminRegistry with fixed members.
type staticAdmins struct {
	ips map[string]bool
	fps map[string]bool
}

func (a staticAdmins) IsAdmin(ip string) bool            { return a.ips[ip] }
func (a staticAdmins) IsAdminFingerprint(fp string) bool { return a.fps[fp] }
