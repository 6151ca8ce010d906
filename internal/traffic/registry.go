package traffic

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"sentinel/internal/domain"
)

const logSnapshotRows = 20

// Who created a block record.
const (
	BlockedByAdmin  = "admin"
	BlockedBySystem = "system"
)

// IPBlockDetails enriches a blocked-IP record with what the engine knows about
// the address at block time.
type IPBlockDetails struct {
	RequestCount int
	Country      string
	IsVPN        bool
}

// DetailSource supplies IPBlockDetails for an address. May be nil.
type DetailSource func(ip string) IPBlockDetails

// AdminRegistry answers admin-tag questions for both identity kinds.
type AdminRegistry interface {
	IsAdmin(ip string) bool
	IsAdminFingerprint(fp string) bool
}

// BlockRegistry is the authoritative set of blocked IPs, device fingerprints
// and hardware hashes. Lookups are pure in-memory reads; every mutation
// updates the sets synchronously and then attempts the durable write, so the
// caller's own action is visible to subsequent requests even while the store
// write is in flight.
type BlockRegistry struct {
	store   Store
	admins  AdminRegistry
	details DetailSource

	mu               sync.RWMutex
	ips              map[string]struct{}
	devices          map[string]struct{}
	hardware         map[string]struct{}
	deviceComponents map[string]domain.FingerprintComponents
	deviceIPs        map[string]map[string]struct{}
}

func NewBlockRegistry(store Store, admins AdminRegistry, details DetailSource) *BlockRegistry {
	return &BlockRegistry{
		store:            store,
		admins:           admins,
		details:          details,
		ips:              make(map[string]struct{}),
		devices:          make(map[string]struct{}),
		hardware:         make(map[string]struct{}),
		deviceComponents: make(map[string]domain.FingerprintComponents),
		deviceIPs:        make(map[string]map[string]struct{}),
	}
}

// Hydrate loads the blocked sets from the store. Must complete before the
// registry serves admission traffic.
func (r *BlockRegistry) Hydrate(ctx context.Context) error {
	blockedIPs, err := r.store.ListBlockedIPs(ctx)
	if err != nil {
		return fmt.Errorf("load blocked ips: %w", err)
	}
	blockedDevices, err := r.store.ListBlockedDevices(ctx)
	if err != nil {
		return fmt.Errorf("load blocked devices: %w", err)
	}

	ips := make(map[string]struct{}, len(blockedIPs))
	for _, rec := range blockedIPs {
		ips[rec.IP] = struct{}{}
	}

	devices := make(map[string]struct{}, len(blockedDevices))
	hardware := make(map[string]struct{})
	components := make(map[string]domain.FingerprintComponents)
	deviceIPs := make(map[string]map[string]struct{})
	for _, rec := range blockedDevices {
		devices[rec.FingerprintHash] = struct{}{}
		if !rec.Components.IsZero() {
			components[rec.FingerprintHash] = rec.Components
		}
		if rec.Components.HardwareHash != "" {
			hardware[rec.Components.HardwareHash] = struct{}{}
		}
		if len(rec.AssociatedIPs) > 0 {
			set := make(map[string]struct{}, len(rec.AssociatedIPs))
			for _, ip := range rec.AssociatedIPs {
				set[ip] = struct{}{}
			}
			deviceIPs[rec.FingerprintHash] = set
		}
	}

	r.mu.Lock()
	r.ips = ips
	r.devices = devices
	r.hardware = hardware
	r.deviceComponents = components
	r.deviceIPs = deviceIPs
	r.mu.Unlock()

	log.Info("Block registry hydrated",
		"ips", len(ips), "devices", len(devices), "hardware_hashes", len(hardware))
	return nil
}

// IsBlocked reports whether the IP is in the blocked set. No I/O.
func (r *BlockRegistry) IsBlocked(ip string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, found := r.ips[ip]
	return found
}

// IsDeviceBlocked reports whether the fingerprint hash is blocked. No I/O.
func (r *BlockRegistry) IsDeviceBlocked(fpHash string) bool {
	if fpHash == "" {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, found := r.devices[fpHash]
	return found
}

// IsHardwareBlocked reports whether the hardware hash is blocked. No I/O.
func (r *BlockRegistry) IsHardwareBlocked(hwHash string) bool {
	if hwHash == "" {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, found := r.hardware[hwHash]
	return found
}

// BlockedComponents returns a snapshot of the stored components of every
// blocked device, for fuzzy comparison.
func (r *BlockRegistry) BlockedComponents() map[string]domain.FingerprintComponents {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make(map[string]domain.FingerprintComponents, len(r.deviceComponents))
	for hash, comps := range r.deviceComponents {
		snapshot[hash] = comps
	}
	return snapshot
}

// AssociatedIPs returns the IPs currently known for a fingerprint.
func (r *BlockRegistry) AssociatedIPs(fpHash string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.deviceIPs[fpHash]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for ip := range set {
		out = append(out, ip)
	}
	return out
}

// RecordFingerprint stores the fingerprint observation and appends the IP to
// its association set, for block propagation later. Nothing is blocked here.
func (r *BlockRegistry) RecordFingerprint(ctx context.Context, ip, fpHash string, comps domain.FingerprintComponents) error {
	if fpHash == "" {
		return nil
	}

	if ip != "" && !isNonReal(ip) {
		r.mu.Lock()
		set := r.deviceIPs[fpHash]
		if set == nil {
			set = make(map[string]struct{})
			r.deviceIPs[fpHash] = set
		}
		set[ip] = struct{}{}
		r.mu.Unlock()
	}

	existing, err := r.store.GetDeviceFingerprint(ctx, fpHash)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}

	rec := domain.DeviceFingerprint{FingerprintHash: fpHash, Components: comps}
	if existing != nil {
		rec = *existing
		rec.Components = comps
	}
	if ip != "" && !containsString(rec.IPs, ip) {
		rec.IPs = append(rec.IPs, ip)
	}

	if err := r.store.UpsertDeviceFingerprint(ctx, rec); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	return nil
}

// BlockIP blocks a single address. Idempotent; fails with
// ErrForbiddenAdminTarget when the IP carries a fresh admin tag. The in-memory
// set is updated before the durable write so the block is immediately visible.
func (r *BlockRegistry) BlockIP(ctx context.Context, ip, reason, by string) error {
	if ip == "" {
		return nil
	}
	if r.admins != nil && r.admins.IsAdmin(ip) {
		return fmt.Errorf("%w: ip %s", ErrForbiddenAdminTarget, ip)
	}

	r.mu.Lock()
	_, already := r.ips[ip]
	r.ips[ip] = struct{}{}
	r.mu.Unlock()

	if already {
		return nil
	}

	var details IPBlockDetails
	if r.details != nil {
		details = r.details(ip)
	}

	rec := domain.BlockedIP{
		IP:           ip,
		Reason:       reason,
		BlockedBy:    by,
		RequestCount: details.RequestCount,
		Country:      details.Country,
		IsVPN:        details.IsVPN,
		LogSnapshot:  r.snapshotLogs(ctx, ip),
	}

	if err := r.store.UpsertBlockedIP(ctx, rec); err != nil {
		log.Warn("Failed to persist IP block", "ip", ip, "error", err)
		return fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}

	log.Info("IP blocked", "ip", ip, "reason", reason, "by", by)
	return nil
}

// UnblockIP removes the address from the blocked set and the store.
func (r *BlockRegistry) UnblockIP(ctx context.Context, ip string) error {
	r.mu.Lock()
	delete(r.ips, ip)
	r.mu.Unlock()

	if err := r.store.DeleteBlockedIP(ctx, ip); err != nil {
		log.Warn("Failed to remove IP block record", "ip", ip, "error", err)
		return fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}

	log.Info("IP unblocked", "ip", ip)
	return nil
}

// BlockDevice blocks a fingerprint together with its hardware hash and every
// associated IP. Individual IP failures do not abort the device block.
func (r *BlockRegistry) BlockDevice(ctx context.Context, fpHash, reason, by string, comps domain.FingerprintComponents) error {
	if fpHash == "" {
		return nil
	}
	if r.admins != nil && r.admins.IsAdminFingerprint(fpHash) {
		return fmt.Errorf("%w: device %s", ErrForbiddenAdminTarget, shortHash(fpHash))
	}

	associated := r.AssociatedIPs(fpHash)
	if len(associated) == 0 || comps.IsZero() {
		if stored, err := r.store.GetDeviceFingerprint(ctx, fpHash); err == nil && stored != nil {
			if len(associated) == 0 {
				associated = stored.IPs.Clone()
			}
			if comps.IsZero() {
				comps = stored.Components
			}
		}
	}

	r.mu.Lock()
	r.devices[fpHash] = struct{}{}
	if !comps.IsZero() {
		r.deviceComponents[fpHash] = comps
	}
	if comps.HardwareHash != "" {
		r.hardware[comps.HardwareHash] = struct{}{}
	}
	if r.deviceIPs[fpHash] == nil && len(associated) > 0 {
		set := make(map[string]struct{}, len(associated))
		for _, ip := range associated {
			set[ip] = struct{}{}
		}
		r.deviceIPs[fpHash] = set
	}
	r.mu.Unlock()

	rec := domain.BlockedDevice{
		FingerprintHash: fpHash,
		Reason:          reason,
		BlockedBy:       by,
		Components:      comps,
		AssociatedIPs:   associated,
	}
	persistErr := r.store.UpsertBlockedDevice(ctx, rec)
	if persistErr != nil {
		log.Warn("Failed to persist device block", "fingerprint", shortHash(fpHash), "error", persistErr)
		persistErr = fmt.Errorf("%w: %v", ErrPersistenceUnavailable, persistErr)
	}

	for _, ip := range associated {
		if ip == "" || r.IsBlocked(ip) {
			continue
		}
		if r.admins != nil && r.admins.IsAdmin(ip) {
			continue
		}
		if err := r.BlockIP(ctx, ip, fmt.Sprintf("device blocked: %s", shortHash(fpHash)), by); err != nil {
			log.Warn("Failed to block associated IP", "ip", ip, "fingerprint", shortHash(fpHash), "error", err)
		}
	}

	log.Info("Device blocked",
		"fingerprint", shortHash(fpHash), "reason", reason, "by", by, "associated_ips", len(associated))
	return persistErr
}

// UnblockDevice removes the device block and unblocks every IP in the
// association snapshot taken at unblock time.
func (r *BlockRegistry) UnblockDevice(ctx context.Context, fpHash string) error {
	if fpHash == "" {
		return nil
	}

	associated := r.AssociatedIPs(fpHash)
	if len(associated) == 0 {
		if stored, err := r.store.GetBlockedDevice(ctx, fpHash); err == nil && stored != nil {
			associated = stored.AssociatedIPs.Clone()
		}
	}

	r.mu.Lock()
	delete(r.devices, fpHash)
	if comps, found := r.deviceComponents[fpHash]; found {
		if comps.HardwareHash != "" {
			delete(r.hardware, comps.HardwareHash)
		}
		delete(r.deviceComponents, fpHash)
	}
	delete(r.deviceIPs, fpHash)
	r.mu.Unlock()

	persistErr := r.store.DeleteBlockedDevice(ctx, fpHash)
	if persistErr != nil {
		log.Warn("Failed to remove device block record", "fingerprint", shortHash(fpHash), "error", persistErr)
		persistErr = fmt.Errorf("%w: %v", ErrPersistenceUnavailable, persistErr)
	}

	for _, ip := range associated {
		if err := r.UnblockIP(ctx, ip); err != nil {
			log.Warn("Failed to unblock associated IP", "ip", ip, "error", err)
		}
	}

	log.Info("Device unblocked", "fingerprint", shortHash(fpHash), "associated_ips", len(associated))
	return persistErr
}

func (r *BlockRegistry) snapshotLogs(ctx context.Context, ip string) string {
	rows, err := r.store.RecentTrafficLogs(ctx, ip, logSnapshotRows)
	if err != nil || len(rows) == 0 {
		return ""
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return ""
	}
	return string(data)
}

func shortHash(hash string) string {
	if len(hash) <= 12 {
		return hash
	}
	return hash[:12] + "..."
}

func containsString(list []string, want string) bool {
	for _, item := range list {
		if item == want {
			return true
		}
	}
	return false
}
