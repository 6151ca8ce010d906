package domain

import "time"

// DeviceFingerprint tracks a fingerprint observed on the site and the set of IPs
// it has been seen from. The IP set feeds block propagation when the device is
// later blocked.
type DeviceFingerprint struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"id"`

	FingerprintHash string `gorm:"size:128;uniqueIndex;not null" json:"fingerprint_hash"`

	Components FingerprintComponents `gorm:"type:text" json:"components"`

	IPs StringList `gorm:"type:text" json:"ips"`

	FirstSeenAt time.Time `gorm:"autoCreateTime" json:"first_seen_at"`
	LastSeenAt  time.Time `gorm:"autoUpdateTime" json:"last_seen_at"`
}
