package domain

import "time"

// BlockedDevice is a persisted block record for a device fingerprint. The
// associated IPs are the addresses observed for that fingerprint before the
// block; they are blocked transitively with the device.
type BlockedDevice struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"id"`

	FingerprintHash string `gorm:"size:128;uniqueIndex;not null" json:"fingerprint_hash"`

	Reason    string `gorm:"size:512;not null;default:''" json:"reason"`
	BlockedBy string `gorm:"size:16;not null;default:'admin'" json:"blocked_by"`

	Components FingerprintComponents `gorm:"type:text" json:"components"`

	AssociatedIPs StringList `gorm:"type:text" json:"associated_ips"`

	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
