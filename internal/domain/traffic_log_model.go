package domain

import "time"

// TrafficLog is one row of the append-only request log.
type TrafficLog struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"id"`

	IP     string `gorm:"size:45;index;not null" json:"ip"`
	Method string `gorm:"size:8;not null" json:"method"`
	Path   string `gorm:"size:512;not null" json:"path"`

	StatusCode int `gorm:"not null;default:0" json:"status_code"`

	UserAgent string `gorm:"size:500" json:"user_agent"`

	Country     string `gorm:"size:64" json:"country"`
	City        string `gorm:"size:128" json:"city"`
	IsVPN       bool   `gorm:"not null;default:false" json:"is_vpn"`
	VPNProvider string `gorm:"size:128" json:"vpn_provider"`

	ResponseTimeMS int `gorm:"not null;default:0" json:"response_time_ms"`

	FingerprintHash string `gorm:"size:128;index" json:"fingerprint_hash"`

	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
