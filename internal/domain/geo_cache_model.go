package domain

import "time"

// GeoCacheEntry is an immutable geo/VPN snapshot for one IP, refreshed by
// overwrite rather than merge.
type GeoCacheEntry struct {
	IP string `gorm:"size:45;primaryKey" json:"ip"`

	Country  string `gorm:"size:64" json:"country"`
	City     string `gorm:"size:128" json:"city"`
	IsVPN    bool   `gorm:"not null;default:false" json:"is_vpn"`
	Provider string `gorm:"size:128" json:"provider"`

	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
