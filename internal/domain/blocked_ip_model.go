package domain

import "time"

// BlockedIP is a persisted block record for a single address. Rows are immutable
// once written except for deletion (unblock).
type BlockedIP struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"id"`

	// IP holds the normalized address string.
	IP string `gorm:"size:45;uniqueIndex;not null" json:"ip"`

	Reason string `gorm:"size:512;not null;default:''" json:"reason"`

	// BlockedBy records who created the block: "admin" or "system".
	BlockedBy string `gorm:"size:16;not null;default:'admin'" json:"blocked_by"`

	// RequestCount is the rolling request count observed at block time.
	RequestCount int `gorm:"not null;default:0" json:"request_count"`

	Country string `gorm:"size:64" json:"country"`
	IsVPN   bool   `gorm:"not null;default:false" json:"is_vpn"`

	// LogSnapshot holds the last requests from this IP serialized as JSON,
	// captured best-effort for forensics.
	LogSnapshot string `gorm:"type:text" json:"log_snapshot"`

	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
