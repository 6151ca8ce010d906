package domain

import "time"

// Suspicious event severities.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// SuspiciousEvent is an append-only record of a detected attack signal.
type SuspiciousEvent struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"id"`

	IP string `gorm:"size:45;index;not null" json:"ip"`

	// Event names the rule that fired: rate_limit, scanner, sql_injection,
	// path_traversal, brute_force.
	Event string `gorm:"size:32;not null" json:"event"`

	Severity string `gorm:"size:16;not null" json:"severity"`
	Details  string `gorm:"size:512" json:"details"`
	Path     string `gorm:"size:512" json:"path"`

	// AutoBlocked records whether this event carried an auto-block recommendation.
	AutoBlocked bool `gorm:"not null;default:false" json:"auto_blocked"`

	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
