package models

import "time"

// Invitation is the entitlement subject: the wedding invitation whose
// capabilities are gated by its package, feature set and expiry.
//
// Invariants: Slug is immutable once assigned. AllowedFeatures is always a
// superset of the package's bundled feature keys after first activation and
// only ever grows (via paid add-on orders). A nil ExpiresAt means the
// invitation never expires.
type Invitation struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	UserID          uint       `gorm:"not null;index" json:"user_id"`
	Slug            string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"slug"`
	PackageID       uint       `gorm:"not null;index" json:"package_id"`
	AllowedFeatures FeatureSet `gorm:"type:text" json:"allowed_features"`
	StartsAt        *time.Time `gorm:"type:timestamp;default:null" json:"starts_at,omitempty"`
	ExpiresAt       *time.Time `gorm:"type:timestamp;default:null" json:"expires_at,omitempty"`
	IsActive        bool       `gorm:"default:false;index" json:"is_active"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsExpired reports whether the invitation has passed its expiry at the given
// instant. Lifetime invitations (nil ExpiresAt) never expire.
func (i *Invitation) IsExpired(now time.Time) bool {
	return i.ExpiresAt != nil && now.After(*i.ExpiresAt)
}
