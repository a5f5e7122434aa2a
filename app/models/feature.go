package models

import "time"

// Feature is a catalog entry for an individually purchasable add-on.
// Deactivating a feature hides it from new purchases but must not break
// settlements already in flight.
type Feature struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"type:varchar(100);not null;uniqueIndex" json:"key"`
	Name      string    `gorm:"type:varchar(150);not null" json:"name"`
	Price     int64     `gorm:"not null;default:0" json:"price"`
	IsActive  bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
