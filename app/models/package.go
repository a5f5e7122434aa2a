package models

import "time"

const (
	PackageTypeStandard = "standard"
	PackageTypeCustom   = "custom"
)

const (
	DurationUnitDays     = "days"
	DurationUnitMonths   = "months"
	DurationUnitYears    = "years"
	DurationUnitLifetime = "lifetime"
)

// Package is a purchasable invitation tier. Standard packages ship a fixed
// feature set; custom packages additionally offer selectable features that
// can be purchased individually as add-ons.
type Package struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	Name               string     `gorm:"type:varchar(100);not null" json:"name"`
	Type               string     `gorm:"type:varchar(20);not null;default:'standard';index" json:"type"`
	DurationValue      int        `gorm:"not null;default:0" json:"duration_value"`
	DurationUnit       string     `gorm:"type:varchar(16);not null;default:'months'" json:"duration_unit"`
	FeatureKeys        FeatureSet `gorm:"type:text" json:"feature_keys"`
	SelectableFeatures FeatureSet `gorm:"type:text" json:"selectable_features"`
	Price              int64      `gorm:"not null;default:0" json:"price"`
	WhatsAppQuota      int64      `gorm:"not null;default:0" json:"whatsapp_quota"`
	IsActive           bool       `gorm:"default:true;index" json:"is_active"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsCustom reports whether the package offers selectable add-on features.
func (p *Package) IsCustom() bool {
	return p.Type == PackageTypeCustom
}

// IsLifetime reports whether the package never expires.
func (p *Package) IsLifetime() bool {
	return p.DurationUnit == DurationUnitLifetime
}
