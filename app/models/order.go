package models

import "time"

const (
	OrderKindNewPackage = "new_package"
	OrderKindAddon      = "addon"
)

const (
	OrderStatusPending  = "pending"
	OrderStatusPaid     = "paid"
	OrderStatusFailed   = "failed"
	OrderStatusExpired  = "expired"
	OrderStatusCanceled = "canceled"
)

// Order is the unit of a purchase attempt. ExternalID is the idempotency
// anchor embedded in the provider invoice; two webhook deliveries referencing
// the same ExternalID must never be applied twice.
//
// Status moves only pending -> {paid, failed, expired, canceled}. Terminal
// states are immutable and orders are never deleted (kept for audit).
type Order struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	ExternalID         string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"external_id"`
	ProviderInvoiceID  string     `gorm:"type:varchar(191);index" json:"provider_invoice_id"`
	Kind               string     `gorm:"type:varchar(20);not null;index" json:"kind"`
	UserID             uint       `gorm:"not null;index" json:"user_id"`
	InvitationID       uint       `gorm:"index" json:"invitation_id"`
	PackageID          uint       `gorm:"not null" json:"package_id"`
	SelectedFeatures   FeatureSet `gorm:"type:text" json:"selected_features"`
	Amount             int64      `gorm:"not null;default:0" json:"amount"`
	Status             string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	EntitlementPending bool       `gorm:"default:false;index" json:"entitlement_pending"`
	PaidAt             *time.Time `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	CreatedAt          time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether the order has reached a final status.
func (o *Order) IsTerminal() bool {
	return IsTerminalOrderStatus(o.Status)
}

// IsTerminalOrderStatus reports whether the given status is final.
func IsTerminalOrderStatus(status string) bool {
	switch status {
	case OrderStatusPaid, OrderStatusFailed, OrderStatusExpired, OrderStatusCanceled:
		return true
	default:
		return false
	}
}
