package models

import "time"

// WhatsAppQuota is the consumable message allowance of an invitation.
// Invariant: QuotaUsed <= QuotaLimit after every successful consumption;
// a decrement that would overdraw is rejected, not clamped.
//
// Column names avoid the reserved word `limit`.
type WhatsAppQuota struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	InvitationID uint      `gorm:"not null;uniqueIndex" json:"invitation_id"`
	QuotaLimit   int64     `gorm:"column:quota_limit;not null;default:0" json:"limit"`
	QuotaUsed    int64     `gorm:"column:quota_used;not null;default:0" json:"used"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Remaining returns how many sends are still available.
func (q *WhatsAppQuota) Remaining() int64 {
	if q.QuotaUsed >= q.QuotaLimit {
		return 0
	}
	return q.QuotaLimit - q.QuotaUsed
}
