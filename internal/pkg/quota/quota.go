package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/inviteku/inviteku/app/models"
)

var (
	// ErrQuotaNotFound means the invitation has no quota row, typically
	// because its package carries no WhatsApp credits.
	ErrQuotaNotFound = errors.New("no whatsapp quota for invitation")

	// ErrInsufficientQuota means the requested amount would exceed the limit.
	// Nothing is consumed in that case.
	ErrInsufficientQuota = errors.New("insufficient whatsapp quota")
)

// Store is the persistence surface of the ledger. Consume must be atomic:
// either the full amount is deducted or nothing is.
type Store interface {
	Consume(invitationID uint, amount int64) (bool, error)
	Get(invitationID uint) (*models.WhatsAppQuota, error)
	GrantLimit(invitationID uint, limit int64) error
}

// Ledger tracks per-invitation WhatsApp send credits.
type Ledger struct {
	store Store
}

// NewLedger creates a ledger from an injected store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// NewLedgerFromDB creates a ledger backed by the GORM store.
func NewLedgerFromDB(db *gorm.DB) *Ledger {
	return NewLedger(&gormStore{db: db})
}

// TryConsume deducts amount credits from the invitation's quota. The
// deduction is all-or-nothing: concurrent consumers race on a conditional
// update and the loser gets ErrInsufficientQuota, never a partial deduction
// or an overdraft. Returns the remaining balance after a successful deduction.
func (l *Ledger) TryConsume(ctx context.Context, invitationID uint, amount int64) (int64, error) {
	_ = ctx
	if amount <= 0 {
		return 0, fmt.Errorf("invalid consume amount: %d", amount)
	}

	ok, err := l.store.Consume(invitationID, amount)
	if err != nil {
		return 0, fmt.Errorf("consume quota: %w", err)
	}
	if !ok {
		// Decide which failure this was. The row may not exist at all.
		if _, err := l.store.Get(invitationID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return 0, ErrQuotaNotFound
			}
			return 0, err
		}
		return 0, ErrInsufficientQuota
	}

	q, err := l.store.Get(invitationID)
	if err != nil {
		// The deduction went through; a failed read-back only costs the
		// remaining-balance hint.
		log.Warnf("[Quota] Consumed %d for invitation %d but could not read balance: %v", amount, invitationID, err)
		return 0, nil
	}
	return q.Remaining(), nil
}

// Balance reports the current limit and used credits for an invitation.
func (l *Ledger) Balance(ctx context.Context, invitationID uint) (*models.WhatsAppQuota, error) {
	_ = ctx
	q, err := l.store.Get(invitationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrQuotaNotFound
		}
		return nil, err
	}
	return q, nil
}

// GrantLimit raises the invitation's quota limit, creating the row if it does
// not exist. Used credits are never reset.
func (l *Ledger) GrantLimit(ctx context.Context, invitationID uint, limit int64) error {
	_ = ctx
	if limit < 0 {
		return fmt.Errorf("invalid quota limit: %d", limit)
	}
	return l.store.GrantLimit(invitationID, limit)
}

type gormStore struct {
	db *gorm.DB
}

func (s *gormStore) Consume(invitationID uint, amount int64) (bool, error) {
	res := s.db.Model(&models.WhatsAppQuota{}).
		Where("invitation_id = ? AND quota_used + ? <= quota_limit", invitationID, amount).
		UpdateColumn("quota_used", gorm.Expr("quota_used + ?", amount))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *gormStore) Get(invitationID uint) (*models.WhatsAppQuota, error) {
	var q models.WhatsAppQuota
	if err := s.db.Where("invitation_id = ?", invitationID).First(&q).Error; err != nil {
		return nil, err
	}
	return &q, nil
}

func (s *gormStore) GrantLimit(invitationID uint, limit int64) error {
	q := models.WhatsAppQuota{
		InvitationID: invitationID,
		QuotaLimit:   limit,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "invitation_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"quota_limit": limit}),
	}).Create(&q).Error
}
