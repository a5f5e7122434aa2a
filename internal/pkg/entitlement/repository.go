package entitlement

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/inviteku/inviteku/app/models"
)

// Repository provides the DB operations used by the entitlement applier.
type Repository interface {
	GetPackage(id uint) (*models.Package, error)
	GetInvitation(id uint) (*models.Invitation, error)
	SlugExists(slug string) (bool, error)
	CreateInvitation(inv *models.Invitation) error
	SaveInvitation(inv *models.Invitation) error
	BindOrderInvitation(orderID, invitationID uint) error
	UpsertQuotaLimit(invitationID uint, limit int64) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates an entitlement repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetPackage(id uint) (*models.Package, error) {
	var pkg models.Package
	if err := r.db.First(&pkg, id).Error; err != nil {
		return nil, err
	}
	return &pkg, nil
}

func (r *gormRepository) GetInvitation(id uint) (*models.Invitation, error) {
	var inv models.Invitation
	if err := r.db.First(&inv, id).Error; err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *gormRepository) SlugExists(slug string) (bool, error) {
	var count int64
	err := r.db.Model(&models.Invitation{}).Where("slug = ?", slug).Count(&count).Error
	return count > 0, err
}

func (r *gormRepository) CreateInvitation(inv *models.Invitation) error {
	return r.db.Create(inv).Error
}

func (r *gormRepository) SaveInvitation(inv *models.Invitation) error {
	return r.db.Save(inv).Error
}

func (r *gormRepository) BindOrderInvitation(orderID, invitationID uint) error {
	return r.db.Model(&models.Order{}).
		Where("id = ?", orderID).
		Update("invitation_id", invitationID).Error
}

func (r *gormRepository) UpsertQuotaLimit(invitationID uint, limit int64) error {
	quota := &models.WhatsAppQuota{
		InvitationID: invitationID,
		QuotaLimit:   limit,
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "invitation_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"quota_limit", "updated_at"}),
	}).Create(quota).Error
}
