package payment

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/inviteku/inviteku/app/models"
)

// Repository provides DB operations used by the issuer and reconciler.
type Repository interface {
	CreateOrder(order *models.Order) error
	GetOrderByID(id uint) (*models.Order, error)
	GetOrderByExternalID(externalID string) (*models.Order, error)
	GetOrderByProviderInvoiceID(invoiceID string) (*models.Order, error)
	SetProviderInvoiceID(orderID uint, invoiceID string) error

	// MarkOrderPaid transitions pending -> paid as a single conditional
	// update. The boolean reports whether this call won the transition.
	MarkOrderPaid(orderID uint, paidAt time.Time) (bool, error)
	// MarkOrderTerminal transitions pending -> failed/expired/canceled the
	// same way.
	MarkOrderTerminal(orderID uint, status string) (bool, error)

	SetEntitlementPending(orderID uint, pending bool) error
	ListEntitlementPendingOrders(limit int) ([]models.Order, error)
	ListStalePendingOrders(olderThan time.Time, limit int) ([]models.Order, error)

	GetActivePackage(id uint) (*models.Package, error)
	GetInvitation(id uint) (*models.Invitation, error)
	ListActiveFeatures() ([]models.Feature, error)

	CreateWebhookEventIfNotExists(event *models.PaymentWebhookEvent) (bool, *models.PaymentWebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a payment repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateOrder(order *models.Order) error {
	return r.db.Create(order).Error
}

func (r *gormRepository) GetOrderByID(id uint) (*models.Order, error) {
	var order models.Order
	if err := r.db.First(&order, id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *gormRepository) GetOrderByExternalID(externalID string) (*models.Order, error) {
	var order models.Order
	if err := r.db.Where("external_id = ?", externalID).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *gormRepository) GetOrderByProviderInvoiceID(invoiceID string) (*models.Order, error) {
	var order models.Order
	if err := r.db.Where("provider_invoice_id = ?", invoiceID).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *gormRepository) SetProviderInvoiceID(orderID uint, invoiceID string) error {
	return r.db.Model(&models.Order{}).
		Where("id = ?", orderID).
		Update("provider_invoice_id", invoiceID).Error
}

func (r *gormRepository) MarkOrderPaid(orderID uint, paidAt time.Time) (bool, error) {
	tx := r.db.Model(&models.Order{}).
		Where("id = ? AND status = ?", orderID, models.OrderStatusPending).
		Updates(map[string]interface{}{
			"status":  models.OrderStatusPaid,
			"paid_at": paidAt,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) MarkOrderTerminal(orderID uint, status string) (bool, error) {
	tx := r.db.Model(&models.Order{}).
		Where("id = ? AND status = ?", orderID, models.OrderStatusPending).
		Update("status", status)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) SetEntitlementPending(orderID uint, pending bool) error {
	return r.db.Model(&models.Order{}).
		Where("id = ?", orderID).
		Update("entitlement_pending", pending).Error
}

func (r *gormRepository) ListEntitlementPendingOrders(limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.
		Where("status = ? AND entitlement_pending = ?", models.OrderStatusPaid, true).
		Order("id").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

func (r *gormRepository) ListStalePendingOrders(olderThan time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.
		Where("status = ? AND created_at < ?", models.OrderStatusPending, olderThan).
		Order("id").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

func (r *gormRepository) GetActivePackage(id uint) (*models.Package, error) {
	var pkg models.Package
	if err := r.db.Where("id = ? AND is_active = ?", id, true).First(&pkg).Error; err != nil {
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

func (r *gormRepository) ListActiveFeatures() ([]models.Feature, error) {
	var features []models.Feature
	err := r.db.Where("is_active = ?", true).Find(&features).Error
	return features, err
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.PaymentWebhookEvent) (bool, *models.PaymentWebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.PaymentWebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.PaymentWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
