package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/inviteku/inviteku/app/models"
	"github.com/inviteku/inviteku/internal/pkg/entitlement"
)

// InvoiceCreator abstracts the provider call so tests can stub it.
type InvoiceCreator interface {
	CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*ProviderInvoice, error)
}

// Issuer turns a purchase intent into a pending order plus a remote invoice.
type Issuer struct {
	repo     Repository
	provider InvoiceCreator
	validate *validator.Validate
}

// NewIssuer creates an issuer from injected dependencies.
func NewIssuer(repo Repository, provider InvoiceCreator) *Issuer {
	return &Issuer{
		repo:     repo,
		provider: provider,
		validate: validator.New(),
	}
}

// NewIssuerFromDB creates an issuer with the env-configured provider client.
func NewIssuerFromDB(db *gorm.DB) *Issuer {
	return NewIssuer(NewRepository(db), NewInvoiceClientFromEnv())
}

// CreatePurchaseInvoice validates the intent, persists a pending order keyed
// by a fresh external id, creates the provider invoice and returns the
// checkout URL.
//
// If the provider call fails after the order was persisted, the order stays
// pending with an empty provider invoice id: it is retryable/abandoned, never
// deleted, and never blocks a later retry (each retry mints a new external id).
func (s *Issuer) CreatePurchaseInvoice(ctx context.Context, intent PurchaseIntent) (*PurchaseResult, error) {
	if err := s.validate.Struct(intent); err != nil {
		return nil, fmt.Errorf("invalid purchase intent: %w", err)
	}

	order, description, err := s.buildOrder(intent)
	if err != nil {
		return nil, err
	}

	order.ExternalID = "ord_" + uuid.NewString()
	order.Status = models.OrderStatusPending
	if err := s.repo.CreateOrder(order); err != nil {
		return nil, fmt.Errorf("persist order: %w", err)
	}

	invoice, err := s.provider.CreateInvoice(ctx, CreateInvoiceRequest{
		ExternalID:  order.ExternalID,
		Amount:      order.Amount,
		Description: description,
		PayerEmail:  intent.PayerEmail,
	})
	if err != nil {
		return nil, fmt.Errorf("create provider invoice for order %s: %w", order.ExternalID, err)
	}

	if err := s.repo.SetProviderInvoiceID(order.ID, invoice.ID); err != nil {
		return nil, fmt.Errorf("store provider invoice id: %w", err)
	}
	order.ProviderInvoiceID = invoice.ID

	return &PurchaseResult{Order: order, CheckoutURL: invoice.InvoiceURL}, nil
}

func (s *Issuer) buildOrder(intent PurchaseIntent) (*models.Order, string, error) {
	switch intent.Kind {
	case models.OrderKindNewPackage:
		pkg, err := s.repo.GetActivePackage(intent.PackageID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, "", ErrPackageUnavailable
			}
			return nil, "", err
		}
		order := &models.Order{
			Kind:      models.OrderKindNewPackage,
			UserID:    intent.UserID,
			PackageID: pkg.ID,
			Amount:    pkg.Price,
		}
		return order, fmt.Sprintf("Invitation package: %s", pkg.Name), nil

	case models.OrderKindAddon:
		inv, err := s.repo.GetInvitation(intent.InvitationID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, "", ErrInvitationNotFound
			}
			return nil, "", err
		}
		pkg, err := s.repo.GetActivePackage(inv.PackageID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, "", ErrPackageUnavailable
			}
			return nil, "", err
		}

		selected := entitlement.MergeFeatureKeys(nil, models.FeatureSet(intent.SelectedFeatures))
		if len(selected) == 0 {
			return nil, "", ErrEmptySelection
		}
		candidates := entitlement.CandidateAddons(pkg, inv.AllowedFeatures)
		for _, key := range selected {
			if !candidates.Contains(key) {
				return nil, "", fmt.Errorf("%w: %s", ErrFeatureNotSelectable, key)
			}
		}

		catalog, err := s.featureCatalog()
		if err != nil {
			return nil, "", err
		}

		order := &models.Order{
			Kind:             models.OrderKindAddon,
			UserID:           inv.UserID,
			InvitationID:     inv.ID,
			PackageID:        inv.PackageID,
			SelectedFeatures: selected,
			Amount:           entitlement.AddonTotal(selected, catalog),
		}
		return order, fmt.Sprintf("Add-on features for invitation %s", inv.Slug), nil

	default:
		return nil, "", fmt.Errorf("unknown purchase kind: %s", intent.Kind)
	}
}

func (s *Issuer) featureCatalog() (map[string]int64, error) {
	features, err := s.repo.ListActiveFeatures()
	if err != nil {
		return nil, fmt.Errorf("load feature catalog: %w", err)
	}
	catalog := make(map[string]int64, len(features))
	for _, f := range features {
		catalog[entitlement.NormalizeFeatureKey(f.Key)] = f.Price
	}
	return catalog, nil
}
