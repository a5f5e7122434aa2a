package entitlement

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/inviteku/inviteku/app/models"
	"github.com/inviteku/inviteku/internal/pkg/cache"
	"github.com/inviteku/inviteku/internal/pkg/slug"
)

var (
	// ErrOrderNotPaid means Apply was called for an order outside the paid state.
	ErrOrderNotPaid = errors.New("entitlement can only be applied to a paid order")

	// ErrAddonNotAllowed means a selected feature is neither an available
	// add-on nor already part of the invitation's feature set.
	ErrAddonNotAllowed = errors.New("selected feature is not an available add-on")

	// ErrMissingInvitation means an addon order references no invitation.
	ErrMissingInvitation = errors.New("addon order has no invitation reference")
)

// Applier durably applies a paid order's entitlement to its subject.
//
// Apply must be safely re-runnable: the reconciler's terminal-state check is
// the primary idempotency guard, but a retry sweep re-invokes Apply for
// orders flagged entitlement_pending, so every write here converges to the
// same end state no matter how often it runs for the same order.
type Applier struct {
	repo Repository
}

// NewApplier creates an applier from an injected repository.
func NewApplier(repo Repository) *Applier {
	return &Applier{repo: repo}
}

// NewApplierFromDB creates an applier from a GORM DB handle.
func NewApplierFromDB(db *gorm.DB) *Applier {
	return NewApplier(NewRepository(db))
}

// Apply updates the owning invitation's package, feature set, expiry and
// quota for a paid order.
func (a *Applier) Apply(ctx context.Context, order *models.Order) error {
	_ = ctx
	if order == nil || order.Status != models.OrderStatusPaid || order.PaidAt == nil {
		return ErrOrderNotPaid
	}

	switch order.Kind {
	case models.OrderKindNewPackage:
		return a.applyNewPackage(order)
	case models.OrderKindAddon:
		return a.applyAddon(order)
	default:
		return fmt.Errorf("unknown order kind: %s", order.Kind)
	}
}

func (a *Applier) applyNewPackage(order *models.Order) error {
	pkg, err := a.repo.GetPackage(order.PackageID)
	if err != nil {
		return fmt.Errorf("load package %d: %w", order.PackageID, err)
	}

	inv, err := a.resolveInvitation(order)
	if err != nil {
		return err
	}

	paidAt := order.PaidAt.UTC()
	inv.PackageID = pkg.ID
	inv.StartsAt = &paidAt
	inv.ExpiresAt = ComputeExpiry(paidAt, pkg.DurationValue, pkg.DurationUnit)
	inv.AllowedFeatures = MergeFeatureKeys(inv.AllowedFeatures, pkg.FeatureKeys)
	inv.IsActive = true

	if err := a.repo.SaveInvitation(inv); err != nil {
		return fmt.Errorf("save invitation %d: %w", inv.ID, err)
	}
	if err := a.repo.UpsertQuotaLimit(inv.ID, pkg.WhatsAppQuota); err != nil {
		return fmt.Errorf("upsert quota for invitation %d: %w", inv.ID, err)
	}

	cache.InvalidateEntitlements(inv.Slug)
	return nil
}

func (a *Applier) applyAddon(order *models.Order) error {
	if order.InvitationID == 0 {
		return ErrMissingInvitation
	}

	inv, err := a.repo.GetInvitation(order.InvitationID)
	if err != nil {
		return fmt.Errorf("load invitation %d: %w", order.InvitationID, err)
	}
	pkg, err := a.repo.GetPackage(inv.PackageID)
	if err != nil {
		return fmt.Errorf("load package %d: %w", inv.PackageID, err)
	}

	// A feature may have become unavailable between purchase and settlement.
	// Keys already on the invitation are fine (that is the re-run case).
	candidates := CandidateAddons(pkg, inv.AllowedFeatures)
	for _, raw := range order.SelectedFeatures {
		key := NormalizeFeatureKey(raw)
		if key == "" {
			continue
		}
		if !candidates.Contains(key) && !containsNormalized(inv.AllowedFeatures, key) {
			return fmt.Errorf("%w: %s", ErrAddonNotAllowed, key)
		}
	}

	inv.AllowedFeatures = MergeFeatureKeys(inv.AllowedFeatures, order.SelectedFeatures)
	if err := a.repo.SaveInvitation(inv); err != nil {
		return fmt.Errorf("save invitation %d: %w", inv.ID, err)
	}

	cache.InvalidateEntitlements(inv.Slug)
	return nil
}

// resolveInvitation loads the invitation a new_package order targets,
// materializing it with a fresh slug on the first run. The allocated
// invitation id is bound to the order so re-runs reuse it instead of
// minting a second invitation.
func (a *Applier) resolveInvitation(order *models.Order) (*models.Invitation, error) {
	if order.InvitationID != 0 {
		inv, err := a.repo.GetInvitation(order.InvitationID)
		if err != nil {
			return nil, fmt.Errorf("load invitation %d: %w", order.InvitationID, err)
		}
		return inv, nil
	}

	s, err := slug.Allocate(slug.DefaultLength, a.repo.SlugExists)
	if err != nil {
		return nil, fmt.Errorf("allocate slug: %w", err)
	}

	inv := &models.Invitation{
		UserID:          order.UserID,
		Slug:            s,
		PackageID:       order.PackageID,
		AllowedFeatures: models.FeatureSet{},
	}
	if err := a.repo.CreateInvitation(inv); err != nil {
		return nil, fmt.Errorf("create invitation: %w", err)
	}
	if err := a.repo.BindOrderInvitation(order.ID, inv.ID); err != nil {
		return nil, fmt.Errorf("bind order %d to invitation %d: %w", order.ID, inv.ID, err)
	}
	order.InvitationID = inv.ID
	return inv, nil
}

func containsNormalized(set models.FeatureSet, key string) bool {
	for _, k := range set {
		if NormalizeFeatureKey(k) == key {
			return true
		}
	}
	return false
}
