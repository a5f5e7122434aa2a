package entitlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/inviteku/inviteku/app/models"
)

type fakeRepo struct {
	packages    map[uint]*models.Package
	invitations map[uint]*models.Invitation
	quotaLimits map[uint]int64
	orderBinds  map[uint]uint
	nextInvID   uint
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		packages:    make(map[uint]*models.Package),
		invitations: make(map[uint]*models.Invitation),
		quotaLimits: make(map[uint]int64),
		orderBinds:  make(map[uint]uint),
		nextInvID:   1,
	}
}

var errNotFound = errors.New("record not found")

func (r *fakeRepo) GetPackage(id uint) (*models.Package, error) {
	if p, ok := r.packages[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, errNotFound
}

func (r *fakeRepo) GetInvitation(id uint) (*models.Invitation, error) {
	if inv, ok := r.invitations[id]; ok {
		cp := *inv
		return &cp, nil
	}
	return nil, errNotFound
}

func (r *fakeRepo) SlugExists(s string) (bool, error) {
	for _, inv := range r.invitations {
		if inv.Slug == s {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) CreateInvitation(inv *models.Invitation) error {
	inv.ID = r.nextInvID
	r.nextInvID++
	cp := *inv
	r.invitations[inv.ID] = &cp
	return nil
}

func (r *fakeRepo) SaveInvitation(inv *models.Invitation) error {
	cp := *inv
	r.invitations[inv.ID] = &cp
	return nil
}

func (r *fakeRepo) BindOrderInvitation(orderID, invitationID uint) error {
	r.orderBinds[orderID] = invitationID
	return nil
}

func (r *fakeRepo) UpsertQuotaLimit(invitationID uint, limit int64) error {
	r.quotaLimits[invitationID] = limit
	return nil
}

func paidOrder(kind string) *models.Order {
	paidAt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return &models.Order{
		ID:         10,
		ExternalID: "ord_abc",
		Kind:       kind,
		UserID:     7,
		PackageID:  1,
		Status:     models.OrderStatusPaid,
		PaidAt:     &paidAt,
	}
}

func TestApplyRejectsUnpaidOrder(t *testing.T) {
	applier := NewApplier(newFakeRepo())

	order := paidOrder(models.OrderKindNewPackage)
	order.Status = models.OrderStatusPending
	if err := applier.Apply(context.Background(), order); !errors.Is(err, ErrOrderNotPaid) {
		t.Fatalf("expected ErrOrderNotPaid, got %v", err)
	}
}

func TestApplyNewPackageCreatesInvitation(t *testing.T) {
	repo := newFakeRepo()
	repo.packages[1] = &models.Package{
		ID:            1,
		Type:          models.PackageTypeCustom,
		DurationValue: 3,
		DurationUnit:  models.DurationUnitMonths,
		FeatureKeys:   models.FeatureSet{"gallery", "countdown"},
		WhatsAppQuota: 100,
	}
	applier := NewApplier(repo)

	order := paidOrder(models.OrderKindNewPackage)
	if err := applier.Apply(context.Background(), order); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if order.InvitationID == 0 {
		t.Fatal("expected invitation to be bound to the order")
	}
	inv := repo.invitations[order.InvitationID]
	if inv == nil {
		t.Fatal("invitation was not created")
	}
	if inv.Slug == "" {
		t.Fatal("invitation slug was not allocated")
	}
	if !inv.IsActive {
		t.Fatal("invitation should be active after settlement")
	}
	if inv.StartsAt == nil || !inv.StartsAt.Equal(*order.PaidAt) {
		t.Fatalf("starts_at = %v, want %v", inv.StartsAt, order.PaidAt)
	}
	wantExpiry := order.PaidAt.AddDate(0, 3, 0)
	if inv.ExpiresAt == nil || !inv.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("expires_at = %v, want %v", inv.ExpiresAt, wantExpiry)
	}
	if !inv.AllowedFeatures.ContainsAll(models.FeatureSet{"gallery", "countdown"}) {
		t.Fatalf("allowed features %v missing bundled keys", inv.AllowedFeatures)
	}
	if repo.quotaLimits[inv.ID] != 100 {
		t.Fatalf("quota limit = %d, want 100", repo.quotaLimits[inv.ID])
	}
}

func TestApplyNewPackageRerunConverges(t *testing.T) {
	repo := newFakeRepo()
	repo.packages[1] = &models.Package{
		ID:            1,
		DurationValue: 1,
		DurationUnit:  models.DurationUnitYears,
		FeatureKeys:   models.FeatureSet{"gallery"},
		WhatsAppQuota: 50,
	}
	applier := NewApplier(repo)

	order := paidOrder(models.OrderKindNewPackage)
	if err := applier.Apply(context.Background(), order); err != nil {
		t.Fatalf("first Apply failed: %v", err)
	}
	firstInvID := order.InvitationID
	first := *repo.invitations[firstInvID]

	if err := applier.Apply(context.Background(), order); err != nil {
		t.Fatalf("second Apply failed: %v", err)
	}

	if order.InvitationID != firstInvID {
		t.Fatalf("re-run minted a second invitation: %d vs %d", order.InvitationID, firstInvID)
	}
	if len(repo.invitations) != 1 {
		t.Fatalf("expected 1 invitation, got %d", len(repo.invitations))
	}
	second := *repo.invitations[firstInvID]
	if !second.ExpiresAt.Equal(*first.ExpiresAt) {
		t.Fatalf("expiry drifted between runs: %v vs %v", second.ExpiresAt, first.ExpiresAt)
	}
	if len(second.AllowedFeatures) != len(first.AllowedFeatures) {
		t.Fatalf("feature set changed between runs: %v vs %v", second.AllowedFeatures, first.AllowedFeatures)
	}
}

func TestApplyAddonMergesFeatures(t *testing.T) {
	repo := newFakeRepo()
	repo.packages[1] = &models.Package{
		ID:                 1,
		Type:               models.PackageTypeCustom,
		SelectableFeatures: models.FeatureSet{"gift", "rsvp", "story"},
	}
	repo.invitations[5] = &models.Invitation{
		ID:              5,
		Slug:            "dewi-budi",
		PackageID:       1,
		AllowedFeatures: models.FeatureSet{"gallery"},
	}
	applier := NewApplier(repo)

	order := paidOrder(models.OrderKindAddon)
	order.InvitationID = 5
	order.SelectedFeatures = models.FeatureSet{"gift", "rsvp"}

	if err := applier.Apply(context.Background(), order); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	inv := repo.invitations[5]
	want := models.FeatureSet{"gallery", "gift", "rsvp"}
	if !inv.AllowedFeatures.ContainsAll(want) || len(inv.AllowedFeatures) != len(want) {
		t.Fatalf("allowed features = %v, want %v", inv.AllowedFeatures, want)
	}

	// Duplicate delivery: re-applying leaves the set unchanged.
	if err := applier.Apply(context.Background(), order); err != nil {
		t.Fatalf("re-Apply failed: %v", err)
	}
	if len(repo.invitations[5].AllowedFeatures) != len(want) {
		t.Fatalf("re-run duplicated features: %v", repo.invitations[5].AllowedFeatures)
	}
}

func TestApplyAddonRejectsUnavailableFeature(t *testing.T) {
	repo := newFakeRepo()
	repo.packages[1] = &models.Package{
		ID:                 1,
		Type:               models.PackageTypeCustom,
		SelectableFeatures: models.FeatureSet{"gift"},
	}
	repo.invitations[5] = &models.Invitation{
		ID:              5,
		Slug:            "dewi-budi",
		PackageID:       1,
		AllowedFeatures: models.FeatureSet{"gallery"},
	}
	applier := NewApplier(repo)

	order := paidOrder(models.OrderKindAddon)
	order.InvitationID = 5
	order.SelectedFeatures = models.FeatureSet{"livestream"}

	if err := applier.Apply(context.Background(), order); !errors.Is(err, ErrAddonNotAllowed) {
		t.Fatalf("expected ErrAddonNotAllowed, got %v", err)
	}
	// No partial mutation.
	if len(repo.invitations[5].AllowedFeatures) != 1 {
		t.Fatalf("invitation mutated on rejected addon: %v", repo.invitations[5].AllowedFeatures)
	}
}

func TestApplyAddonRequiresInvitation(t *testing.T) {
	applier := NewApplier(newFakeRepo())

	order := paidOrder(models.OrderKindAddon)
	if err := applier.Apply(context.Background(), order); !errors.Is(err, ErrMissingInvitation) {
		t.Fatalf("expected ErrMissingInvitation, got %v", err)
	}
}
