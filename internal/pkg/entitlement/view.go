package entitlement

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/inviteku/inviteku/app/models"
)

// ErrInvitationNotFound means no invitation exists for the requested slug.
var ErrInvitationNotFound = errors.New("invitation not found")

// AddonOffer is a feature still purchasable on top of the invitation's
// current set, priced from the feature catalog.
type AddonOffer struct {
	Key   string `json:"key"`
	Name  string `json:"name"`
	Price int64  `json:"price"`
}

// View is the read-side entitlement snapshot served to invitation renderers.
type View struct {
	Slug            string       `json:"slug"`
	PackageID       uint         `json:"package_id"`
	PackageName     string       `json:"package_name"`
	AllowedFeatures []string     `json:"allowed_features"`
	AvailableAddons []AddonOffer `json:"available_addons"`
	StartsAt        *time.Time   `json:"starts_at,omitempty"`
	ExpiresAt       *time.Time   `json:"expires_at,omitempty"`
	Lifetime        bool         `json:"lifetime"`
	Active          bool         `json:"active"`
	WhatsAppLimit   int64        `json:"whatsapp_limit"`
	WhatsAppUsed    int64        `json:"whatsapp_used"`
}

// LoadView assembles the entitlement view for a slug at the given instant.
// Expiry is evaluated on read: a paid invitation past its ExpiresAt reports
// Active=false without any background job having touched the row.
func LoadView(db *gorm.DB, slug string, now time.Time) (*View, error) {
	var inv models.Invitation
	if err := db.Where("slug = ?", slug).First(&inv).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvitationNotFound
		}
		return nil, err
	}

	view := &View{
		Slug:            inv.Slug,
		PackageID:       inv.PackageID,
		AllowedFeatures: inv.AllowedFeatures,
		StartsAt:        inv.StartsAt,
		ExpiresAt:       inv.ExpiresAt,
		Lifetime:        inv.ExpiresAt == nil,
		Active:          inv.IsActive && !inv.IsExpired(now),
	}
	if view.AllowedFeatures == nil {
		view.AllowedFeatures = []string{}
	}
	view.AvailableAddons = []AddonOffer{}

	var pkg models.Package
	if err := db.First(&pkg, inv.PackageID).Error; err == nil {
		view.PackageName = pkg.Name
		view.AvailableAddons = loadAddonOffers(db, &pkg, inv.AllowedFeatures)
	}

	var q models.WhatsAppQuota
	if err := db.Where("invitation_id = ?", inv.ID).First(&q).Error; err == nil {
		view.WhatsAppLimit = q.QuotaLimit
		view.WhatsAppUsed = q.QuotaUsed
	}

	return view, nil
}

// loadAddonOffers prices the still-purchasable add-ons from the feature
// catalog. Candidates without an active catalog row are not offered.
func loadAddonOffers(db *gorm.DB, pkg *models.Package, allowed models.FeatureSet) []AddonOffer {
	candidates := CandidateAddons(pkg, allowed)
	if len(candidates) == 0 {
		return []AddonOffer{}
	}

	var features []models.Feature
	if err := db.Where("`key` IN ? AND is_active = ?", []string(candidates), true).Find(&features).Error; err != nil {
		return []AddonOffer{}
	}

	byKey := make(map[string]models.Feature, len(features))
	for _, f := range features {
		byKey[NormalizeFeatureKey(f.Key)] = f
	}

	offers := make([]AddonOffer, 0, len(candidates))
	for _, key := range candidates {
		f, ok := byKey[key]
		if !ok {
			continue
		}
		offers = append(offers, AddonOffer{Key: key, Name: f.Name, Price: f.Price})
	}
	return offers
}
