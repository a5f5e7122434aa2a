package entitlement

import (
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/inviteku/inviteku/app/models"
)

// ComputeExpiry adds a package duration to start and returns the resulting
// expiry, or nil for lifetime packages.
//
// Calendar policy: time.AddDate in UTC. Go normalizes overflowing dates, so
// 2024-01-31 + 1 month yields 2024-03-02 (Feb 31 normalized). The same rule
// is applied for every unit so repeated computations from a fixed start are
// deterministic.
func ComputeExpiry(start time.Time, value int, unit string) *time.Time {
	start = start.UTC()

	var end time.Time
	switch unit {
	case models.DurationUnitLifetime:
		return nil
	case models.DurationUnitDays:
		end = start.AddDate(0, 0, value)
	case models.DurationUnitMonths:
		end = start.AddDate(0, value, 0)
	case models.DurationUnitYears:
		end = start.AddDate(value, 0, 0)
	default:
		log.Warnf("[Entitlement] Unknown duration unit %q, treating as months", unit)
		end = start.AddDate(0, value, 0)
	}
	return &end
}

// NormalizeFeatureKey lowercases and trims a feature key. Returns "" for
// blank keys, which callers drop.
func NormalizeFeatureKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// MergeFeatureKeys returns the case-insensitive, trimmed, deduplicated union
// of both sets. Blank keys are dropped silently. The result is sorted so the
// merge is deterministic and naturally idempotent.
func MergeFeatureKeys(existing, additions models.FeatureSet) models.FeatureSet {
	seen := make(map[string]struct{}, len(existing)+len(additions))
	for _, k := range existing {
		if n := NormalizeFeatureKey(k); n != "" {
			seen[n] = struct{}{}
		}
	}
	for _, k := range additions {
		if n := NormalizeFeatureKey(k); n != "" {
			seen[n] = struct{}{}
		}
	}

	merged := make(models.FeatureSet, 0, len(seen))
	for k := range seen {
		merged = append(merged, k)
	}
	sort.Strings(merged)
	return merged
}

// AddonTotal sums catalog prices for the selected feature keys. Keys missing
// from the catalog contribute 0 and are logged: a purchase already in flight
// must not hard-fail because a catalog entry was deactivated mid-flow.
func AddonTotal(selected models.FeatureSet, catalog map[string]int64) int64 {
	var total int64
	for _, k := range selected {
		key := NormalizeFeatureKey(k)
		if key == "" {
			continue
		}
		price, ok := catalog[key]
		if !ok {
			log.Warnf("[Entitlement] Feature key %q missing from catalog, pricing as 0", key)
			continue
		}
		total += price
	}
	return total
}

// CandidateAddons returns the features still purchasable on top of what the
// invitation already has: selectable minus allowed, custom packages only.
// Standard packages never offer add-ons.
func CandidateAddons(pkg *models.Package, alreadyAllowed models.FeatureSet) models.FeatureSet {
	if pkg == nil || !pkg.IsCustom() {
		return models.FeatureSet{}
	}

	allowed := make(map[string]struct{}, len(alreadyAllowed))
	for _, k := range alreadyAllowed {
		if n := NormalizeFeatureKey(k); n != "" {
			allowed[n] = struct{}{}
		}
	}

	candidates := models.FeatureSet{}
	seen := make(map[string]struct{})
	for _, k := range pkg.SelectableFeatures {
		n := NormalizeFeatureKey(k)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		if _, ok := allowed[n]; ok {
			continue
		}
		candidates = append(candidates, n)
	}
	sort.Strings(candidates)
	return candidates
}
