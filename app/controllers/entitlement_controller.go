package controllers

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/inviteku/inviteku/internal/pkg/cache"
	"github.com/inviteku/inviteku/internal/pkg/database"
	"github.com/inviteku/inviteku/internal/pkg/entitlement"
)

const entitlementCacheTTL = 5 * time.Minute

// HandleGetEntitlements serves the entitlement snapshot for an invitation.
// GET /api/v1/invitations/:slug/entitlements
//
// The snapshot is cached in Redis; settlement writers invalidate the key, and
// the short TTL bounds staleness of the read-evaluated expiry flag.
func HandleGetEntitlements(c *fiber.Ctx) error {
	slug := strings.TrimSpace(c.Params("slug"))
	if slug == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_slug"})
	}

	cacheKey := cache.EntitlementCacheKey(slug)
	if cached, err := cache.Get(cacheKey); err == nil && cached != "" {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.SendString(cached)
	}

	view, err := entitlement.LoadView(database.GetDB(), slug, time.Now())
	if err != nil {
		if errors.Is(err, entitlement.ErrInvitationNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "invitation_not_found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "entitlement_lookup_failed"})
	}

	body, err := json.Marshal(view)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "entitlement_lookup_failed"})
	}
	if err := cache.Set(cacheKey, string(body), entitlementCacheTTL); err != nil {
		log.Warnf("[Entitlements] Failed to cache view for %s: %v", slug, err)
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(body)
}
