package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/inviteku/inviteku/app/models"
	"github.com/inviteku/inviteku/internal/pkg/database"
)

// HandleListPackages returns the purchasable package catalog.
// GET /api/v1/packages
func HandleListPackages(c *fiber.Ctx) error {
	var packages []models.Package
	if err := database.GetDB().Where("is_active = ?", true).Order("price asc").Find(&packages).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "package_lookup_failed"})
	}

	items := make([]fiber.Map, 0, len(packages))
	for _, pkg := range packages {
		items = append(items, packageResponse(&pkg))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"packages": items})
}

func packageResponse(pkg *models.Package) fiber.Map {
	item := fiber.Map{
		"id":             pkg.ID,
		"name":           pkg.Name,
		"type":           pkg.Type,
		"price":          pkg.Price,
		"feature_keys":   pkg.FeatureKeys,
		"whatsapp_quota": pkg.WhatsAppQuota,
		"lifetime":       pkg.IsLifetime(),
	}
	if !pkg.IsLifetime() {
		item["duration_value"] = pkg.DurationValue
		item["duration_unit"] = pkg.DurationUnit
	}
	if pkg.IsCustom() {
		item["selectable_features"] = pkg.SelectableFeatures
	}
	return item
}
