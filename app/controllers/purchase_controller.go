package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/inviteku/inviteku/internal/pkg/database"
	"github.com/inviteku/inviteku/internal/pkg/payment"
)

// HandleCreatePurchase creates a pending order plus a provider invoice and
// returns the checkout URL. POST /api/v1/purchases
func HandleCreatePurchase(c *fiber.Ctx) error {
	var intent payment.PurchaseIntent
	if err := c.BodyParser(&intent); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload", "message": err.Error()})
	}

	issuer := payment.NewIssuerFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	result, err := issuer.CreatePurchaseInvoice(ctx, intent)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrPackageUnavailable):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "package_unavailable"})
		case errors.Is(err, payment.ErrInvitationNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "invitation_not_found"})
		case errors.Is(err, payment.ErrEmptySelection):
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "empty_selection"})
		case errors.Is(err, payment.ErrFeatureNotSelectable):
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "feature_not_selectable", "message": err.Error()})
		default:
			if isValidationError(err) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload", "message": err.Error()})
			}
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "invoice_creation_failed"})
		}
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"order": fiber.Map{
			"external_id":         result.Order.ExternalID,
			"provider_invoice_id": result.Order.ProviderInvoiceID,
			"kind":                result.Order.Kind,
			"amount":              result.Order.Amount,
			"status":              result.Order.Status,
		},
		"checkout_url": result.CheckoutURL,
	})
}
