package controllers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/inviteku/inviteku/internal/pkg/database"
	"github.com/inviteku/inviteku/internal/pkg/quota"
)

type consumeQuotaRequest struct {
	Amount int64 `json:"amount"`
}

// HandleConsumeWhatsAppQuota deducts WhatsApp send credits for an invitation.
// POST /api/v1/invitations/:id/whatsapp/consume
func HandleConsumeWhatsAppQuota(c *fiber.Ctx) error {
	invitationID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil || invitationID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_invitation_id"})
	}

	req := consumeQuotaRequest{Amount: 1}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
		}
	}
	if req.Amount <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_amount"})
	}

	ledger := quota.NewLedgerFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	remaining, err := ledger.TryConsume(ctx, uint(invitationID), req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, quota.ErrQuotaNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "quota_not_found"})
		case errors.Is(err, quota.ErrInsufficientQuota):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "insufficient_quota"})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "quota_consume_failed"})
		}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"consumed":  req.Amount,
		"remaining": remaining,
	})
}

// HandleGetWhatsAppQuota reports the current quota balance.
// GET /api/v1/invitations/:id/whatsapp/quota
func HandleGetWhatsAppQuota(c *fiber.Ctx) error {
	invitationID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil || invitationID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_invitation_id"})
	}

	ledger := quota.NewLedgerFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	q, err := ledger.Balance(ctx, uint(invitationID))
	if err != nil {
		if errors.Is(err, quota.ErrQuotaNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "quota_not_found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "quota_lookup_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"limit":     q.QuotaLimit,
		"used":      q.QuotaUsed,
		"remaining": q.Remaining(),
	})
}
