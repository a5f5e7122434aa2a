package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/inviteku/inviteku/app/models"
	"github.com/inviteku/inviteku/internal/pkg/database"
	"github.com/inviteku/inviteku/internal/pkg/env"
	"github.com/inviteku/inviteku/internal/pkg/jobqueue"
	"github.com/inviteku/inviteku/internal/pkg/payment"
)

// HandlePaymentWebhook ingests provider payment callbacks and settles the
// referenced order. POST /api/v1/payments/webhook
//
// Authentication runs before anything is persisted: an unauthenticated
// request must leave no trace, and in particular must not claim the dedup
// key a genuine delivery will arrive under later. Authenticated deliveries
// deduplicate on the provider event id (or a payload hash when the provider
// sends none); a duplicate whose stored event never finished settling is
// processed again rather than acknowledged. The response contract follows
// what the provider retries on: only transient server-side failures
// return 5xx.
func HandlePaymentWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)

	if !verifyWebhookAuth(c, rawBody) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	}

	eventID := firstHeaderValue(c, "Webhook-Id", "X-Webhook-Id", "X-Event-Id")
	eventType := strings.TrimSpace(c.Get("X-Webhook-Event"))

	svc := payment.NewServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	created, stored, err := svc.RecordWebhookEvent(ctx, payment.WebhookEventInput{
		ProviderEventID: eventID,
		EventType:       eventType,
		PayloadJSON:     string(rawBody),
		SignatureValid:  true,
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}
	if !created && !shouldReprocessWebhookEvent(stored) {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}

	event, err := payment.ParseWebhookPayload(rawBody)
	if err != nil {
		_ = svc.MarkWebhookProcessed(ctx, stored.ID, err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload", "message": err.Error()})
	}

	reconciler := payment.NewReconcilerFromDB(database.GetDB(), func(orderID uint) {
		jobqueue.GetManager().EnqueueEntitlementRetry(orderID)
	})
	result, err := reconciler.Apply(ctx, event)
	if err != nil {
		if errors.Is(err, payment.ErrOrderNotFound) {
			// Nothing to settle against. The stored event stays around for
			// manual reconciliation; the 404 tells the provider the reference
			// is wrong, not that we failed.
			log.Warnf("[Webhook] No order for event (external_id=%s invoice_id=%s)", event.ExternalID, event.ProviderInvoiceID)
			_ = svc.MarkWebhookProcessed(ctx, stored.ID, err)
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "order_not_found"})
		}
		_ = svc.MarkWebhookProcessed(ctx, stored.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "reconcile_failed"})
	}

	_ = svc.MarkWebhookProcessed(ctx, stored.ID, settlementRecord(result))
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "outcome": result.Outcome})
}

// shouldReprocessWebhookEvent decides whether a deduplicated delivery still
// needs settlement. A stored event that never finished processing, ended in
// an error, or predates its authentication must not suppress the retry.
func shouldReprocessWebhookEvent(evt *models.PaymentWebhookEvent) bool {
	if evt == nil {
		return false
	}
	return evt.ProcessedAt == nil || evt.ProcessingError != "" || !evt.SignatureValid
}

// settlementRecord maps a reconcile result to what gets stored on the webhook
// event. A paid-after-terminal conflict lands in processing_error so operators
// can find and refund it; every other outcome records clean.
func settlementRecord(result *payment.ReconcileResult) error {
	if result != nil && result.Outcome == payment.OutcomeConflict {
		return payment.ErrPaidConflict
	}
	return nil
}

// verifyWebhookAuth accepts either the shared callback token header or an
// HMAC signature over the raw body, depending on what the header carries.
func verifyWebhookAuth(c *fiber.Ctx, rawBody []byte) bool {
	if signature := strings.TrimSpace(c.Get("X-Webhook-Signature")); signature != "" {
		return payment.VerifyWebhookSignature(rawBody, signature, env.GetEnv("PAYMENT_WEBHOOK_SECRET", ""))
	}
	token := strings.TrimSpace(c.Get("X-Callback-Token"))
	return payment.VerifyCallbackToken(token, env.GetEnv("PAYMENT_CALLBACK_TOKEN", ""))
}

func firstHeaderValue(c *fiber.Ctx, keys ...string) string {
	for _, k := range keys {
		v := strings.TrimSpace(c.Get(k))
		if v != "" {
			return v
		}
	}
	return ""
}
