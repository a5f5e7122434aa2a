package payment

import (
	"errors"
	"testing"
	"time"
)

func TestParseWebhookPayloadFlatShape(t *testing.T) {
	payload := []byte(`{
		"id": "inv_123",
		"external_id": "ord_abc",
		"status": "PAID",
		"paid_at": "2024-06-01T12:00:00Z",
		"payer_email": "dewi@example.id"
	}`)

	event, err := ParseWebhookPayload(payload)
	if err != nil {
		t.Fatalf("ParseWebhookPayload failed: %v", err)
	}
	if event.ExternalID != "ord_abc" {
		t.Fatalf("external id = %q, want ord_abc", event.ExternalID)
	}
	if event.ProviderInvoiceID != "inv_123" {
		t.Fatalf("invoice id = %q, want inv_123", event.ProviderInvoiceID)
	}
	if event.Status != EventStatusPaid {
		t.Fatalf("status = %q, want %q", event.Status, EventStatusPaid)
	}
	want := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	if event.PaidAt == nil || !event.PaidAt.Equal(want) {
		t.Fatalf("paid_at = %v, want %v", event.PaidAt, want)
	}
	if event.PayerEmail != "dewi@example.id" {
		t.Fatalf("payer email = %q", event.PayerEmail)
	}
}

func TestParseWebhookPayloadEnvelopeShape(t *testing.T) {
	payload := []byte(`{
		"event": "invoice.paid",
		"data": {
			"id": "inv_456",
			"reference_id": "ord_def",
			"status": "settled",
			"paid_at": "2024-06-01 12:00:00",
			"payer": {"email": "budi@example.id"}
		}
	}`)

	event, err := ParseWebhookPayload(payload)
	if err != nil {
		t.Fatalf("ParseWebhookPayload failed: %v", err)
	}
	if event.ExternalID != "ord_def" {
		t.Fatalf("external id = %q, want ord_def", event.ExternalID)
	}
	if event.Status != EventStatusPaid {
		t.Fatalf("status = %q, want %q", event.Status, EventStatusPaid)
	}
	if event.PaidAt == nil {
		t.Fatal("paid_at was not parsed from legacy layout")
	}
	if event.PayerEmail != "budi@example.id" {
		t.Fatalf("payer email = %q", event.PayerEmail)
	}
}

func TestParseWebhookPayloadLegacyOmitsExternalID(t *testing.T) {
	payload := []byte(`{"id": "inv_789", "status": "EXPIRED"}`)

	event, err := ParseWebhookPayload(payload)
	if err != nil {
		t.Fatalf("ParseWebhookPayload failed: %v", err)
	}
	if event.ExternalID != "" || event.ProviderInvoiceID != "inv_789" {
		t.Fatalf("unexpected ids: external=%q invoice=%q", event.ExternalID, event.ProviderInvoiceID)
	}
	if event.Status != EventStatusExpired {
		t.Fatalf("status = %q, want %q", event.Status, EventStatusExpired)
	}
}

func TestParseWebhookPayloadRejectsUnknownStatus(t *testing.T) {
	payload := []byte(`{"id": "inv_1", "external_id": "ord_1", "status": "ON_HOLD"}`)

	if _, err := ParseWebhookPayload(payload); !errors.Is(err, ErrUnknownEventStatus) {
		t.Fatalf("expected ErrUnknownEventStatus, got %v", err)
	}
}

func TestParseWebhookPayloadRejectsNoIdentifiers(t *testing.T) {
	if _, err := ParseWebhookPayload([]byte(`{"status": "PAID"}`)); err == nil {
		t.Fatal("expected error for payload without identifiers")
	}
}

func TestNormalizeEventStatus(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "paid", want: EventStatusPaid},
		{in: "SETTLED", want: EventStatusPaid},
		{in: "cancelled", want: EventStatusCanceled},
		{in: "VOIDED", want: EventStatusCanceled},
		{in: " expired ", want: EventStatusExpired},
		{in: "failure", want: EventStatusFailed},
	}

	for _, tt := range tests {
		got, err := NormalizeEventStatus(tt.in)
		if err != nil {
			t.Fatalf("NormalizeEventStatus(%q) failed: %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("NormalizeEventStatus(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if _, err := NormalizeEventStatus("pending"); !errors.Is(err, ErrUnknownEventStatus) {
		t.Fatalf("expected ErrUnknownEventStatus for pending, got %v", err)
	}
}
