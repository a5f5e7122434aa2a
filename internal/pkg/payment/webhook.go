package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// The provider has changed its webhook schema over time. Two shapes are in
// the wild: the original flat payload and the newer envelope with fields
// nested under "data". Both are modeled explicitly and normalized into one
// CanonicalEvent; ad-hoc optional-field probing is deliberately avoided.

type flatPayload struct {
	ID         string `json:"id"`
	ExternalID string `json:"external_id"`
	Status     string `json:"status"`
	PaidAt     string `json:"paid_at"`
	PayerEmail string `json:"payer_email"`
}

type envelopePayload struct {
	Event string `json:"event"`
	Data  struct {
		ID          string `json:"id"`
		ExternalID  string `json:"external_id"`
		ReferenceID string `json:"reference_id"`
		Status      string `json:"status"`
		PaidAt      string `json:"paid_at"`
		Payer       struct {
			Email string `json:"email"`
		} `json:"payer"`
	} `json:"data"`
}

// ParseWebhookPayload normalizes either historical payload shape into a
// CanonicalEvent. The returned event always carries an uppercase canonical
// status; payloads with unrecognized statuses are rejected.
func ParseWebhookPayload(payload []byte) (*CanonicalEvent, error) {
	var envelope envelopePayload
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("malformed webhook payload: %w", err)
	}

	var event *CanonicalEvent
	if envelope.Data.ID != "" || envelope.Data.ExternalID != "" || envelope.Data.ReferenceID != "" {
		externalID := envelope.Data.ExternalID
		if externalID == "" {
			// Newer payloads renamed external_id to reference_id.
			externalID = envelope.Data.ReferenceID
		}
		event = &CanonicalEvent{
			ExternalID:        strings.TrimSpace(externalID),
			ProviderInvoiceID: strings.TrimSpace(envelope.Data.ID),
			Status:            envelope.Data.Status,
			PayerEmail:        strings.TrimSpace(envelope.Data.Payer.Email),
		}
		if paidAt, err := parseEventTime(envelope.Data.PaidAt); err == nil {
			event.PaidAt = paidAt
		}
	} else {
		var flat flatPayload
		if err := json.Unmarshal(payload, &flat); err != nil {
			return nil, fmt.Errorf("malformed webhook payload: %w", err)
		}
		event = &CanonicalEvent{
			ExternalID:        strings.TrimSpace(flat.ExternalID),
			ProviderInvoiceID: strings.TrimSpace(flat.ID),
			Status:            flat.Status,
			PayerEmail:        strings.TrimSpace(flat.PayerEmail),
		}
		if paidAt, err := parseEventTime(flat.PaidAt); err == nil {
			event.PaidAt = paidAt
		}
	}

	if event.ExternalID == "" && event.ProviderInvoiceID == "" {
		return nil, errors.New("webhook payload carries neither external_id nor invoice id")
	}

	status, err := NormalizeEventStatus(event.Status)
	if err != nil {
		return nil, err
	}
	event.Status = status
	event.RawPayload = string(payload)
	return event, nil
}

// NormalizeEventStatus maps the provider's status strings (both schema
// generations) onto the canonical uppercase enum.
func NormalizeEventStatus(raw string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PAID", "SETTLED", "SUCCEEDED", "SUCCESS":
		return EventStatusPaid, nil
	case "FAILED", "FAILURE":
		return EventStatusFailed, nil
	case "EXPIRED":
		return EventStatusExpired, nil
	case "CANCELED", "CANCELLED", "VOIDED":
		return EventStatusCanceled, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEventStatus, raw)
	}
}

// parseEventTime tolerates the two timestamp layouts the provider has used.
func parseEventTime(raw string) (*time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, errors.New("empty timestamp")
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			utc := t.UTC()
			return &utc, nil
		}
	}
	return nil, fmt.Errorf("unparseable timestamp: %q", raw)
}
