package payment

import (
	"errors"
	"time"

	"github.com/inviteku/inviteku/app/models"
)

// Canonical event statuses, normalized to uppercase regardless of which
// payload shape the provider sent.
const (
	EventStatusPaid     = "PAID"
	EventStatusFailed   = "FAILED"
	EventStatusExpired  = "EXPIRED"
	EventStatusCanceled = "CANCELED"
)

// ProviderName identifies the invoicing provider in webhook event records.
const ProviderName = "invoicing"

// CanonicalEvent is the provider-agnostic shape of a payment notification,
// derived from whatever payload variant the provider actually delivered.
type CanonicalEvent struct {
	ExternalID        string
	ProviderInvoiceID string
	Status            string
	PaidAt            *time.Time
	PayerEmail        string
	RawPayload        string
}

// PurchaseIntent is the client-facing input for creating a purchase.
type PurchaseIntent struct {
	Kind             string   `json:"kind" validate:"required,oneof=new_package addon"`
	UserID           uint     `json:"user_id" validate:"required_if=Kind new_package"`
	InvitationID     uint     `json:"invitation_id" validate:"required_if=Kind addon"`
	PackageID        uint     `json:"package_id" validate:"required_if=Kind new_package"`
	SelectedFeatures []string `json:"selected_features,omitempty"`
	PayerEmail       string   `json:"payer_email,omitempty" validate:"omitempty,email"`
}

// PurchaseResult is returned to the caller after invoice creation.
type PurchaseResult struct {
	Order       *models.Order
	CheckoutURL string
}

// Outcome classifies what a reconciliation attempt did.
type Outcome string

const (
	// OutcomeApplied: the order transitioned out of pending and, for paid
	// events, the entitlement was applied.
	OutcomeApplied Outcome = "applied"
	// OutcomeAlreadyReconciled: the order was already terminal; idempotent no-op.
	OutcomeAlreadyReconciled Outcome = "already_reconciled"
	// OutcomePaidEntitlementPending: the order is paid but the entitlement
	// write failed; a retry sweep will re-attempt it.
	OutcomePaidEntitlementPending Outcome = "paid_entitlement_pending"
	// OutcomeConflict: a PAID event arrived for an order already swept to a
	// non-paid terminal state (money captured, order closed). Recorded for
	// operator review; the terminal state is not reopened.
	OutcomeConflict Outcome = "conflict"
)

// ReconcileResult reports the effect of applying one canonical event.
type ReconcileResult struct {
	Outcome Outcome
	Order   *models.Order
}

var (
	// ErrOrderNotFound means the event references no known order. Logged for
	// manual reconciliation; the webhook is acknowledged since retrying
	// cannot help.
	ErrOrderNotFound = errors.New("order not found for payment event")

	// ErrUnknownEventStatus means the payload status does not normalize to a
	// known canonical status.
	ErrUnknownEventStatus = errors.New("unknown payment event status")

	// ErrPaidConflict means a PAID event arrived for an order already in a
	// non-paid terminal state. Stored on the webhook event so operators can
	// reconcile the captured payment manually; the terminal state stands.
	ErrPaidConflict = errors.New("paid event for order in non-paid terminal state")

	// ErrPackageUnavailable means the purchase references a missing or
	// inactive package.
	ErrPackageUnavailable = errors.New("package not found or inactive")

	// ErrInvitationNotFound means an addon purchase references no known
	// invitation.
	ErrInvitationNotFound = errors.New("invitation not found")

	// ErrFeatureNotSelectable means an addon purchase selected a feature that
	// is not an available add-on for the invitation.
	ErrFeatureNotSelectable = errors.New("feature is not an available add-on")

	// ErrEmptySelection means an addon purchase selected no features.
	ErrEmptySelection = errors.New("addon purchase requires at least one feature")
)
