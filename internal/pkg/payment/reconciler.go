package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/inviteku/inviteku/app/models"
	"github.com/inviteku/inviteku/internal/pkg/entitlement"
)

// EntitlementApplier is the downstream effect of a paid order.
type EntitlementApplier interface {
	Apply(ctx context.Context, order *models.Order) error
}

// RetryEnqueuer schedules a later entitlement re-application for a paid
// order whose entitlement write failed.
type RetryEnqueuer func(orderID uint)

// Reconciler is the settlement state machine. It applies one canonical
// payment event to exactly one order, exactly once.
//
// The conditional update on status = pending is the sole mechanism
// guaranteeing at-most-once effect application under concurrent or duplicate
// webhook delivery: two deliveries racing on the same order cannot both win
// the transition.
type Reconciler struct {
	repo         Repository
	applier      EntitlementApplier
	enqueueRetry RetryEnqueuer
}

// NewReconciler creates a reconciler from injected dependencies.
// enqueueRetry may be nil; entitlement failures are then left to the
// periodic sweep over entitlement_pending orders.
func NewReconciler(repo Repository, applier EntitlementApplier, enqueueRetry RetryEnqueuer) *Reconciler {
	return &Reconciler{repo: repo, applier: applier, enqueueRetry: enqueueRetry}
}

// NewReconcilerFromDB wires the reconciler against GORM-backed dependencies.
func NewReconcilerFromDB(db *gorm.DB, enqueueRetry RetryEnqueuer) *Reconciler {
	return NewReconciler(NewRepository(db), entitlement.NewApplierFromDB(db), enqueueRetry)
}

// Apply reconciles one canonical event against its order.
func (r *Reconciler) Apply(ctx context.Context, event *CanonicalEvent) (*ReconcileResult, error) {
	order, err := r.lookupOrder(event)
	if err != nil {
		return nil, err
	}

	if order.IsTerminal() {
		return r.terminalResult(order, event), nil
	}

	switch event.Status {
	case EventStatusPaid:
		return r.applyPaid(ctx, order, event)
	case EventStatusFailed:
		return r.applyTerminal(order, event, models.OrderStatusFailed)
	case EventStatusExpired:
		return r.applyTerminal(order, event, models.OrderStatusExpired)
	case EventStatusCanceled:
		return r.applyTerminal(order, event, models.OrderStatusCanceled)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventStatus, event.Status)
	}
}

// RetryEntitlement re-applies the entitlement for a paid order flagged
// entitlement_pending. Used by the background sweep; safe to call
// repeatedly because the applier itself is idempotent.
func (r *Reconciler) RetryEntitlement(ctx context.Context, orderID uint) error {
	order, err := r.repo.GetOrderByID(orderID)
	if err != nil {
		return fmt.Errorf("load order %d: %w", orderID, err)
	}
	if order.Status != models.OrderStatusPaid || !order.EntitlementPending {
		return nil
	}

	if err := r.applier.Apply(ctx, order); err != nil {
		return fmt.Errorf("re-apply entitlement for order %s: %w", order.ExternalID, err)
	}
	return r.repo.SetEntitlementPending(order.ID, false)
}

func (r *Reconciler) lookupOrder(event *CanonicalEvent) (*models.Order, error) {
	if event.ExternalID != "" {
		order, err := r.repo.GetOrderByExternalID(event.ExternalID)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	// Legacy payloads omit external_id; fall back to the provider invoice id.
	if event.ProviderInvoiceID != "" {
		order, err := r.repo.GetOrderByProviderInvoiceID(event.ProviderInvoiceID)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: external_id=%q invoice_id=%q",
		ErrOrderNotFound, event.ExternalID, event.ProviderInvoiceID)
}

// terminalResult classifies an event hitting an already-terminal order.
// A duplicate delivery is an idempotent no-op. A PAID event against a
// non-paid terminal order means money was captured for an order already
// closed (e.g. swept to expired); the terminal state stays, the conflict is
// surfaced for operator review.
func (r *Reconciler) terminalResult(order *models.Order, event *CanonicalEvent) *ReconcileResult {
	if event.Status == EventStatusPaid && order.Status != models.OrderStatusPaid {
		log.Errorf("[Reconciler] PAID event for terminal order %s (status=%s): manual reconciliation required",
			order.ExternalID, order.Status)
		return &ReconcileResult{Outcome: OutcomeConflict, Order: order}
	}
	return &ReconcileResult{Outcome: OutcomeAlreadyReconciled, Order: order}
}

func (r *Reconciler) applyPaid(ctx context.Context, order *models.Order, event *CanonicalEvent) (*ReconcileResult, error) {
	paidAt := time.Now().UTC()
	if event.PaidAt != nil {
		paidAt = event.PaidAt.UTC()
	}

	won, err := r.repo.MarkOrderPaid(order.ID, paidAt)
	if err != nil {
		return nil, fmt.Errorf("mark order %s paid: %w", order.ExternalID, err)
	}
	if !won {
		// Race lost: a concurrent delivery transitioned the order first.
		fresh, err := r.repo.GetOrderByExternalID(order.ExternalID)
		if err != nil {
			return nil, err
		}
		return r.terminalResult(fresh, event), nil
	}

	order.Status = models.OrderStatusPaid
	order.PaidAt = &paidAt

	if err := r.applier.Apply(ctx, order); err != nil {
		// The customer has genuinely paid: the order stays paid and is
		// flagged for the retry sweep instead of being rolled back.
		log.Errorf("[Reconciler] Entitlement application failed for order %s: %v", order.ExternalID, err)
		if ferr := r.repo.SetEntitlementPending(order.ID, true); ferr != nil {
			log.Errorf("[Reconciler] Failed to flag order %s entitlement_pending: %v", order.ExternalID, ferr)
		}
		order.EntitlementPending = true
		if r.enqueueRetry != nil {
			r.enqueueRetry(order.ID)
		}
		return &ReconcileResult{Outcome: OutcomePaidEntitlementPending, Order: order}, nil
	}

	if order.EntitlementPending {
		if err := r.repo.SetEntitlementPending(order.ID, false); err != nil {
			log.Errorf("[Reconciler] Failed to clear entitlement_pending for order %s: %v", order.ExternalID, err)
		}
		order.EntitlementPending = false
	}

	return &ReconcileResult{Outcome: OutcomeApplied, Order: order}, nil
}

func (r *Reconciler) applyTerminal(order *models.Order, event *CanonicalEvent, status string) (*ReconcileResult, error) {
	won, err := r.repo.MarkOrderTerminal(order.ID, status)
	if err != nil {
		return nil, fmt.Errorf("mark order %s %s: %w", order.ExternalID, status, err)
	}
	if !won {
		fresh, err := r.repo.GetOrderByExternalID(order.ExternalID)
		if err != nil {
			return nil, err
		}
		return r.terminalResult(fresh, event), nil
	}

	order.Status = status
	return &ReconcileResult{Outcome: OutcomeApplied, Order: order}, nil
}
