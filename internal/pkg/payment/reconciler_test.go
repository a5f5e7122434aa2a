package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/inviteku/inviteku/app/models"
)

// fakeOrderRepo implements Repository in memory with the same conditional
// transition semantics as the GORM repository.
type fakeOrderRepo struct {
	mu     sync.Mutex
	orders map[uint]*models.Order
	events map[string]*models.PaymentWebhookEvent
	nextID uint
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{
		orders: make(map[uint]*models.Order),
		events: make(map[string]*models.PaymentWebhookEvent),
		nextID: 1,
	}
}

func (r *fakeOrderRepo) addOrder(o *models.Order) *models.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o.ID == 0 {
		o.ID = r.nextID
		r.nextID++
	}
	cp := *o
	r.orders[o.ID] = &cp
	return o
}

func (r *fakeOrderRepo) CreateOrder(o *models.Order) error {
	r.addOrder(o)
	return nil
}

func (r *fakeOrderRepo) GetOrderByID(id uint) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.orders[id]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeOrderRepo) GetOrderByExternalID(externalID string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.ExternalID == externalID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeOrderRepo) GetOrderByProviderInvoiceID(invoiceID string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.ProviderInvoiceID == invoiceID && invoiceID != "" {
			cp := *o
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeOrderRepo) SetProviderInvoiceID(orderID uint, invoiceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.orders[orderID]; ok {
		o.ProviderInvoiceID = invoiceID
	}
	return nil
}

func (r *fakeOrderRepo) MarkOrderPaid(orderID uint, paidAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok || o.Status != models.OrderStatusPending {
		return false, nil
	}
	o.Status = models.OrderStatusPaid
	o.PaidAt = &paidAt
	return true, nil
}

func (r *fakeOrderRepo) MarkOrderTerminal(orderID uint, status string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok || o.Status != models.OrderStatusPending {
		return false, nil
	}
	o.Status = status
	return true, nil
}

func (r *fakeOrderRepo) SetEntitlementPending(orderID uint, pending bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.orders[orderID]; ok {
		o.EntitlementPending = pending
	}
	return nil
}

func (r *fakeOrderRepo) ListEntitlementPendingOrders(limit int) ([]models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Order
	for _, o := range r.orders {
		if o.Status == models.OrderStatusPaid && o.EntitlementPending {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (r *fakeOrderRepo) ListStalePendingOrders(olderThan time.Time, limit int) ([]models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Order
	for _, o := range r.orders {
		if o.Status == models.OrderStatusPending && o.CreatedAt.Before(olderThan) {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (r *fakeOrderRepo) GetActivePackage(id uint) (*models.Package, error) {
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeOrderRepo) GetInvitation(id uint) (*models.Invitation, error) {
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeOrderRepo) ListActiveFeatures() ([]models.Feature, error) {
	return nil, nil
}

func (r *fakeOrderRepo) CreateWebhookEventIfNotExists(event *models.PaymentWebhookEvent) (bool, *models.PaymentWebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := event.Provider + "/" + event.ProviderEventID
	if stored, ok := r.events[key]; ok {
		cp := *stored
		return false, &cp, nil
	}
	event.ID = uint(len(r.events) + 1)
	cp := *event
	r.events[key] = &cp
	return true, &cp, nil
}

func (r *fakeOrderRepo) MarkWebhookProcessed(id uint, processingError string) error {
	return nil
}

// countingApplier counts entitlement applications and can fail on demand.
type countingApplier struct {
	mu      sync.Mutex
	applied int
	fail    bool
}

func (a *countingApplier) Apply(ctx context.Context, order *models.Order) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail {
		return errors.New("transient storage error")
	}
	a.applied++
	return nil
}

func (a *countingApplier) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.applied
}

func pendingOrder(repo *fakeOrderRepo) *models.Order {
	return repo.addOrder(&models.Order{
		ExternalID: "ord_abc",
		Kind:       models.OrderKindNewPackage,
		UserID:     1,
		PackageID:  1,
		Status:     models.OrderStatusPending,
	})
}

func paidEvent() *CanonicalEvent {
	paidAt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return &CanonicalEvent{
		ExternalID:        "ord_abc",
		ProviderInvoiceID: "inv_123",
		Status:            EventStatusPaid,
		PaidAt:            &paidAt,
	}
}

func TestReconcilerAppliesPaidEventOnce(t *testing.T) {
	repo := newFakeOrderRepo()
	order := pendingOrder(repo)
	applier := &countingApplier{}
	rec := NewReconciler(repo, applier, nil)

	res, err := rec.Apply(context.Background(), paidEvent())
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if res.Outcome != OutcomeApplied {
		t.Fatalf("outcome = %q, want %q", res.Outcome, OutcomeApplied)
	}

	stored, _ := repo.GetOrderByID(order.ID)
	if stored.Status != models.OrderStatusPaid {
		t.Fatalf("order status = %q, want paid", stored.Status)
	}
	if stored.PaidAt == nil || !stored.PaidAt.Equal(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("paid_at = %v", stored.PaidAt)
	}
	if applier.count() != 1 {
		t.Fatalf("entitlement applied %d times, want 1", applier.count())
	}
}

func TestReconcilerDuplicateDeliveryIsNoOp(t *testing.T) {
	repo := newFakeOrderRepo()
	pendingOrder(repo)
	applier := &countingApplier{}
	rec := NewReconciler(repo, applier, nil)

	for i := 0; i < 5; i++ {
		res, err := rec.Apply(context.Background(), paidEvent())
		if err != nil {
			t.Fatalf("Apply #%d failed: %v", i, err)
		}
		want := OutcomeApplied
		if i > 0 {
			want = OutcomeAlreadyReconciled
		}
		if res.Outcome != want {
			t.Fatalf("Apply #%d outcome = %q, want %q", i, res.Outcome, want)
		}
	}

	if applier.count() != 1 {
		t.Fatalf("entitlement applied %d times, want exactly 1", applier.count())
	}
}

func TestReconcilerConcurrentDeliveries(t *testing.T) {
	repo := newFakeOrderRepo()
	pendingOrder(repo)
	applier := &countingApplier{}
	rec := NewReconciler(repo, applier, nil)

	const workers = 16
	var wg sync.WaitGroup
	outcomes := make(chan Outcome, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := rec.Apply(context.Background(), paidEvent())
			if err != nil {
				t.Errorf("concurrent Apply failed: %v", err)
				return
			}
			outcomes <- res.Outcome
		}()
	}
	wg.Wait()
	close(outcomes)

	wins := 0
	for outcome := range outcomes {
		if outcome == OutcomeApplied {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("%d deliveries won the paid transition, want exactly 1", wins)
	}
	if applier.count() != 1 {
		t.Fatalf("entitlement applied %d times, want exactly 1", applier.count())
	}
}

func TestReconcilerTerminalStatesAreImmutable(t *testing.T) {
	for _, status := range []string{models.OrderStatusFailed, models.OrderStatusExpired, models.OrderStatusCanceled} {
		repo := newFakeOrderRepo()
		order := pendingOrder(repo)
		applier := &countingApplier{}
		rec := NewReconciler(repo, applier, nil)

		event := paidEvent()
		event.Status = map[string]string{
			models.OrderStatusFailed:   EventStatusFailed,
			models.OrderStatusExpired:  EventStatusExpired,
			models.OrderStatusCanceled: EventStatusCanceled,
		}[status]

		if _, err := rec.Apply(context.Background(), event); err != nil {
			t.Fatalf("Apply(%s) failed: %v", status, err)
		}

		// A failed/expired/canceled event against the now-terminal order is a no-op.
		res, err := rec.Apply(context.Background(), event)
		if err != nil {
			t.Fatalf("duplicate Apply(%s) failed: %v", status, err)
		}
		if res.Outcome != OutcomeAlreadyReconciled {
			t.Fatalf("duplicate outcome = %q, want already_reconciled", res.Outcome)
		}

		stored, _ := repo.GetOrderByID(order.ID)
		if stored.Status != status {
			t.Fatalf("order status = %q, want %q", stored.Status, status)
		}
		if applier.count() != 0 {
			t.Fatalf("non-paid event applied entitlements")
		}
	}
}

func TestReconcilerLatePaidAfterExpiryIsConflict(t *testing.T) {
	repo := newFakeOrderRepo()
	order := pendingOrder(repo)
	applier := &countingApplier{}
	rec := NewReconciler(repo, applier, nil)

	expired := paidEvent()
	expired.Status = EventStatusExpired
	if _, err := rec.Apply(context.Background(), expired); err != nil {
		t.Fatalf("expire Apply failed: %v", err)
	}

	// Money captured after the sweep closed the order: expired stays terminal.
	res, err := rec.Apply(context.Background(), paidEvent())
	if err != nil {
		t.Fatalf("late paid Apply failed: %v", err)
	}
	if res.Outcome != OutcomeConflict {
		t.Fatalf("outcome = %q, want %q", res.Outcome, OutcomeConflict)
	}

	stored, _ := repo.GetOrderByID(order.ID)
	if stored.Status != models.OrderStatusExpired {
		t.Fatalf("order status = %q, want expired", stored.Status)
	}
	if applier.count() != 0 {
		t.Fatalf("conflicting paid event applied entitlements")
	}
}

func TestReconcilerEntitlementFailureFlagsOrder(t *testing.T) {
	repo := newFakeOrderRepo()
	order := pendingOrder(repo)
	applier := &countingApplier{fail: true}
	var enqueued []uint
	rec := NewReconciler(repo, applier, func(orderID uint) {
		enqueued = append(enqueued, orderID)
	})

	res, err := rec.Apply(context.Background(), paidEvent())
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if res.Outcome != OutcomePaidEntitlementPending {
		t.Fatalf("outcome = %q, want %q", res.Outcome, OutcomePaidEntitlementPending)
	}

	stored, _ := repo.GetOrderByID(order.ID)
	if stored.Status != models.OrderStatusPaid {
		t.Fatalf("order status = %q, want paid (never rolled back)", stored.Status)
	}
	if !stored.EntitlementPending {
		t.Fatal("order was not flagged entitlement_pending")
	}
	if len(enqueued) != 1 || enqueued[0] != order.ID {
		t.Fatalf("retry enqueue = %v, want [%d]", enqueued, order.ID)
	}

	// The retry sweep later succeeds and clears the flag.
	applier.fail = false
	if err := rec.RetryEntitlement(context.Background(), order.ID); err != nil {
		t.Fatalf("RetryEntitlement failed: %v", err)
	}
	stored, _ = repo.GetOrderByID(order.ID)
	if stored.EntitlementPending {
		t.Fatal("entitlement_pending was not cleared after successful retry")
	}
	if applier.count() != 1 {
		t.Fatalf("entitlement applied %d times, want 1", applier.count())
	}
}

func TestReconcilerFallsBackToInvoiceID(t *testing.T) {
	repo := newFakeOrderRepo()
	order := pendingOrder(repo)
	_ = repo.SetProviderInvoiceID(order.ID, "inv_123")
	applier := &countingApplier{}
	rec := NewReconciler(repo, applier, nil)

	// Legacy payloads omit external_id.
	event := paidEvent()
	event.ExternalID = ""

	res, err := rec.Apply(context.Background(), event)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if res.Outcome != OutcomeApplied {
		t.Fatalf("outcome = %q, want applied", res.Outcome)
	}
}

func TestReconcilerOrderNotFound(t *testing.T) {
	rec := NewReconciler(newFakeOrderRepo(), &countingApplier{}, nil)

	_, err := rec.Apply(context.Background(), paidEvent())
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}
