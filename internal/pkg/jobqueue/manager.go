package jobqueue

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/inviteku/inviteku/app/models"
	"github.com/inviteku/inviteku/internal/pkg/database"
	"github.com/inviteku/inviteku/internal/pkg/env"
	"github.com/inviteku/inviteku/internal/pkg/payment"
)

const (
	retrySweepBatchSize  = 100
	expirySweepBatchSize = 200
)

// Manager manages the global job queue and background tasks
type Manager struct {
	queue        *Queue
	retryTicker  *time.Ticker
	expiryTicker *time.Ticker
	stopCh       chan struct{}
	wg           sync.WaitGroup
	mu           sync.Mutex
	running      bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global job queue manager (singleton)
func GetManager() *Manager {
	managerOnce.Do(func() {
		workerCount := 5
		if raw := env.GetEnv("JOBQUEUE_WORKERS", ""); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				workerCount = parsed
			}
		}

		queue := NewQueue(workerCount)
		queue.SetEntitlementRetryHandler(func(ctx context.Context, orderID uint) error {
			rec := payment.NewReconcilerFromDB(database.GetDB(), nil)
			return rec.RetryEntitlement(ctx, orderID)
		})

		globalManager = &Manager{
			queue:  queue,
			stopCh: make(chan struct{}),
		}
	})
	return globalManager
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// EnqueueEntitlementRetry queues a re-application of the entitlement for a
// paid order whose first write failed.
func (m *Manager) EnqueueEntitlementRetry(orderID uint) {
	payload := EntitlementRetryJobPayload{OrderID: orderID}
	if _, err := m.queue.EnqueueJob(JobTypeEntitlementRetry, payload.ToMap()); err != nil {
		log.Errorf("[JobQueue Manager] Failed to enqueue entitlement retry for order %d: %v", orderID, err)
	}
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	// Start the job queue
	m.queue.Start()

	retryInterval := 2 * time.Minute
	if raw := env.GetEnv("ENTITLEMENT_RETRY_INTERVAL", ""); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
			retryInterval = parsed
		}
	}
	expiryInterval := 5 * time.Minute
	if raw := env.GetEnv("ORDER_EXPIRY_INTERVAL", ""); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
			expiryInterval = parsed
		}
	}

	// Re-drive paid orders whose entitlement write failed
	m.retryTicker = time.NewTicker(retryInterval)
	m.wg.Add(1)
	go m.entitlementRetryWorker()

	// Close out pending orders whose invoice window has passed
	m.expiryTicker = time.NewTicker(expiryInterval)
	m.wg.Add(1)
	go m.orderExpiryWorker()

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.retryTicker != nil {
		m.retryTicker.Stop()
	}
	if m.expiryTicker != nil {
		m.expiryTicker.Stop()
	}

	// Signal workers to stop
	close(m.stopCh)
	m.stopCh = nil
	m.running = false

	// Wait for background workers to finish
	m.wg.Wait()

	// Stop the job queue
	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// entitlementRetryWorker runs periodically to re-drive pending entitlements
func (m *Manager) entitlementRetryWorker() {
	defer m.wg.Done()
	log.Info("[JobQueue Manager] Started entitlement retry worker")

	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Entitlement retry worker stopping")
			return
		case <-m.retryTicker.C:
			log.Debug("[JobQueue Manager] Running entitlement retry sweep")
			if err := m.runEntitlementRetrySweepOnce(); err != nil {
				log.Errorf("[JobQueue Manager] Entitlement retry sweep error: %v", err)
			}
		}
	}
}

// orderExpiryWorker runs periodically to expire stale pending orders
func (m *Manager) orderExpiryWorker() {
	defer m.wg.Done()
	log.Info("[JobQueue Manager] Started order expiry worker")

	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Order expiry worker stopping")
			return
		case <-m.expiryTicker.C:
			log.Debug("[JobQueue Manager] Running order expiry sweep")
			if err := m.runOrderExpirySweepOnce(); err != nil {
				log.Errorf("[JobQueue Manager] Order expiry sweep error: %v", err)
			}
		}
	}
}

// runEntitlementRetrySweepOnce enqueues a retry job for every paid order
// still flagged entitlement_pending. The jobs themselves are idempotent, so
// double-enqueueing across sweeps is harmless.
func (m *Manager) runEntitlementRetrySweepOnce() error {
	repo := payment.NewRepository(database.GetDB())
	orders, err := repo.ListEntitlementPendingOrders(retrySweepBatchSize)
	if err != nil {
		return err
	}
	for _, order := range orders {
		m.EnqueueEntitlementRetry(order.ID)
	}
	if len(orders) > 0 {
		log.Infof("[JobQueue Manager] Enqueued %d entitlement retries", len(orders))
	}
	return nil
}

// runOrderExpirySweepOnce marks pending orders as expired once their invoice
// window has long passed. The provider's own EXPIRED webhook usually gets
// there first; this sweep catches lost callbacks. The transition is the same
// conditional update the webhook path uses, so the two never double-fire.
func (m *Manager) runOrderExpirySweepOnce() error {
	maxAge := 48 * time.Hour
	if raw := env.GetEnv("ORDER_EXPIRY_MAX_AGE", ""); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
			maxAge = parsed
		}
	}

	repo := payment.NewRepository(database.GetDB())
	orders, err := repo.ListStalePendingOrders(time.Now().Add(-maxAge), expirySweepBatchSize)
	if err != nil {
		return err
	}

	expired := 0
	for _, order := range orders {
		won, err := repo.MarkOrderTerminal(order.ID, models.OrderStatusExpired)
		if err != nil {
			log.Errorf("[JobQueue Manager] Failed to expire order %d: %v", order.ID, err)
			continue
		}
		if won {
			expired++
		}
	}
	if expired > 0 {
		log.Infof("[JobQueue Manager] Expired %d stale pending orders", expired)
	}
	return nil
}

// RunOrderExpirySweepOnce exposes a manual trigger for a single expiry sweep (admin use).
func (m *Manager) RunOrderExpirySweepOnce() error {
	return m.runOrderExpirySweepOnce()
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
