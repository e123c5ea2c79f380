package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/onurcolak/unified-inbox/environments"
	"github.com/onurcolak/unified-inbox/internal/domain"
	"github.com/onurcolak/unified-inbox/internal/metrics"
	"github.com/onurcolak/unified-inbox/pkg/logger"
)

const (
	DefaultSweepInterval     = time.Minute
	DefaultReconcileInterval = 5 * time.Minute
	DefaultReconcileLookback = 24 * time.Hour

	reconcileLeaseKey = "inbox:lease:reconcile"
	defaultHeartbeat  = 10 * time.Second
)

var (
	// ErrTooSoon is returned when a job ran within its window or is still running.
	ErrTooSoon = errors.New("job ran too recently")
	// ErrLeaseHeld means another process owns the reconciliation lease.
	ErrLeaseHeld = errors.New("reconciliation lease held by another process")
)

// notificationProcessor is the part of NotificationService the scheduler drives.
type notificationProcessor interface {
	ProcessDue(ctx context.Context) ([]domain.DeliveryResult, error)
	ReconcileNewBookingEvents(ctx context.Context, lookback time.Duration) (*domain.ReconcileSummary, error)
}

// LeaseStore grants time-bounded leases shared between processes.
type LeaseStore interface {
	AcquireLease(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type Scheduler struct {
	processor notificationProcessor
	leases    LeaseStore
	lookback  time.Duration
	heartbeat time.Duration

	sweepGate     *gate
	reconcileGate *gate

	alertClient     *resty.Client
	alertWebhook    string
	alertThreshold  int
	lastAlertSentAt time.Time

	// Internal state
	running  bool
	stopChan chan struct{}
	doneChan chan struct{}
	mu       sync.RWMutex

	// Statistics
	sweepsCount       int64
	reconcilesCount   int64
	notificationsSent int64
	lastReconcile     *domain.ReconcileSummary

	consecutiveAllFailCount int
}

// NewScheduler wires the periodic jobs. leases may be nil when no shared
// store is configured; the in-process gate still applies.
func NewScheduler(
	processor notificationProcessor,
	leases LeaseStore,
	cfg environments.NotificationConfig,
	alert environments.AlertConfig,
) *Scheduler {
	sweepInterval := cfg.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	reconcileInterval := cfg.ReconcileInterval
	if reconcileInterval <= 0 {
		reconcileInterval = DefaultReconcileInterval
	}
	lookback := cfg.ReconcileLookback
	if lookback <= 0 {
		lookback = DefaultReconcileLookback
	}

	heartbeat := defaultHeartbeat
	if sweepInterval < heartbeat {
		heartbeat = sweepInterval
	}

	return &Scheduler{
		processor:      processor,
		leases:         leases,
		lookback:       lookback,
		heartbeat:      heartbeat,
		sweepGate:      newGate(sweepInterval),
		reconcileGate:  newGate(reconcileInterval),
		alertClient:    resty.New().SetTimeout(10 * time.Second).SetRetryCount(3).SetHeader("Content-Type", "application/json"),
		alertWebhook:   alert.WebhookURL,
		alertThreshold: alert.IterationCount,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()

	if s.running {
		s.mu.Unlock()
		logger.Warnf("Scheduler is already running")
		return nil
	}

	s.running = true
	s.stopChan = make(chan struct{})
	s.doneChan = make(chan struct{})
	stopChan, doneChan := s.stopChan, s.doneChan
	s.mu.Unlock()

	logger.Infof("Starting scheduler: sweep every %v, reconcile every %v", s.sweepGate.Window(), s.reconcileGate.Window())

	go s.run(ctx, stopChan, doneChan)

	return nil
}

func (s *Scheduler) run(ctx context.Context, stopChan <-chan struct{}, doneChan chan struct{}) {
	defer close(doneChan)

	s.tick(ctx)

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)

		case <-stopChan:
			logger.Warnf("Scheduler received stop signal")
			return

		case <-ctx.Done():
			logger.Warnf("Scheduler context cancelled")
			s.mu.Lock()
			// A later Start may already own the state.
			if s.doneChan == doneChan {
				s.running = false
			}
			s.mu.Unlock()
			return
		}
	}
}

// tick runs whichever jobs their gates let through.
func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.TriggerSweep(ctx); err != nil && !errors.Is(err, ErrTooSoon) {
		logger.Errorf("Sweep failed: %v", err)
	}

	if _, err := s.TriggerReconcile(ctx); err != nil && !errors.Is(err, ErrTooSoon) && !errors.Is(err, ErrLeaseHeld) {
		logger.Errorf("Reconciliation failed: %v", err)
	}
}

type SweepReport struct {
	RunID     string `json:"runId"`
	Attempted int    `json:"attempted"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
}

// TriggerSweep delivers due notifications unless a sweep ran within the window.
func (s *Scheduler) TriggerSweep(ctx context.Context) (*SweepReport, error) {
	if !s.sweepGate.TryAcquire(time.Now()) {
		return nil, ErrTooSoon
	}
	defer s.sweepGate.Release()

	runID := uuid.NewString()
	log := logger.With("job", "sweep", "run_id", runID)
	started := time.Now()
	defer metrics.ObserveRun("sweep", started)

	s.mu.Lock()
	s.sweepsCount++
	s.mu.Unlock()

	results, err := s.processor.ProcessDue(ctx)
	if err != nil {
		log.Errorf("Error processing due notifications: %v", err)
		return nil, fmt.Errorf("sweep: %w", err)
	}

	report := &SweepReport{RunID: runID, Attempted: len(results)}
	if len(results) == 0 {
		log.Debugf("No notifications due")
		return report, nil
	}

	for _, r := range results {
		if r.Success {
			report.Succeeded++
		}
	}
	report.Failed = report.Attempted - report.Succeeded

	s.recordSweep(log, runID, report)

	log.Infof("Processed %d notifications, %d successful, %d failed", report.Attempted, report.Succeeded, report.Failed)

	return report, nil
}

func (s *Scheduler) recordSweep(log *zap.SugaredLogger, runID string, report *SweepReport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.notificationsSent += int64(report.Succeeded)

	if report.Succeeded > 0 {
		if s.consecutiveAllFailCount > 0 {
			log.Debugf("Resetting consecutive failure count (was: %d)", s.consecutiveAllFailCount)
		}
		s.consecutiveAllFailCount = 0
		return
	}

	s.consecutiveAllFailCount++
	log.Warnf("All %d deliveries failed (consecutive count: %d/%d)",
		report.Attempted, s.consecutiveAllFailCount, s.alertThreshold)

	if s.alertThreshold > 0 && s.consecutiveAllFailCount >= s.alertThreshold && s.alertWebhook != "" {
		go s.sendAlert(s.alertWebhook, runID, s.consecutiveAllFailCount, report.Attempted)
	}
}

// TriggerReconcile pulls recent bookings unless a reconciliation ran within the
// window here, or another process holds the shared lease.
func (s *Scheduler) TriggerReconcile(ctx context.Context) (*domain.ReconcileSummary, error) {
	if !s.reconcileGate.TryAcquire(time.Now()) {
		return nil, ErrTooSoon
	}
	defer s.reconcileGate.Release()

	if s.leases != nil {
		ok, err := s.leases.AcquireLease(ctx, reconcileLeaseKey, s.reconcileGate.Window())
		if err != nil {
			// Lease store unavailable; the local gate still applies.
			logger.Warnf("Failed to acquire reconciliation lease: %v", err)
		} else if !ok {
			logger.Debugf("Reconciliation lease held elsewhere, skipping")
			return nil, ErrLeaseHeld
		}
	}

	runID := uuid.NewString()
	log := logger.With("job", "reconcile", "run_id", runID)
	started := time.Now()
	defer metrics.ObserveRun("reconcile", started)

	summary, err := s.processor.ReconcileNewBookingEvents(ctx, s.lookback)
	if err != nil {
		log.Errorf("Error reconciling booking events: %v", err)
		return nil, fmt.Errorf("reconcile: %w", err)
	}

	s.mu.Lock()
	s.reconcilesCount++
	s.lastReconcile = summary
	s.mu.Unlock()

	log.Infof("Reconciled %d booking events (%d new)", summary.Fetched, summary.Processed)

	return summary, nil
}

func (s *Scheduler) Stop() error {
	s.mu.Lock()

	if !s.running {
		s.mu.Unlock()
		logger.Warnf("Scheduler is not running")
		return nil
	}

	s.running = false
	stopChan := s.stopChan
	doneChan := s.doneChan
	s.mu.Unlock()

	close(stopChan)
	<-doneChan

	logger.Infof("Scheduler stopped")
	return nil
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) GetStatus() SchedulerStatus {
	lastSweep := s.sweepGate.LastRun()
	lastReconcile := s.reconcileGate.LastRun()

	s.mu.RLock()
	defer s.mu.RUnlock()

	status := SchedulerStatus{
		Running:                 s.running,
		LastSweepAt:             lastSweep,
		LastReconcileAt:         lastReconcile,
		SweepsCount:             s.sweepsCount,
		ReconcilesCount:         s.reconcilesCount,
		NotificationsSent:       s.notificationsSent,
		SweepInterval:           s.sweepGate.Window().String(),
		ReconcileInterval:       s.reconcileGate.Window().String(),
		ConsecutiveAllFailCount: s.consecutiveAllFailCount,
		LastAlertSentAt:         s.lastAlertSentAt,
		LastReconcile:           s.lastReconcile,
	}

	if s.running {
		if !lastSweep.IsZero() {
			status.NextSweepAt = lastSweep.Add(s.sweepGate.Window())
		}
		if !lastReconcile.IsZero() {
			status.NextReconcileAt = lastReconcile.Add(s.reconcileGate.Window())
		}
	}

	return status
}

func (s *Scheduler) sendAlert(webhookURL, runID string, consecutiveFailures, deliveriesInBatch int) {
	payload := map[string]any{
		"alert":               "consecutive_all_fail",
		"runId":               runID,
		"consecutiveFailures": consecutiveFailures,
		"deliveriesInBatch":   deliveriesInBatch,
		"timestamp":           time.Now().Format(time.RFC3339),
		"message": fmt.Sprintf(
			"All %d deliveries failed for %d consecutive sweeps",
			deliveriesInBatch,
			consecutiveFailures,
		),
	}

	resp, err := s.alertClient.R().SetBody(payload).Post(webhookURL)
	if err != nil {
		logger.Errorf("Failed to send alert to webhook: %v", err)
		return
	}

	if resp.IsSuccess() {
		s.mu.Lock()
		s.lastAlertSentAt = time.Now()
		s.mu.Unlock()
		logger.Infof("Alert sent to %s (consecutive failures: %d)", webhookURL, consecutiveFailures)
	} else {
		logger.Warnf("Alert webhook returned status %d", resp.StatusCode())
	}
}

type SchedulerStatus struct {
	Running                 bool                     `json:"running"`
	LastSweepAt             time.Time                `json:"lastSweepAt,omitempty"`
	NextSweepAt             time.Time                `json:"nextSweepAt,omitempty"`
	LastReconcileAt         time.Time                `json:"lastReconcileAt,omitempty"`
	NextReconcileAt         time.Time                `json:"nextReconcileAt,omitempty"`
	SweepsCount             int64                    `json:"sweepsCount"`
	ReconcilesCount         int64                    `json:"reconcilesCount"`
	NotificationsSent       int64                    `json:"notificationsSent"`
	SweepInterval           string                   `json:"sweepInterval"`
	ReconcileInterval       string                   `json:"reconcileInterval"`
	ConsecutiveAllFailCount int                      `json:"consecutiveAllFailCount"`
	LastAlertSentAt         time.Time                `json:"lastAlertSentAt,omitempty"`
	LastReconcile           *domain.ReconcileSummary `json:"lastReconcile,omitempty"`
}
