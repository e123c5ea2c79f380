package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/time/rate"

	"github.com/onurcolak/unified-inbox/environments"
	"github.com/onurcolak/unified-inbox/internal/apperrors"
	"github.com/onurcolak/unified-inbox/internal/domain"
	"github.com/onurcolak/unified-inbox/internal/metrics"
	"github.com/onurcolak/unified-inbox/pkg/logger"
)

// LedgerSourceBookings namespaces booking records in the processed ledger.
const LedgerSourceBookings = "yclients"

const dueBatchSize = 100

// Small internal interfaces so we can test without touching real DB/Redis/HTTP.
type notificationRepository interface {
	GetActiveTemplate(ctx context.Context, templateType string) (*domain.MessageTemplate, error)
	CreateScheduledNotification(ctx context.Context, n *domain.ScheduledNotification) (int64, error)
	ListDueScheduledNotifications(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledNotification, error)
	MarkNotificationSent(ctx context.Context, id int64, chatID, errMsg *string, sentAt time.Time) error
	GetStats(ctx context.Context) (pending, sent, failed int64, err error)
}

type recordLedger interface {
	IsRecordProcessed(ctx context.Context, source, externalID string) (bool, error)
	MarkRecordProcessed(ctx context.Context, rec domain.ProcessedRecord) error
	CountProcessed(ctx context.Context, source string) (int64, error)
}

type bookingClient interface {
	IsConfigured() bool
	FetchRecords(ctx context.Context, from, to time.Time, limit int) ([]domain.BookingEvent, error)
}

type messenger interface {
	ResolveDestination(ctx context.Context, phone string) (string, domain.Source, error)
	Send(ctx context.Context, chatID, text string) error
}

type deliveryCache interface {
	CacheDelivery(ctx context.Context, notificationID int64, chatID string, sentAt time.Time) error
	GetAllCachedDeliveries(ctx context.Context) (map[int64]*domain.DeliveryCache, error)
}

type structValidator interface {
	Validate(i any) error
}

type NotificationService struct {
	repo      notificationRepository
	ledger    recordLedger
	bookings  bookingClient
	messenger messenger
	cache     deliveryCache
	validator structValidator
	config    environments.NotificationConfig
	limiter   *rate.Limiter
	now       func() time.Time
}

type NotificationDeps struct {
	Repo      notificationRepository
	Ledger    recordLedger
	Bookings  bookingClient
	Messenger messenger
	Cache     deliveryCache
	Validator structValidator
}

func NewNotificationService(deps NotificationDeps, config environments.NotificationConfig) *NotificationService {
	var limiter *rate.Limiter
	if config.SendRatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.SendRatePerSecond), 1)
	}
	if config.SweepWorkers <= 0 {
		config.SweepWorkers = 1
	}

	return &NotificationService{
		repo:      deps.Repo,
		ledger:    deps.Ledger,
		bookings:  deps.Bookings,
		messenger: deps.Messenger,
		cache:     deps.Cache,
		validator: deps.Validator,
		config:    config,
		limiter:   limiter,
		now:       time.Now,
	}
}

// Notify renders the active template of templateType and sends it to the chat
// the phone number resolves to.
func (s *NotificationService) Notify(ctx context.Context, phone, templateType string, vars map[string]any) (*domain.DispatchResult, error) {
	normalized := NormalizePhone(phone)
	if normalized == "" {
		return nil, fmt.Errorf("phone is required: %w", apperrors.ErrValidation)
	}

	tmpl, err := s.repo.GetActiveTemplate(ctx, templateType)
	if err != nil {
		return nil, err
	}

	text := RenderTemplate(tmpl.Body, vars)

	chatID, source, err := s.messenger.ResolveDestination(ctx, normalized)
	if err != nil {
		metrics.IncNotification("unresolved")
		return nil, err
	}

	if err := s.messenger.Send(ctx, chatID, text); err != nil {
		metrics.IncNotification("failed")
		return nil, fmt.Errorf("failed to send %s notification: %w", templateType, err)
	}

	metrics.IncNotification("sent")
	logger.Infof("Sent %s notification to %s via %s", templateType, chatID, source)

	return &domain.DispatchResult{ChatID: chatID, Source: source, Text: text}, nil
}

// ScheduleDeferred renders now and persists a notification due at
// TargetTime plus the configured delay. Destination is resolved at send time.
func (s *NotificationService) ScheduleDeferred(ctx context.Context, req domain.DeferredRequest) (*domain.ScheduledNotification, error) {
	normalized := NormalizePhone(req.Phone)
	if normalized == "" {
		return nil, fmt.Errorf("phone is required: %w", apperrors.ErrValidation)
	}
	if req.TemplateType == "" {
		return nil, fmt.Errorf("template type is required: %w", apperrors.ErrValidation)
	}

	tmpl, err := s.repo.GetActiveTemplate(ctx, req.TemplateType)
	if err != nil {
		return nil, err
	}

	target := req.TargetTime
	if target.IsZero() {
		target = s.now()
	}

	n := &domain.ScheduledNotification{
		Phone:        normalized,
		DisplayName:  req.DisplayName,
		TemplateType: req.TemplateType,
		RenderedText: RenderTemplate(tmpl.Body, req.Variables),
		SendAt:       target.Add(s.config.ReviewDelay).UTC(),
	}

	id, err := s.repo.CreateScheduledNotification(ctx, n)
	if err != nil {
		return nil, err
	}
	n.ID = id

	metrics.IncNotification("scheduled")
	logger.Infof("Scheduled %s notification %d for %s at %s", n.TemplateType, id, normalized, n.SendAt.Format(time.RFC3339))

	return n, nil
}

// ProcessDue attempts every due notification once. Each row ends terminal
// (sent=true), carrying the error text when delivery failed.
func (s *NotificationService) ProcessDue(ctx context.Context) ([]domain.DeliveryResult, error) {
	due, err := s.repo.ListDueScheduledNotifications(ctx, s.now().UTC(), dueBatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to get due notifications: %w", err)
	}

	if len(due) == 0 {
		logger.Debugf("No due notifications to process")
		return nil, nil
	}

	logger.Infof("Processing %d due notifications", len(due))

	pool, err := ants.NewPool(s.config.SweepWorkers)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	defer pool.Release()

	results := make([]domain.DeliveryResult, len(due))

	var wg sync.WaitGroup
	for i := range due {
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			results[i] = s.deliver(ctx, &due[i])
		})
		if submitErr != nil {
			wg.Done()
			results[i] = domain.DeliveryResult{
				NotificationID: due[i].ID,
				Error:          fmt.Errorf("failed to schedule delivery: %w", submitErr),
			}
		}
	}
	wg.Wait()

	return results, nil
}

func (s *NotificationService) deliver(ctx context.Context, n *domain.ScheduledNotification) domain.DeliveryResult {
	result := domain.DeliveryResult{NotificationID: n.ID}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			// Not attempted; the row stays pending for the next sweep.
			result.Error = err
			return result
		}
	}

	var chatID string
	if n.TargetChatID != nil && *n.TargetChatID != "" {
		chatID = *n.TargetChatID
	} else {
		resolved, _, err := s.messenger.ResolveDestination(ctx, n.Phone)
		if err != nil {
			logger.Warnf("Notification %d: %v", n.ID, err)
			metrics.IncNotification("unresolved")
			return s.finish(ctx, n, result, "", err)
		}
		chatID = resolved
	}

	if err := s.messenger.Send(ctx, chatID, n.RenderedText); err != nil {
		logger.Errorf("Failed to send notification %d to %s: %v", n.ID, chatID, err)
		metrics.IncNotification("failed")
		return s.finish(ctx, n, result, chatID, err)
	}

	metrics.IncNotification("sent")
	return s.finish(ctx, n, result, chatID, nil)
}

func (s *NotificationService) finish(
	ctx context.Context,
	n *domain.ScheduledNotification,
	result domain.DeliveryResult,
	chatID string,
	sendErr error,
) domain.DeliveryResult {
	result.ChatID = chatID
	result.SentAt = s.now().UTC()
	result.Success = sendErr == nil
	result.Error = sendErr

	var chatPtr, errPtr *string
	if chatID != "" {
		chatPtr = &chatID
	}
	if sendErr != nil {
		msg := sendErr.Error()
		errPtr = &msg
	}

	if err := s.repo.MarkNotificationSent(ctx, n.ID, chatPtr, errPtr, result.SentAt); err != nil {
		logger.Errorf("Failed to mark notification %d as sent: %v", n.ID, err)
		result.Success = false
		result.Error = errors.Join(sendErr, err)
		return result
	}

	if result.Success && s.cache != nil {
		if err := s.cache.CacheDelivery(ctx, n.ID, chatID, result.SentAt); err != nil {
			logger.Warnf("Failed to cache delivery of notification %d: %v", n.ID, err)
		}
	}

	if result.Success {
		logger.Infof("Delivered notification %d to %s", n.ID, chatID)
	}

	return result
}

// ReconcileNewBookingEvents confirms bookings seen upstream within lookback and
// schedules their review requests. The processed ledger keeps it idempotent.
func (s *NotificationService) ReconcileNewBookingEvents(ctx context.Context, lookback time.Duration) (*domain.ReconcileSummary, error) {
	summary := &domain.ReconcileSummary{}

	if s.bookings == nil || !s.bookings.IsConfigured() {
		logger.Debugf("Booking backend not configured, skipping reconciliation")
		return summary, nil
	}

	now := s.now().UTC()
	events, err := s.bookings.FetchRecords(ctx, now.Add(-lookback), now, s.config.ReconcileLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch booking records: %w", err)
	}

	for _, event := range events {
		summary.Fetched++
		outcome := s.reconcileOne(ctx, event, now, summary)
		metrics.IncReconcileRecord(outcome)
	}

	logger.Infof("Reconciliation done: fetched=%d processed=%d skipped=%d invalid=%d failed=%d",
		summary.Fetched, summary.Processed, summary.Skipped, summary.Invalid, summary.Failed)

	return summary, nil
}

func (s *NotificationService) reconcileOne(ctx context.Context, event domain.BookingEvent, now time.Time, summary *domain.ReconcileSummary) string {
	if s.validator != nil {
		if err := s.validator.Validate(event); err != nil {
			logger.Warnf("Skipping invalid booking record %q: %v", event.ExternalID, err)
			summary.Invalid++
			return "invalid"
		}
	}

	processed, err := s.ledger.IsRecordProcessed(ctx, LedgerSourceBookings, event.ExternalID)
	if err != nil {
		logger.Errorf("Failed to check booking record %s: %v", event.ExternalID, err)
		summary.Failed++
		return "failed"
	}
	if processed {
		summary.Skipped++
		return "skipped"
	}

	vars := BookingVariables(event)

	if _, err := s.Notify(ctx, event.Phone, domain.TemplateBookingConfirmation, vars); err != nil {
		logger.Warnf("Booking %s confirmation not sent: %v", event.ExternalID, err)
	} else {
		summary.Notified++
	}

	if event.EventTime != "" {
		_, err := s.ScheduleDeferred(ctx, domain.DeferredRequest{
			Phone:        event.Phone,
			DisplayName:  vars["fullname"].(string),
			TemplateType: domain.TemplateReviewRequest,
			TargetTime:   ParseEventTime(event.EventTime, now),
			Variables:    vars,
		})
		if err != nil {
			logger.Warnf("Booking %s review request not scheduled: %v", event.ExternalID, err)
		} else {
			summary.Scheduled++
		}
	}

	err = s.ledger.MarkRecordProcessed(ctx, domain.ProcessedRecord{
		Source:           LedgerSourceBookings,
		ExternalRecordID: event.ExternalID,
		Phone:            NormalizePhone(event.Phone),
		DisplayName:      vars["fullname"].(string),
		EventTime:        event.EventTime,
	})
	switch {
	case errors.Is(err, apperrors.ErrDuplicate):
		summary.Skipped++
		return "skipped"
	case err != nil:
		logger.Errorf("Failed to record booking %s as processed: %v", event.ExternalID, err)
		summary.Failed++
		return "failed"
	}

	summary.Processed++
	return "processed"
}

// BookingVariables builds the template variables for a booking event.
func BookingVariables(event domain.BookingEvent) map[string]any {
	fullname := strings.TrimSpace(event.FullName)
	if fullname == "" {
		fullname = "Client"
	}

	return map[string]any{
		"fullname":     fullname,
		"phone":        event.Phone,
		"datetime":     event.EventTime,
		"service_name": nameOrFallback(event.ServiceName, "Service", event.ServiceID),
		"staff_name":   nameOrFallback(event.StaffName, "Staff", event.StaffID),
		"comment":      event.Comment,
	}
}

// nameOrFallback labels a booking entity the backend returned without a name.
func nameOrFallback(name, label string, id int64) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	if id > 0 {
		return fmt.Sprintf("%s #%d", label, id)
	}
	return label
}

var eventTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// ParseEventTime reads a booking time; zone-less layouts are taken as UTC and
// anything unparsable falls back to fallback.
func ParseEventTime(value string, fallback time.Time) time.Time {
	value = strings.TrimSpace(value)
	for _, layout := range eventTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}

	logger.Warnf("Unparsable booking time %q, using %s", value, fallback.Format(time.RFC3339))
	return fallback
}

func (s *NotificationService) GetCachedDeliveries(ctx context.Context) (map[int64]*domain.DeliveryCache, error) {
	if s.cache == nil {
		return nil, fmt.Errorf("redis client not configured")
	}
	return s.cache.GetAllCachedDeliveries(ctx)
}

func (s *NotificationService) GetStats(ctx context.Context) (*domain.NotificationStats, error) {
	pending, sent, failed, err := s.repo.GetStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get notification stats: %w", err)
	}

	processed, err := s.ledger.CountProcessed(ctx, LedgerSourceBookings)
	if err != nil {
		return nil, fmt.Errorf("failed to count processed bookings: %w", err)
	}

	return &domain.NotificationStats{
		Pending:           pending,
		Sent:              sent,
		Failed:            failed,
		Total:             pending + sent + failed,
		ProcessedBookings: processed,
	}, nil
}
