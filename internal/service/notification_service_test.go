package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/onurcolak/unified-inbox/environments"
	"github.com/onurcolak/unified-inbox/internal/apperrors"
	"github.com/onurcolak/unified-inbox/internal/domain"
	"github.com/onurcolak/unified-inbox/pkg/database"
	"github.com/onurcolak/unified-inbox/pkg/validator"
)

type markCall struct {
	id     int64
	chatID *string
	errMsg *string
}

type fakeNotificationRepo struct {
	mu        sync.Mutex
	templates map[string]*domain.MessageTemplate
	created   []domain.ScheduledNotification
	due       []domain.ScheduledNotification
	marks     []markCall
	markErr   error
}

func newFakeNotificationRepo() *fakeNotificationRepo {
	return &fakeNotificationRepo{
		templates: map[string]*domain.MessageTemplate{
			domain.TemplateBookingConfirmation: {Type: domain.TemplateBookingConfirmation, Body: "Hi {fullname}, see you {datetime}", IsActive: true},
			domain.TemplateReviewRequest:       {Type: domain.TemplateReviewRequest, Body: "How was {service_name}, {fullname}?", IsActive: true},
		},
	}
}

func (f *fakeNotificationRepo) GetActiveTemplate(ctx context.Context, templateType string) (*domain.MessageTemplate, error) {
	t, ok := f.templates[templateType]
	if !ok {
		return nil, fmt.Errorf("type %s: %w", templateType, apperrors.ErrTemplateNotFound)
	}
	if !t.IsActive {
		return nil, fmt.Errorf("type %s: %w", templateType, apperrors.ErrTemplateInactive)
	}
	return t, nil
}

func (f *fakeNotificationRepo) CreateScheduledNotification(ctx context.Context, n *domain.ScheduledNotification) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, *n)
	return int64(len(f.created)), nil
}

// ListDueScheduledNotifications leaves out rows that were marked sent.
func (f *fakeNotificationRepo) ListDueScheduledNotifications(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledNotification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	marked := make(map[int64]bool, len(f.marks))
	for _, m := range f.marks {
		marked[m.id] = true
	}

	var due []domain.ScheduledNotification
	for _, n := range f.due {
		if !marked[n.ID] {
			due = append(due, n)
		}
	}
	return due, nil
}

func (f *fakeNotificationRepo) MarkNotificationSent(ctx context.Context, id int64, chatID, errMsg *string, sentAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	f.marks = append(f.marks, markCall{id: id, chatID: chatID, errMsg: errMsg})
	return nil
}

func (f *fakeNotificationRepo) GetStats(ctx context.Context) (int64, int64, int64, error) {
	return 3, 5, 1, nil
}

type fakeLedger struct {
	mu        sync.Mutex
	processed map[string]bool
	markErr   error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{processed: make(map[string]bool)}
}

func (f *fakeLedger) IsRecordProcessed(ctx context.Context, source, externalID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.processed[source+"/"+externalID], nil
}

func (f *fakeLedger) MarkRecordProcessed(ctx context.Context, rec domain.ProcessedRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	key := rec.Source + "/" + rec.ExternalRecordID
	if f.processed[key] {
		return fmt.Errorf("record %s: %w", key, apperrors.ErrDuplicate)
	}
	f.processed[key] = true
	return nil
}

func (f *fakeLedger) CountProcessed(ctx context.Context, source string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for key := range f.processed {
		if strings.HasPrefix(key, source+"/") {
			n++
		}
	}
	return n, nil
}

type fakeBookings struct {
	events []domain.BookingEvent
	calls  int
}

func (f *fakeBookings) IsConfigured() bool { return true }

func (f *fakeBookings) FetchRecords(ctx context.Context, from, to time.Time, limit int) ([]domain.BookingEvent, error) {
	f.calls++
	return f.events, nil
}

type sentMessage struct {
	chatID string
	text   string
}

type fakeMessenger struct {
	mu       sync.Mutex
	phones   map[string]string
	sent     []sentMessage
	resolves int
	sendErr  error
}

func (f *fakeMessenger) ResolveDestination(ctx context.Context, phone string) (string, domain.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolves++
	if id, ok := f.phones[phone]; ok {
		return id, domain.SourceTelegram, nil
	}
	return "", "", fmt.Errorf("phone %s: %w", phone, apperrors.ErrDestinationUnresolved)
}

func (f *fakeMessenger) Send(ctx context.Context, chatID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text})
	return nil
}

type fakeDeliveryCache struct {
	mu     sync.Mutex
	cached map[int64]*domain.DeliveryCache
}

func (f *fakeDeliveryCache) CacheDelivery(ctx context.Context, notificationID int64, chatID string, sentAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cached == nil {
		f.cached = make(map[int64]*domain.DeliveryCache)
	}
	f.cached[notificationID] = &domain.DeliveryCache{ChatID: chatID, SentAt: sentAt}
	return nil
}

func (f *fakeDeliveryCache) GetAllCachedDeliveries(ctx context.Context) (map[int64]*domain.DeliveryCache, error) {
	return f.cached, nil
}

type notificationFixture struct {
	repo      *fakeNotificationRepo
	ledger    *fakeLedger
	bookings  *fakeBookings
	messenger *fakeMessenger
	cache     *fakeDeliveryCache
	svc       *NotificationService
	now       time.Time
}

func newNotificationFixture() *notificationFixture {
	f := &notificationFixture{
		repo:      newFakeNotificationRepo(),
		ledger:    newFakeLedger(),
		bookings:  &fakeBookings{},
		messenger: &fakeMessenger{phones: map[string]string{"79001234567": "tg_42"}},
		cache:     &fakeDeliveryCache{},
		now:       time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
	}

	f.svc = NewNotificationService(NotificationDeps{
		Repo:      f.repo,
		Ledger:    f.ledger,
		Bookings:  f.bookings,
		Messenger: f.messenger,
		Cache:     f.cache,
		Validator: validator.New(),
	}, environments.NotificationConfig{
		ReviewDelay:    2 * time.Hour,
		ReconcileLimit: 100,
		SweepWorkers:   4,
	})
	f.svc.now = func() time.Time { return f.now }

	return f
}

func TestNotificationService_Notify(t *testing.T) {
	f := newNotificationFixture()

	res, err := f.svc.Notify(context.Background(), "+7 900 123-45-67", domain.TemplateBookingConfirmation,
		map[string]any{"fullname": "Anna", "datetime": "tomorrow"})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if res.ChatID != "tg_42" || res.Source != domain.SourceTelegram {
		t.Fatalf("unexpected destination: %+v", res)
	}
	if res.Text != "Hi Anna, see you tomorrow" {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if len(f.messenger.sent) != 1 || f.messenger.sent[0].chatID != "tg_42" {
		t.Fatalf("expected one send to tg_42, got %+v", f.messenger.sent)
	}
}

func TestNotificationService_NotifyErrors(t *testing.T) {
	f := newNotificationFixture()
	f.repo.templates["disabled"] = &domain.MessageTemplate{Type: "disabled", Body: "x"}
	ctx := context.Background()

	if _, err := f.svc.Notify(ctx, "  ", domain.TemplateBookingConfirmation, nil); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("expected ErrValidation for empty phone, got %v", err)
	}
	if _, err := f.svc.Notify(ctx, "79001234567", "missing", nil); !errors.Is(err, apperrors.ErrTemplateNotFound) {
		t.Errorf("expected ErrTemplateNotFound, got %v", err)
	}
	if _, err := f.svc.Notify(ctx, "79001234567", "disabled", nil); !errors.Is(err, apperrors.ErrTemplateInactive) {
		t.Errorf("expected ErrTemplateInactive, got %v", err)
	}
	if _, err := f.svc.Notify(ctx, "70000000000", domain.TemplateBookingConfirmation, nil); !errors.Is(err, apperrors.ErrDestinationUnresolved) {
		t.Errorf("expected ErrDestinationUnresolved, got %v", err)
	}

	if f.messenger.resolves != 1 {
		t.Errorf("expected only the unresolvable call to reach the messenger, got %d lookups", f.messenger.resolves)
	}
	if len(f.messenger.sent) != 0 {
		t.Errorf("expected nothing sent, got %+v", f.messenger.sent)
	}
}

func TestNotificationService_ScheduleDeferred(t *testing.T) {
	f := newNotificationFixture()
	target := time.Date(2024, 5, 2, 15, 0, 0, 0, time.UTC)

	n, err := f.svc.ScheduleDeferred(context.Background(), domain.DeferredRequest{
		Phone:        "+7 (900) 123-45-67",
		DisplayName:  "Anna",
		TemplateType: domain.TemplateReviewRequest,
		TargetTime:   target,
		Variables:    map[string]any{"fullname": "Anna", "service_name": "Haircut"},
	})
	if err != nil {
		t.Fatalf("ScheduleDeferred: %v", err)
	}

	if want := target.Add(2 * time.Hour); !n.SendAt.Equal(want) {
		t.Fatalf("expected send at %s, got %s", want, n.SendAt)
	}
	if n.Phone != "79001234567" || n.RenderedText != "How was Haircut, Anna?" {
		t.Fatalf("unexpected notification: %+v", n)
	}
	if n.Sent || n.ID != 1 {
		t.Fatalf("expected pending notification with id 1, got %+v", n)
	}
	if len(f.messenger.sent) != 0 || f.messenger.resolves != 0 {
		t.Fatalf("scheduling must not touch the chat backends")
	}
}

func TestNotificationService_ScheduleDeferredValidation(t *testing.T) {
	f := newNotificationFixture()
	ctx := context.Background()

	if _, err := f.svc.ScheduleDeferred(ctx, domain.DeferredRequest{TemplateType: domain.TemplateReviewRequest}); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("expected ErrValidation for missing phone, got %v", err)
	}
	if _, err := f.svc.ScheduleDeferred(ctx, domain.DeferredRequest{Phone: "79001234567"}); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("expected ErrValidation for missing template type, got %v", err)
	}
	if len(f.repo.created) != 0 {
		t.Errorf("expected nothing persisted, got %d rows", len(f.repo.created))
	}
}

func TestNotificationService_ProcessDue(t *testing.T) {
	f := newNotificationFixture()
	preset := "wa_7@c.us"
	f.repo.due = []domain.ScheduledNotification{
		{ID: 1, Phone: "79001234567", RenderedText: "one"},
		{ID: 2, Phone: "70000000000", RenderedText: "two"},
		{ID: 3, Phone: "70000000000", RenderedText: "three", TargetChatID: &preset},
	}

	results, err := f.svc.ProcessDue(context.Background())
	if err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	byID := make(map[int64]domain.DeliveryResult)
	for _, r := range results {
		byID[r.NotificationID] = r
	}

	if !byID[1].Success || byID[1].ChatID != "tg_42" {
		t.Errorf("notification 1: %+v", byID[1])
	}
	if byID[2].Success || !errors.Is(byID[2].Error, apperrors.ErrDestinationUnresolved) {
		t.Errorf("notification 2 should fail unresolved: %+v", byID[2])
	}
	if !byID[3].Success || byID[3].ChatID != preset {
		t.Errorf("notification 3 should use its stored chat: %+v", byID[3])
	}

	if len(f.repo.marks) != 3 {
		t.Fatalf("expected each row marked exactly once, got %d marks", len(f.repo.marks))
	}
	for _, m := range f.repo.marks {
		switch m.id {
		case 2:
			if m.errMsg == nil || m.chatID != nil {
				t.Errorf("unresolved row should carry an error and no chat: %+v", m)
			}
		default:
			if m.errMsg != nil {
				t.Errorf("row %d should carry no error, got %q", m.id, *m.errMsg)
			}
		}
	}

	if len(f.cache.cached) != 2 {
		t.Errorf("expected 2 cached deliveries, got %d", len(f.cache.cached))
	}
	if _, ok := f.cache.cached[2]; ok {
		t.Errorf("failed delivery must not be cached")
	}
}

func TestNotificationService_ProcessDueSendFailureIsTerminal(t *testing.T) {
	f := newNotificationFixture()
	f.messenger.sendErr = errors.New("bridge down")
	f.repo.due = []domain.ScheduledNotification{{ID: 9, Phone: "79001234567", RenderedText: "x"}}

	results, err := f.svc.ProcessDue(context.Background())
	if err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}

	if results[0].Success {
		t.Fatalf("expected failed delivery")
	}
	if len(f.repo.marks) != 1 || f.repo.marks[0].errMsg == nil || *f.repo.marks[0].errMsg != "bridge down" {
		t.Fatalf("expected row marked with the send error, got %+v", f.repo.marks)
	}
}

func TestNotificationService_ProcessDueMarkFailure(t *testing.T) {
	f := newNotificationFixture()
	f.repo.markErr = errors.New("db gone")
	f.repo.due = []domain.ScheduledNotification{{ID: 5, Phone: "79001234567", RenderedText: "x"}}

	results, err := f.svc.ProcessDue(context.Background())
	if err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}

	if results[0].Success {
		t.Fatalf("expected failure when the row cannot be marked")
	}
	if len(f.cache.cached) != 0 {
		t.Fatalf("unmarked delivery must not be cached")
	}
}

func TestNotificationService_ProcessDueDoesNotRedeliver(t *testing.T) {
	f := newNotificationFixture()
	f.repo.due = []domain.ScheduledNotification{{ID: 4, Phone: "79001234567", RenderedText: "once"}}

	first, err := f.svc.ProcessDue(context.Background())
	if err != nil || len(first) != 1 || !first[0].Success {
		t.Fatalf("first sweep: %+v %v", first, err)
	}

	second, err := f.svc.ProcessDue(context.Background())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("expected nothing due on the second sweep, got %+v", second)
	}

	if len(f.repo.marks) != 1 {
		t.Errorf("expected 1 mark, got %d", len(f.repo.marks))
	}
	if f.messenger.resolves != 1 || len(f.messenger.sent) != 1 {
		t.Errorf("expected 1 resolve and 1 send, got %d and %d", f.messenger.resolves, len(f.messenger.sent))
	}
}

func TestNotificationService_ProcessDueNothingDue(t *testing.T) {
	f := newNotificationFixture()

	results, err := f.svc.ProcessDue(context.Background())
	if err != nil || len(results) != 0 {
		t.Fatalf("expected no results, got %v %v", results, err)
	}
}

func TestNotificationService_ReconcileIsIdempotent(t *testing.T) {
	f := newNotificationFixture()
	f.bookings.events = []domain.BookingEvent{
		{ExternalID: "101", Phone: "+7 900 123-45-67", FullName: "Anna", EventTime: "2024-05-02 15:00:00", ServiceName: "Haircut"},
	}
	ctx := context.Background()

	summary, err := f.svc.ReconcileNewBookingEvents(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if summary.Processed != 1 || summary.Notified != 1 || summary.Scheduled != 1 {
		t.Fatalf("unexpected first summary: %+v", summary)
	}
	if len(f.messenger.sent) != 1 || f.messenger.sent[0].text != "Hi Anna, see you 2024-05-02 15:00:00" {
		t.Fatalf("unexpected confirmation: %+v", f.messenger.sent)
	}
	if len(f.repo.created) != 1 {
		t.Fatalf("expected one review request, got %d", len(f.repo.created))
	}
	wantSendAt := time.Date(2024, 5, 2, 17, 0, 0, 0, time.UTC)
	if !f.repo.created[0].SendAt.Equal(wantSendAt) {
		t.Fatalf("expected review at %s, got %s", wantSendAt, f.repo.created[0].SendAt)
	}

	summary, err = f.svc.ReconcileNewBookingEvents(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if summary.Skipped != 1 || summary.Processed != 0 {
		t.Fatalf("unexpected second summary: %+v", summary)
	}
	if len(f.messenger.sent) != 1 || len(f.repo.created) != 1 {
		t.Fatalf("second run must not send or schedule again")
	}
}

func TestNotificationService_ReconcileDuplicateInsertCountsAsSkipped(t *testing.T) {
	f := newNotificationFixture()
	f.ledger.markErr = fmt.Errorf("record: %w", apperrors.ErrDuplicate)
	f.bookings.events = []domain.BookingEvent{{ExternalID: "7", Phone: "79001234567"}}

	summary, err := f.svc.ReconcileNewBookingEvents(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("ReconcileNewBookingEvents: %v", err)
	}

	if summary.Skipped != 1 || summary.Failed != 0 || summary.Processed != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestNotificationService_ReconcileInvalidRecordMakesNoCalls(t *testing.T) {
	f := newNotificationFixture()
	f.bookings.events = []domain.BookingEvent{
		{ExternalID: "1", Phone: ""},
		{ExternalID: "", Phone: "79001234567"},
		{ExternalID: "2", Phone: "not a phone"},
	}

	summary, err := f.svc.ReconcileNewBookingEvents(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("ReconcileNewBookingEvents: %v", err)
	}

	if summary.Invalid != 3 || summary.Fetched != 3 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if f.messenger.resolves != 0 || len(f.messenger.sent) != 0 || len(f.repo.created) != 0 {
		t.Fatalf("invalid records must not reach the backends")
	}
	if len(f.ledger.processed) != 0 {
		t.Fatalf("invalid records must not be recorded")
	}
}

func TestNotificationService_ReconcileWithoutEventTimeSkipsReview(t *testing.T) {
	f := newNotificationFixture()
	f.bookings.events = []domain.BookingEvent{{ExternalID: "3", Phone: "79001234567"}}

	summary, err := f.svc.ReconcileNewBookingEvents(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("ReconcileNewBookingEvents: %v", err)
	}

	if summary.Scheduled != 0 || summary.Processed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if f.messenger.sent[0].text != "Hi Client, see you " {
		t.Fatalf("expected default name, got %q", f.messenger.sent[0].text)
	}
}

func TestNotificationService_ReconcileUnconfigured(t *testing.T) {
	f := newNotificationFixture()
	f.svc.bookings = nil

	summary, err := f.svc.ReconcileNewBookingEvents(context.Background(), time.Hour)
	if err != nil || *summary != (domain.ReconcileSummary{}) {
		t.Fatalf("expected empty summary, got %+v %v", summary, err)
	}
}

func TestNotificationService_GetStats(t *testing.T) {
	f := newNotificationFixture()
	f.ledger.processed["yclients/1"] = true
	f.ledger.processed["yclients/2"] = true
	f.ledger.processed["other/1"] = true

	stats, err := f.svc.GetStats(context.Background())
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}

	want := domain.NotificationStats{Pending: 3, Sent: 5, Failed: 1, Total: 9, ProcessedBookings: 2}
	if *stats != want {
		t.Fatalf("expected %+v, got %+v", want, *stats)
	}
}

func TestParseEventTime(t *testing.T) {
	fallback := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	want := time.Date(2024, 5, 2, 15, 0, 0, 0, time.UTC)

	tests := map[string]time.Time{
		"2024-05-02T15:00:00Z":      want,
		"2024-05-02T18:00:00+03:00": want,
		"2024-05-02 15:00:00":       want,
		"2024-05-02T15:00:00":       want,
		"tomorrow":                  fallback,
	}

	for in, expected := range tests {
		if got := ParseEventTime(in, fallback); !got.Equal(expected) {
			t.Errorf("ParseEventTime(%q) = %s, want %s", in, got, expected)
		}
	}
}

func TestBookingVariables(t *testing.T) {
	tests := []struct {
		name        string
		event       domain.BookingEvent
		wantService string
		wantStaff   string
		wantName    string
	}{
		{
			name:        "names from the backend",
			event:       domain.BookingEvent{FullName: "Anna", ServiceID: 55, ServiceName: "Haircut", StaffID: 9, StaffName: "Olga"},
			wantService: "Haircut",
			wantStaff:   "Olga",
			wantName:    "Anna",
		},
		{
			name:        "ids without names",
			event:       domain.BookingEvent{FullName: "Anna", ServiceID: 55, StaffID: 9},
			wantService: "Service #55",
			wantStaff:   "Staff #9",
			wantName:    "Anna",
		},
		{
			name:        "nothing known",
			event:       domain.BookingEvent{ServiceName: "  "},
			wantService: "Service",
			wantStaff:   "Staff",
			wantName:    "Client",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vars := BookingVariables(tt.event)
			if vars["service_name"] != tt.wantService {
				t.Errorf("service_name = %v, want %s", vars["service_name"], tt.wantService)
			}
			if vars["staff_name"] != tt.wantStaff {
				t.Errorf("staff_name = %v, want %s", vars["staff_name"], tt.wantStaff)
			}
			if vars["fullname"] != tt.wantName {
				t.Errorf("fullname = %v, want %s", vars["fullname"], tt.wantName)
			}
		})
	}
}

func TestBookingVariables_RenderDefaultConfirmation(t *testing.T) {
	event := domain.BookingEvent{FullName: "Anna", ServiceID: 55, StaffID: 9, EventTime: "2025-01-01T10:00:00+03:00"}

	got := RenderTemplate(database.DefaultTemplates[0].Body, BookingVariables(event))

	want := "Hello, Anna! You are booked for Service #55 with Staff #9 on 2025-01-01T10:00:00+03:00. See you soon!"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
