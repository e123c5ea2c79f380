package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onurcolak/unified-inbox/internal/apperrors"
	"github.com/onurcolak/unified-inbox/internal/domain"
)

type AnyTime struct{}

func (a AnyTime) Match(v driver.Value) bool {
	_, ok := v.(time.Time)
	return ok
}

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	return sqlx.NewDb(mockDB, "sqlmock"), mock
}

func TestGetActiveTemplate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNotificationRepository(db)

	rows := sqlmock.NewRows([]string{"id", "name", "type", "body", "is_active"}).
		AddRow(1, "Confirmation", domain.TemplateBookingConfirmation, "Hi {fullname}", true)
	mock.ExpectQuery(regexp.QuoteMeta("FROM message_templates")).
		WithArgs(domain.TemplateBookingConfirmation).
		WillReturnRows(rows)

	tmpl, err := repo.GetActiveTemplate(context.Background(), domain.TemplateBookingConfirmation)
	require.NoError(t, err)
	assert.Equal(t, "Hi {fullname}", tmpl.Body)
	assert.True(t, tmpl.IsActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetActiveTemplate_Inactive(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNotificationRepository(db)

	rows := sqlmock.NewRows([]string{"id", "name", "type", "body", "is_active"}).
		AddRow(2, "Review", domain.TemplateReviewRequest, "Rate us", false)
	mock.ExpectQuery(regexp.QuoteMeta("FROM message_templates")).
		WithArgs(domain.TemplateReviewRequest).
		WillReturnRows(rows)

	_, err := repo.GetActiveTemplate(context.Background(), domain.TemplateReviewRequest)
	assert.ErrorIs(t, err, apperrors.ErrTemplateInactive)
}

func TestGetActiveTemplate_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNotificationRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM message_templates")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "type", "body", "is_active"}))

	_, err := repo.GetActiveTemplate(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrTemplateNotFound)
}

func TestCreateScheduledNotification(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNotificationRepository(db)

	sendAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	n := &domain.ScheduledNotification{
		Phone:        "79001234567",
		DisplayName:  "Anna",
		TemplateType: domain.TemplateReviewRequest,
		RenderedText: "How was it?",
		SendAt:       sendAt,
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO scheduled_notifications")).
		WithArgs(n.Phone, n.DisplayName, n.TemplateType, n.RenderedText, nil, sendAt).
		WillReturnResult(sqlmock.NewResult(17, 1))

	id, err := repo.CreateScheduledNotification(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, int64(17), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListDueScheduledNotifications(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNotificationRepository(db)

	now := time.Now().UTC()
	cols := []string{"id", "phone", "display_name", "template_type", "rendered_text", "target_chat_id",
		"send_at", "sent", "sent_at", "error", "created_at"}
	rows := sqlmock.NewRows(cols).
		AddRow(1, "79001", "A", domain.TemplateReviewRequest, "text", nil, now.Add(-time.Minute), false, nil, nil, now.Add(-time.Hour))

	mock.ExpectQuery(regexp.QuoteMeta("WHERE sent = FALSE AND send_at <= ?")).
		WithArgs(now, 50).
		WillReturnRows(rows)

	due, err := repo.ListDueScheduledNotifications(context.Background(), now, 50)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Nil(t, due[0].TargetChatID)
	assert.False(t, due[0].Sent)
}

func TestMarkNotificationSent(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNotificationRepository(db)

	chatID := "tg_5"
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = ? AND sent = FALSE")).
		WithArgs(AnyTime{}, "tg_5", nil, int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkNotificationSent(context.Background(), 3, &chatID, nil, time.Now())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkNotificationSent_TerminalRowUntouched(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNotificationRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = ? AND sent = FALSE")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkNotificationSent(context.Background(), 3, nil, nil, time.Now())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestIsRecordProcessed(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewLedgerRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM processed_records WHERE source = ? AND external_record_id = ?")).
		WithArgs("yclients", "1001").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	processed, err := repo.IsRecordProcessed(context.Background(), "yclients", "1001")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestMarkRecordProcessed(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewLedgerRepository(db)

	rec := domain.ProcessedRecord{
		Source:           "yclients",
		ExternalRecordID: "1001",
		Phone:            "79001234567",
		DisplayName:      "Anna",
		EventTime:        "2024-05-01T10:00:00Z",
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO processed_records")).
		WithArgs(rec.Source, rec.ExternalRecordID, rec.Phone, rec.DisplayName, rec.EventTime).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.MarkRecordProcessed(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRecordProcessed_Duplicate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewLedgerRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO processed_records")).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

	err := repo.MarkRecordProcessed(context.Background(), domain.ProcessedRecord{Source: "yclients", ExternalRecordID: "1"})
	assert.ErrorIs(t, err, apperrors.ErrDuplicate)
}

func TestMarkRecordProcessed_OtherError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewLedgerRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO processed_records")).
		WillReturnError(errors.New("connection reset"))

	err := repo.MarkRecordProcessed(context.Background(), domain.ProcessedRecord{Source: "yclients", ExternalRecordID: "1"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, apperrors.ErrDuplicate))
}

func TestGetStats(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNotificationRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM scheduled_notifications")).
		WillReturnRows(sqlmock.NewRows([]string{"pending", "sent", "failed"}).AddRow(4, 10, 2))

	pending, sent, failed, err := repo.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 10, 2}, []int64{pending, sent, failed})
}
