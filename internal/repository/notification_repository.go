package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/onurcolak/unified-inbox/internal/apperrors"
	"github.com/onurcolak/unified-inbox/internal/domain"
)

// NotificationRepository handles templates and scheduled notifications.
type NotificationRepository struct {
	db *sqlx.DB
}

func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// GetActiveTemplate returns the template of the given type, failing with
// ErrTemplateNotFound or ErrTemplateInactive.
func (r *NotificationRepository) GetActiveTemplate(ctx context.Context, templateType string) (*domain.MessageTemplate, error) {
	query := `
		SELECT id, name, type, body, is_active
		FROM message_templates
		WHERE type = ?
		LIMIT 1
	`

	var tmpl domain.MessageTemplate
	if err := r.db.GetContext(ctx, &tmpl, query, templateType); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", templateType, apperrors.ErrTemplateNotFound)
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	if !tmpl.IsActive {
		return nil, fmt.Errorf("%s: %w", templateType, apperrors.ErrTemplateInactive)
	}

	return &tmpl, nil
}

func (r *NotificationRepository) CreateScheduledNotification(ctx context.Context, n *domain.ScheduledNotification) (int64, error) {
	query := `
		INSERT INTO scheduled_notifications (phone, display_name, template_type, rendered_text, target_chat_id, send_at, sent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, FALSE, CURRENT_TIMESTAMP)
	`

	result, err := r.db.ExecContext(ctx, query,
		n.Phone, n.DisplayName, n.TemplateType, n.RenderedText, n.TargetChatID, n.SendAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create scheduled notification: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return id, nil
}

// ListDueScheduledNotifications returns unsent rows whose send time has passed.
func (r *NotificationRepository) ListDueScheduledNotifications(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledNotification, error) {
	query := `
		SELECT id, phone, display_name, template_type, rendered_text, target_chat_id, send_at, sent, sent_at, error, created_at
		FROM scheduled_notifications
		WHERE sent = FALSE AND send_at <= ?
		ORDER BY send_at ASC
		LIMIT ?
	`

	var rows []domain.ScheduledNotification
	if err := r.db.SelectContext(ctx, &rows, query, now, limit); err != nil {
		return nil, fmt.Errorf("failed to list due notifications: %w", err)
	}

	return rows, nil
}

// MarkNotificationSent makes a row terminal. A row that is already sent is
// never rewritten; that case reports ErrNotFound.
func (r *NotificationRepository) MarkNotificationSent(ctx context.Context, id int64, chatID, errMsg *string, sentAt time.Time) error {
	query := `
		UPDATE scheduled_notifications
		SET sent = TRUE, sent_at = ?, target_chat_id = COALESCE(?, target_chat_id), error = ?
		WHERE id = ? AND sent = FALSE
	`

	result, err := r.db.ExecContext(ctx, query, sentAt, chatID, errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to mark notification as sent: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("no pending notification with id %d: %w", id, apperrors.ErrNotFound)
	}

	return nil
}

// GetStats counts pending, sent and failed notifications.
func (r *NotificationRepository) GetStats(ctx context.Context) (pending, sent, failed int64, err error) {
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN sent = FALSE THEN 1 ELSE 0 END), 0) AS pending,
			COALESCE(SUM(CASE WHEN sent = TRUE AND error IS NULL THEN 1 ELSE 0 END), 0) AS sent,
			COALESCE(SUM(CASE WHEN sent = TRUE AND error IS NOT NULL THEN 1 ELSE 0 END), 0) AS failed
		FROM scheduled_notifications
	`

	var stats struct {
		Pending int64 `db:"pending"`
		Sent    int64 `db:"sent"`
		Failed  int64 `db:"failed"`
	}

	if err := r.db.GetContext(ctx, &stats, query); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to get stats: %w", err)
	}

	return stats.Pending, stats.Sent, stats.Failed, nil
}
