package domain

import "time"

const (
	TemplateBookingConfirmation = "booking_confirmation"
	TemplateReviewRequest       = "review_request"
)

type MessageTemplate struct {
	ID       int64  `db:"id" json:"id"`
	Name     string `db:"name" json:"name"`
	Type     string `db:"type" json:"type"`
	Body     string `db:"body" json:"body"`
	IsActive bool   `db:"is_active" json:"isActive"`
}

// ScheduledNotification is a deferred send-task. Sent is terminal: failures are
// recorded in Error and never retried.
type ScheduledNotification struct {
	ID           int64      `db:"id" json:"id"`
	Phone        string     `db:"phone" json:"phone"`
	DisplayName  string     `db:"display_name" json:"displayName"`
	TemplateType string     `db:"template_type" json:"templateType"`
	RenderedText string     `db:"rendered_text" json:"renderedText"`
	TargetChatID *string    `db:"target_chat_id" json:"targetChatId,omitempty"`
	SendAt       time.Time  `db:"send_at" json:"sendAt"`
	Sent         bool       `db:"sent" json:"sent"`
	SentAt       *time.Time `db:"sent_at" json:"sentAt,omitempty"`
	Error        *string    `db:"error" json:"error,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
}

// ProcessedRecord is a dedup ledger row; (Source, ExternalRecordID) is unique.
type ProcessedRecord struct {
	ID               int64     `db:"id" json:"id"`
	Source           string    `db:"source" json:"source"`
	ExternalRecordID string    `db:"external_record_id" json:"externalRecordId"`
	Phone            string    `db:"phone" json:"phone"`
	DisplayName      string    `db:"display_name" json:"displayName"`
	EventTime        string    `db:"event_time" json:"eventTime"`
	ProcessedAt      time.Time `db:"processed_at" json:"processedAt"`
}

// DeferredRequest describes a notification to render now and deliver later.
type DeferredRequest struct {
	Phone        string
	DisplayName  string
	TemplateType string
	TargetTime   time.Time
	Variables    map[string]any
}

type DispatchResult struct {
	ChatID string `json:"chatId"`
	Source Source `json:"source"`
	Text   string `json:"text"`
}

type DeliveryResult struct {
	NotificationID int64
	ChatID         string
	Success        bool
	Error          error
	SentAt         time.Time
}

type DeliveryCache struct {
	ChatID string    `json:"chatId"`
	SentAt time.Time `json:"sentAt"`
}

type NotificationStats struct {
	Pending           int64 `json:"pending"`
	Sent              int64 `json:"sent"`
	Failed            int64 `json:"failed"`
	Total             int64 `json:"total"`
	ProcessedBookings int64 `json:"processedBookings"`
}
