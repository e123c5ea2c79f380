package database

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/onurcolak/unified-inbox/environments"
	"github.com/onurcolak/unified-inbox/internal/domain"
	"github.com/onurcolak/unified-inbox/pkg/logger"
)

func DSN(cfg environments.DatabaseConfig) string {
	return fmt.Sprintf(
		"%s:%s@tcp(%s:%s)/%s?parseTime=true&loc=UTC&charset=utf8mb4&collation=utf8mb4_unicode_ci",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName,
	)
}

// NewMySQLDB connects with exponential backoff, giving up after cfg.ConnectTimeout.
func NewMySQLDB(cfg environments.DatabaseConfig) (*sqlx.DB, error) {
	dsn := DSN(cfg)

	connect := func() (*sqlx.DB, error) {
		return sqlx.Connect("mysql", dsn)
	}

	notify := func(err error, d time.Duration) {
		logger.Warnf("Database not reachable (%v), retrying in %v", err, d)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = cfg.ConnectTimeout
	if b.MaxElapsedTime <= 0 {
		b.MaxElapsedTime = time.Minute
	}

	db, err := backoff.RetryNotifyWithData(connect, b, notify)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	logger.Infof("Connected to MySQL database %s at %s:%s", cfg.DBName, cfg.Host, cfg.Port)
	return db, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS message_templates (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(100) NOT NULL,
		type VARCHAR(50) NOT NULL,
		body TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		UNIQUE KEY uq_message_templates_type (type)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

	`CREATE TABLE IF NOT EXISTS scheduled_notifications (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		phone VARCHAR(32) NOT NULL,
		display_name VARCHAR(255) NOT NULL DEFAULT '',
		template_type VARCHAR(50) NOT NULL,
		rendered_text TEXT NOT NULL,
		target_chat_id VARCHAR(255),
		send_at DATETIME NOT NULL,
		sent BOOLEAN NOT NULL DEFAULT FALSE,
		sent_at DATETIME,
		error TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_scheduled_notifications_due (sent, send_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

	`CREATE TABLE IF NOT EXISTS processed_records (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		source VARCHAR(50) NOT NULL,
		external_record_id VARCHAR(100) NOT NULL,
		phone VARCHAR(32) NOT NULL DEFAULT '',
		display_name VARCHAR(255) NOT NULL DEFAULT '',
		event_time VARCHAR(64) NOT NULL DEFAULT '',
		processed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE KEY uq_processed_records_source_external (source, external_record_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
}

func RunMigrations(db *sqlx.DB) error {
	for i, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to run migration %d: %w", i+1, err)
		}
	}

	logger.Infof("Database migrations completed")

	return nil
}

// DefaultTemplates are installed by SeedTemplates when missing.
var DefaultTemplates = []domain.MessageTemplate{
	{
		Name:     "Booking confirmation",
		Type:     domain.TemplateBookingConfirmation,
		Body:     "Hello, {fullname}! You are booked for {service_name} with {staff_name} on {datetime}. See you soon!",
		IsActive: true,
	},
	{
		Name:     "Review request",
		Type:     domain.TemplateReviewRequest,
		Body:     "{fullname}, thank you for visiting us! We would be grateful if you shared how {service_name} went.",
		IsActive: true,
	},
}

// SeedTemplates inserts the default templates, leaving existing ones untouched.
func SeedTemplates(db *sqlx.DB) (int64, error) {
	var inserted int64

	for _, tmpl := range DefaultTemplates {
		result, err := db.Exec(
			"INSERT IGNORE INTO message_templates (name, type, body, is_active) VALUES (?, ?, ?, ?)",
			tmpl.Name, tmpl.Type, tmpl.Body, tmpl.IsActive,
		)
		if err != nil {
			return inserted, fmt.Errorf("failed to seed template %s: %w", tmpl.Type, err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return inserted, fmt.Errorf("failed to get affected rows: %w", err)
		}
		inserted += rows
	}

	logger.Infof("Seeded %d message templates", inserted)
	return inserted, nil
}
