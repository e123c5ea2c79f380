package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/onurcolak/unified-inbox/internal/apperrors"
	"github.com/onurcolak/unified-inbox/internal/domain"
)

const mysqlDuplicateEntry = 1062

// LedgerRepository records which upstream booking events were already handled.
type LedgerRepository struct {
	db *sqlx.DB
}

func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) IsRecordProcessed(ctx context.Context, source, externalID string) (bool, error) {
	query := `SELECT COUNT(*) FROM processed_records WHERE source = ? AND external_record_id = ?`

	var count int
	if err := r.db.GetContext(ctx, &count, query, source, externalID); err != nil {
		return false, fmt.Errorf("failed to check processed record: %w", err)
	}

	return count > 0, nil
}

// MarkRecordProcessed inserts a ledger row. A concurrent insert of the same
// (source, external id) surfaces as ErrDuplicate.
func (r *LedgerRepository) MarkRecordProcessed(ctx context.Context, rec domain.ProcessedRecord) error {
	query := `
		INSERT INTO processed_records (source, external_record_id, phone, display_name, event_time, processed_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`

	_, err := r.db.ExecContext(ctx, query, rec.Source, rec.ExternalRecordID, rec.Phone, rec.DisplayName, rec.EventTime)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
			return fmt.Errorf("record %s/%s: %w", rec.Source, rec.ExternalRecordID, apperrors.ErrDuplicate)
		}
		return fmt.Errorf("failed to mark record processed: %w", err)
	}

	return nil
}

func (r *LedgerRepository) CountProcessed(ctx context.Context, source string) (int64, error) {
	var count int64
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM processed_records WHERE source = ?`, source); err != nil {
		return 0, fmt.Errorf("failed to count processed records: %w", err)
	}
	return count, nil
}
