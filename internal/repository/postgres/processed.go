package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/auratek/contxt-bridge/internal/domain"
)

// ProcessedRepo writes the audit rows components use for idempotency checks.
type ProcessedRepo struct{ db *sql.DB }

// NewProcessedRepo creates a Postgres-backed processed-data repository.
func NewProcessedRepo(db *sql.DB) *ProcessedRepo { return &ProcessedRepo{db: db} }

// Record writes one audit row for a handled message.
func (r *ProcessedRepo) Record(ctx context.Context, p *domain.ProcessedData) error {
	var at any
	if !p.ProcessedAt.IsZero() {
		at = p.ProcessedAt
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO processed_data (bot_id, module_name, original_message_id, status, processed_at)
		VALUES ($1, $2, $3, $4, COALESCE($5::timestamptz, NOW()))
	`, p.BotID, p.ModuleName, p.OriginalMessageID, p.Status, at)
	if err != nil {
		return fmt.Errorf("record processed data: %w", err)
	}
	return nil
}

// Seen reports whether the module already handled the given message for the
// bot with a success status.
func (r *ProcessedRepo) Seen(ctx context.Context, botID int64, module, originalMessageID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM processed_data
			WHERE bot_id = $1 AND module_name = $2
			  AND original_message_id = $3 AND status = $4
		)
	`, botID, module, originalMessageID, domain.ProcessedStatusOK).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check processed data: %w", err)
	}
	return exists, nil
}
