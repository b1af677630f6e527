package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/auratek/contxt-bridge/internal/domain"
)

// SMSRepo persists outbound and inbound text message records.
type SMSRepo struct{ db *sql.DB }

// NewSMSRepo creates a Postgres-backed SMS repository.
func NewSMSRepo(db *sql.DB) *SMSRepo { return &SMSRepo{db: db} }

const smsColumns = `id, bot_id, contact_id, email_id, phone_number, message,
       COALESCE(external_text_id,''), direction, status, is_processed,
       created_at, updated_at`

func scanSMS(row interface{ Scan(...any) error }) (*domain.SMS, error) {
	s := &domain.SMS{}
	err := row.Scan(
		&s.ID, &s.BotID, &s.ContactID, &s.EmailID, &s.PhoneNumber, &s.Message,
		&s.ExternalTextID, &s.Direction, &s.Status, &s.IsProcessed,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan sms: %w", err)
	}
	return s, nil
}

// Insert persists a new SMS record and returns it with its id.
func (r *SMSRepo) Insert(ctx context.Context, s *domain.SMS) (*domain.SMS, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO sms (bot_id, contact_id, email_id, phone_number, message,
		                 external_text_id, direction, status, is_processed)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6,''), $7, $8, $9)
		RETURNING `+smsColumns+`
	`, s.BotID, s.ContactID, s.EmailID, s.PhoneNumber, s.Message,
		s.ExternalTextID, s.Direction, s.Status, s.IsProcessed)
	return scanSMS(row)
}

// LatestOutboundByTextID returns the most recent outbound SMS carrying the
// gateway's text id; the webhook uses it to pair delivery callbacks.
func (r *SMSRepo) LatestOutboundByTextID(ctx context.Context, textID string) (*domain.SMS, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+smsColumns+` FROM sms
		WHERE external_text_id = $1 AND direction = $2
		ORDER BY created_at DESC LIMIT 1
	`, textID, domain.SMSOutbound)
	return scanSMS(row)
}

// InboundExistsForTextID reports whether an inbound row was already created
// for the given text id, so webhook replays stay no-ops.
func (r *SMSRepo) InboundExistsForTextID(ctx context.Context, textID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM sms WHERE external_text_id = $1 AND direction = $2
		)
	`, textID, domain.SMSInbound).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check inbound for %s: %w", textID, err)
	}
	return exists, nil
}

// UnprocessedInbound returns the bot's inbound SMS not yet pushed back into
// the portal, oldest first.
func (r *SMSRepo) UnprocessedInbound(ctx context.Context, botID int64) ([]domain.SMS, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+smsColumns+` FROM sms
		WHERE bot_id = $1 AND direction = $2 AND NOT is_processed
		ORDER BY created_at
	`, botID, domain.SMSInbound)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed inbound sms for bot %d: %w", botID, err)
	}
	defer rows.Close()

	var out []domain.SMS
	for rows.Next() {
		s, err := scanSMS(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// RecentForContact returns the contact's newest SMS rows, newest first,
// capped at limit. Feeds the status grid in operator replies.
func (r *SMSRepo) RecentForContact(ctx context.Context, contactID int64, limit int) ([]domain.SMS, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+smsColumns+` FROM sms
		WHERE contact_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, contactID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent sms for contact %d: %w", contactID, err)
	}
	defer rows.Close()

	var out []domain.SMS
	for rows.Next() {
		s, err := scanSMS(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// UpdateStatus sets the delivery status of an SMS row.
func (r *SMSRepo) UpdateStatus(ctx context.Context, id int64, status domain.SMSStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sms SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update sms %d status: %w", id, err)
	}
	return nil
}

// MarkProcessed flips the processed flag on an SMS row.
func (r *SMSRepo) MarkProcessed(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sms SET is_processed = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark sms %d processed: %w", id, err)
	}
	return nil
}
