package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/auratek/contxt-bridge/internal/domain"
	"github.com/lib/pq"
)

// EmailRepo persists inbound portal messages.
type EmailRepo struct{ db *sql.DB }

// NewEmailRepo creates a Postgres-backed email repository.
func NewEmailRepo(db *sql.DB) *EmailRepo { return &EmailRepo{db: db} }

const emailColumns = `id, bot_id, user_id, portal_message_id, sent_at,
       subject, body, is_processed, created_at, updated_at`

func scanEmail(row interface{ Scan(...any) error }) (*domain.Email, error) {
	e := &domain.Email{}
	err := row.Scan(
		&e.ID, &e.BotID, &e.UserID, &e.PortalMessageID, &e.SentAt,
		&e.Subject, &e.Body, &e.IsProcessed, &e.CreatedAt, &e.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan email: %w", err)
	}
	return e, nil
}

// Get returns an email by id.
func (r *EmailRepo) Get(ctx context.Context, id int64) (*domain.Email, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+emailColumns+` FROM emails WHERE id = $1`, id)
	return scanEmail(row)
}

// Insert persists a pulled email. A duplicate (bot, portal_message_id)
// returns ErrDuplicate so callers can skip already-seen inbox rows.
func (r *EmailRepo) Insert(ctx context.Context, e *domain.Email) (*domain.Email, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO emails (bot_id, user_id, portal_message_id, sent_at, subject, body)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+emailColumns+`
	`, e.BotID, e.UserID, e.PortalMessageID, e.SentAt, e.Subject, e.Body)

	saved, err := scanEmail(row)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return saved, nil
}

// Unprocessed returns the bot's unprocessed emails, oldest first.
func (r *EmailRepo) Unprocessed(ctx context.Context, botID int64) ([]domain.Email, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+emailColumns+` FROM emails
		WHERE bot_id = $1 AND NOT is_processed
		ORDER BY sent_at
	`, botID)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed emails for bot %d: %w", botID, err)
	}
	defer rows.Close()

	var emails []domain.Email
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		emails = append(emails, *e)
	}
	return emails, rows.Err()
}

// MarkProcessed flips the processed flag on an email.
func (r *EmailRepo) MarkProcessed(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE emails SET is_processed = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark email %d processed: %w", id, err)
	}
	return nil
}
