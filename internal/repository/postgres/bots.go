package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/auratek/contxt-bridge/internal/domain"
	"github.com/lib/pq"
)

// BotRepo persists bot identities. Bots are deactivated, never deleted.
type BotRepo struct{ db *sql.DB }

// NewBotRepo creates a Postgres-backed bot repository.
func NewBotRepo(db *sql.DB) *BotRepo { return &BotRepo{db: db} }

const botColumns = `id, name, portal_username, portal_password,
       imap_host, imap_username, imap_password,
       COALESCE(last_seen_message_id,''), is_active, created_at, updated_at`

func scanBot(row interface{ Scan(...any) error }) (*domain.Bot, error) {
	b := &domain.Bot{}
	err := row.Scan(
		&b.ID, &b.Name, &b.PortalUsername, &b.PortalPassword,
		&b.IMAPHost, &b.IMAPUsername, &b.IMAPPassword,
		&b.LastSeenMessageID, &b.IsActive, &b.CreatedAt, &b.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan bot: %w", err)
	}
	return b, nil
}

// Get returns a bot by id.
func (r *BotRepo) Get(ctx context.Context, id int64) (*domain.Bot, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+botColumns+` FROM bots WHERE id = $1`, id)
	return scanBot(row)
}

// GetByName returns a bot by its unique name.
func (r *BotRepo) GetByName(ctx context.Context, name string) (*domain.Bot, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+botColumns+` FROM bots WHERE name = $1`, name)
	return scanBot(row)
}

// Active returns all active bots, oldest first, for the scheduler.
func (r *BotRepo) Active(ctx context.Context) ([]domain.Bot, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+botColumns+` FROM bots WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list active bots: %w", err)
	}
	defer rows.Close()

	var bots []domain.Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		bots = append(bots, *b)
	}
	return bots, rows.Err()
}

// Upsert creates or updates a bot keyed by name and returns its id.
func (r *BotRepo) Upsert(ctx context.Context, b *domain.Bot) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO bots (name, portal_username, portal_password,
		                  imap_host, imap_username, imap_password, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (name) DO UPDATE SET
			portal_username = EXCLUDED.portal_username,
			portal_password = EXCLUDED.portal_password,
			imap_host       = EXCLUDED.imap_host,
			imap_username   = EXCLUDED.imap_username,
			imap_password   = EXCLUDED.imap_password,
			is_active       = EXCLUDED.is_active,
			updated_at      = NOW()
		RETURNING id
	`, b.Name, b.PortalUsername, b.PortalPassword,
		b.IMAPHost, b.IMAPUsername, b.IMAPPassword, b.IsActive).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert bot %s: %w", b.Name, err)
	}
	return id, nil
}

// SetActive flips a bot's active flag.
func (r *BotRepo) SetActive(ctx context.Context, id int64, active bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE bots SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("set bot %d active=%v: %w", id, active, err)
	}
	return nil
}

// DeactivateExcept deactivates every bot whose name is not in keep.
// Used by the registry sync so bots removed from the config stop running.
func (r *BotRepo) DeactivateExcept(ctx context.Context, keep []string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE bots SET is_active = FALSE, updated_at = NOW()
		WHERE is_active AND NOT (name = ANY($1))
		RETURNING name
	`, pq.Array(keep))
	if err != nil {
		return nil, fmt.Errorf("deactivate missing bots: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// UpdateLastSeenMessage records the newest portal message id observed for
// the bot, so a future pull can stop early.
func (r *BotRepo) UpdateLastSeenMessage(ctx context.Context, id int64, messageID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE bots SET last_seen_message_id = $2, updated_at = NOW() WHERE id = $1`, id, messageID)
	if err != nil {
		return fmt.Errorf("update bot %d last seen: %w", id, err)
	}
	return nil
}
