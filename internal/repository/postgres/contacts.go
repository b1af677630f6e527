package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/auratek/contxt-bridge/internal/domain"
)

// ContactRepo persists a user's outside correspondents.
type ContactRepo struct{ db *sql.DB }

// NewContactRepo creates a Postgres-backed contact repository.
func NewContactRepo(db *sql.DB) *ContactRepo { return &ContactRepo{db: db} }

const contactColumns = `id, user_id, contact_name,
       COALESCE(phone_number,''), COALESCE(email_address,''), created_at, updated_at`

func scanContact(row interface{ Scan(...any) error }) (*domain.Contact, error) {
	c := &domain.Contact{}
	err := row.Scan(
		&c.ID, &c.UserID, &c.ContactName,
		&c.PhoneNumber, &c.EmailAddress, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan contact: %w", err)
	}
	return c, nil
}

// Get returns a contact by id.
func (r *ContactRepo) Get(ctx context.Context, id int64) (*domain.Contact, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id = $1`, id)
	return scanContact(row)
}

// GetByName returns the contact a user addresses by the given name.
func (r *ContactRepo) GetByName(ctx context.Context, userID int64, name string) (*domain.Contact, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+contactColumns+` FROM contacts
		WHERE user_id = $1 AND contact_name = $2
	`, userID, name)
	return scanContact(row)
}

// GetByPhone returns the user's contact holding the given canonical phone
// number. Phone collisions across users intentionally resolve per-user.
func (r *ContactRepo) GetByPhone(ctx context.Context, userID int64, phone string) (*domain.Contact, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+contactColumns+` FROM contacts
		WHERE user_id = $1 AND phone_number = $2
		ORDER BY created_at LIMIT 1
	`, userID, phone)
	return scanContact(row)
}

// ListForUser returns all of a user's contacts ordered by name.
func (r *ContactRepo) ListForUser(ctx context.Context, userID int64) ([]domain.Contact, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+contactColumns+` FROM contacts
		WHERE user_id = $1 ORDER BY contact_name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list contacts for user %d: %w", userID, err)
	}
	defer rows.Close()

	var contacts []domain.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, *c)
	}
	return contacts, rows.Err()
}

// Upsert creates or updates a contact keyed by (user, name). Only the
// fields present on c (non-empty phone/email) replace stored values.
func (r *ContactRepo) Upsert(ctx context.Context, c *domain.Contact) (*domain.Contact, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO contacts (user_id, contact_name, phone_number, email_address)
		VALUES ($1, $2, NULLIF($3,''), NULLIF($4,''))
		ON CONFLICT (user_id, contact_name) DO UPDATE SET
			phone_number  = COALESCE(NULLIF(EXCLUDED.phone_number,''), contacts.phone_number),
			email_address = COALESCE(NULLIF(EXCLUDED.email_address,''), contacts.email_address),
			updated_at    = NOW()
		RETURNING `+contactColumns+`
	`, c.UserID, c.ContactName, c.PhoneNumber, c.EmailAddress)
	return scanContact(row)
}

// Delete hard-deletes a contact by (user, name).
func (r *ContactRepo) Delete(ctx context.Context, userID int64, name string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM contacts WHERE user_id = $1 AND contact_name = $2`, userID, name)
	if err != nil {
		return fmt.Errorf("delete contact %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
