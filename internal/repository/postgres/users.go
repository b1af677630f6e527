package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/auratek/contxt-bridge/internal/domain"
)

// UserRepo persists incarcerated correspondents keyed by pic number.
type UserRepo struct{ db *sql.DB }

// NewUserRepo creates a Postgres-backed user repository.
func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{db: db} }

const userColumns = `id, pic_number, display_name, screen_name, is_active,
       private_mode, balance, sms_remaining, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*domain.User, error) {
	u := &domain.User{}
	err := row.Scan(
		&u.ID, &u.PicNumber, &u.DisplayName, &u.ScreenName, &u.IsActive,
		&u.PrivateMode, &u.Balance, &u.SMSLeft, &u.CreatedAt, &u.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

// Get returns a user by id.
func (r *UserRepo) Get(ctx context.Context, id int64) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetByPicNumber returns a user by the portal-assigned natural key.
func (r *UserRepo) GetByPicNumber(ctx context.Context, pic string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE pic_number = $1`, pic)
	return scanUser(row)
}

// GetOrCreate resolves the user for a portal "from" field, creating a
// deactivated user on first sighting. The pic number identifies the same
// user forever; ON CONFLICT keeps concurrent pulls from racing to two rows.
func (r *UserRepo) GetOrCreate(ctx context.Context, portalFrom string) (*domain.User, error) {
	displayName, pic, ok := domain.ParsePortalFrom(portalFrom)
	if !ok {
		return nil, fmt.Errorf("unparseable portal from field %q", portalFrom)
	}

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO users (pic_number, display_name, screen_name, is_active)
		VALUES ($1, $2, $3, FALSE)
		ON CONFLICT (pic_number) DO UPDATE SET updated_at = NOW()
		RETURNING `+userColumns+`
	`, pic, displayName, domain.ScreenNameFor(displayName, pic))
	return scanUser(row)
}
