package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/auratek/contxt-bridge/internal/domain"
)

// TemplateRepo persists the keyed operator reply templates.
type TemplateRepo struct{ db *sql.DB }

// NewTemplateRepo creates a Postgres-backed template repository.
func NewTemplateRepo(db *sql.DB) *TemplateRepo { return &TemplateRepo{db: db} }

// Get returns the template for the given key.
func (r *TemplateRepo) Get(ctx context.Context, key string) (*domain.ResponseTemplate, error) {
	t := &domain.ResponseTemplate{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, key, template_text, created_at, updated_at
		FROM response_templates WHERE key = $1
	`, key).Scan(&t.ID, &t.Key, &t.TemplateText, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template %s: %w", key, err)
	}
	return t, nil
}

// Upsert creates or updates a template keyed by its key.
func (r *TemplateRepo) Upsert(ctx context.Context, key, text string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO response_templates (key, template_text)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET
			template_text = EXCLUDED.template_text,
			updated_at    = NOW()
	`, key, text)
	if err != nil {
		return fmt.Errorf("upsert template %s: %w", key, err)
	}
	return nil
}
