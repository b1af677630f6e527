// Package registry is the source of truth for bot identities: it syncs the
// bots table from the operator's JSON config file. Bots removed from the
// config are deactivated, never deleted.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/auratek/contxt-bridge/internal/domain"
	"github.com/auratek/contxt-bridge/internal/pkg/logger"
)

// BotStore is the persistence surface the registry needs.
type BotStore interface {
	Upsert(ctx context.Context, b *domain.Bot) (int64, error)
	DeactivateExcept(ctx context.Context, keep []string) ([]string, error)
	Active(ctx context.Context) ([]domain.Bot, error)
}

// botConfig is one bot entry in the operator's config file.
type botConfig struct {
	Name           string `json:"name"`
	PortalUsername string `json:"portal_username"`
	PortalPassword string `json:"portal_password"`
	IMAPHost       string `json:"imap_host"`
	IMAPUsername   string `json:"imap_username"`
	IMAPPassword   string `json:"imap_password"`
	IsActive       bool   `json:"is_active"`
}

// configFile is the operator's bot config file shape.
type configFile struct {
	Bots []botConfig `json:"bots"`
}

// Registry syncs bot identities from configuration.
type Registry struct {
	store BotStore
}

// New creates a registry over the given store.
func New(store BotStore) *Registry {
	return &Registry{store: store}
}

// SyncFromFile upserts every bot in the JSON config and deactivates bots
// present in the database but missing from the file. Returns the names of
// the deactivated bots.
func (r *Registry) SyncFromFile(ctx context.Context, path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bot config: %w", err)
	}

	var cfg configFile
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse bot config: %w", err)
	}

	keep := make([]string, 0, len(cfg.Bots))
	for _, bc := range cfg.Bots {
		if bc.Name == "" {
			return nil, fmt.Errorf("bot config entry without a name")
		}
		keep = append(keep, bc.Name)

		id, err := r.store.Upsert(ctx, &domain.Bot{
			Name:           bc.Name,
			PortalUsername: bc.PortalUsername,
			PortalPassword: bc.PortalPassword,
			IMAPHost:       bc.IMAPHost,
			IMAPUsername:   bc.IMAPUsername,
			IMAPPassword:   bc.IMAPPassword,
			IsActive:       bc.IsActive,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("bot synced", "bot_id", id, "name", bc.Name, "is_active", bc.IsActive)
	}

	deactivated, err := r.store.DeactivateExcept(ctx, keep)
	if err != nil {
		return nil, err
	}
	for _, name := range deactivated {
		logger.Warn("bot missing from config, deactivated", "name", name)
	}
	return deactivated, nil
}
