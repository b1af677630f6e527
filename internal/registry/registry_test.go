package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/auratek/contxt-bridge/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBotStore struct {
	upserts     []domain.Bot
	deactivated []string
}

func (f *fakeBotStore) Upsert(_ context.Context, b *domain.Bot) (int64, error) {
	f.upserts = append(f.upserts, *b)
	return int64(len(f.upserts)), nil
}

func (f *fakeBotStore) DeactivateExcept(_ context.Context, keep []string) ([]string, error) {
	kept := map[string]bool{}
	for _, n := range keep {
		kept[n] = true
	}
	var out []string
	for _, name := range []string{"legacy-bot"} {
		if !kept[name] {
			out = append(out, name)
		}
	}
	f.deactivated = out
	return out, nil
}

func (f *fakeBotStore) Active(_ context.Context) ([]domain.Bot, error) { return nil, nil }

const botJSON = `{
  "bots": [
    {
      "name": "bot1",
      "portal_username": "bot1@example.com",
      "portal_password": "pw1",
      "imap_host": "mail.example.com",
      "imap_username": "bot1@example.com",
      "imap_password": "imap-pw1",
      "is_active": true
    },
    {
      "name": "bot2",
      "portal_username": "bot2@example.com",
      "portal_password": "pw2",
      "imap_host": "imap.gmail.com",
      "imap_username": "bot2@gmail.com",
      "imap_password": "imap-pw2",
      "is_active": false
    }
  ]
}`

func TestSyncFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bots.json")
	require.NoError(t, os.WriteFile(path, []byte(botJSON), 0o600))

	store := &fakeBotStore{}
	deactivated, err := New(store).SyncFromFile(context.Background(), path)
	require.NoError(t, err)

	require.Len(t, store.upserts, 2)
	assert.Equal(t, "bot1", store.upserts[0].Name)
	assert.True(t, store.upserts[0].IsActive)
	assert.Equal(t, "mail.example.com", store.upserts[0].IMAPHost)
	assert.Equal(t, "bot2", store.upserts[1].Name)
	assert.False(t, store.upserts[1].IsActive)

	assert.Equal(t, []string{"legacy-bot"}, deactivated)
}

func TestSyncRejectsNamelessBots(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bots.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"bots": [{"portal_username": "x"}]}`), 0o600))

	_, err := New(&fakeBotStore{}).SyncFromFile(context.Background(), path)
	assert.Error(t, err)
}

func TestSyncMissingFile(t *testing.T) {
	_, err := New(&fakeBotStore{}).SyncFromFile(context.Background(), "/nonexistent/bots.json")
	assert.Error(t, err)
}
