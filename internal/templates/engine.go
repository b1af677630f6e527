// Package templates renders the keyed operator-facing reply emails using
// the Liquid template language.
package templates

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/auratek/contxt-bridge/internal/domain"
	"github.com/auratek/contxt-bridge/internal/repository/postgres"
	"github.com/osteele/liquid"
)

// ErrUnknownTemplate is returned when no template exists for a key.
var ErrUnknownTemplate = errors.New("unknown template key")

// Store fetches template bodies by key.
type Store interface {
	Get(ctx context.Context, key string) (*domain.ResponseTemplate, error)
}

// Engine renders operator reply templates with caching by key.
type Engine struct {
	engine *liquid.Engine
	store  Store
	cache  sync.Map // map[string]*liquid.Template
}

// NewEngine creates a template engine over the given store.
func NewEngine(store Store) *Engine {
	e := &Engine{
		engine: liquid.NewEngine(),
		store:  store,
	}
	e.registerFilters()
	return e
}

func (e *Engine) registerFilters() {
	// {{ first_name | default: "User" }}
	e.engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		s := fmt.Sprintf("%v", value)
		if s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})

	// {{ body | truncate: 120 }}
	e.engine.RegisterFilter("truncate", func(s string, length int) string {
		if len(s) <= length {
			return s
		}
		if length <= 3 {
			return s[:length]
		}
		return s[:length-3] + "..."
	})
}

// Params is the fixed parameter set substituted into every template.
type Params struct {
	FirstName        string
	BotAccounts      []string
	ExistingContacts []domain.Contact
	NewContacts      []string
	FailedContacts   []string
	RecentSMS        []domain.SMS
	ContactNames     map[int64]string // contact id → name, for the SMS grid
	Command          string
	Detail           string
}

// Render loads the template for key and substitutes params. Unknown keys
// are errors.
func (e *Engine) Render(ctx context.Context, key string, p Params) (string, error) {
	tpl, err := e.template(ctx, key)
	if err != nil {
		return "", err
	}

	out, err := tpl.RenderString(e.bindings(p))
	if err != nil {
		return "", fmt.Errorf("render template %s: %w", key, err)
	}
	return out, nil
}

func (e *Engine) template(ctx context.Context, key string) (*liquid.Template, error) {
	if cached, ok := e.cache.Load(key); ok {
		return cached.(*liquid.Template), nil
	}

	rec, err := e.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTemplate, key)
		}
		return nil, err
	}

	tpl, err := e.engine.ParseString(rec.TemplateText)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", key, err)
	}
	e.cache.Store(key, tpl)
	return tpl, nil
}

// Invalidate drops a cached compiled template, for template reseeds.
func (e *Engine) Invalidate(key string) {
	e.cache.Delete(key)
}

func (e *Engine) bindings(p Params) map[string]interface{} {
	firstName := p.FirstName
	if firstName == "" {
		firstName = "User"
	}

	newContacts := "No new contacts"
	if len(p.NewContacts) > 0 {
		newContacts = strings.Join(p.NewContacts, ", ")
	}

	failedContacts := "No failed contacts"
	if len(p.FailedContacts) > 0 {
		failedContacts = strings.Join(p.FailedContacts, "\n")
	}

	return map[string]interface{}{
		"first_name":                    firstName,
		"bot_accounts":                  strings.Join(p.BotAccounts, "\n"),
		"existing_contacts":             formatContacts(p.ExistingContacts),
		"new_contacts":                  newContacts,
		"failed_contacts":               failedContacts,
		"previous_text_messages_status": FormatSMSStatus(p.RecentSMS, p.ContactNames),
		"command":                       p.Command,
		"detail":                        p.Detail,
	}
}

func formatContacts(contacts []domain.Contact) string {
	if len(contacts) == 0 {
		return "No contacts saved."
	}
	lines := make([]string, 0, len(contacts))
	for _, c := range contacts {
		lines = append(lines, fmt.Sprintf("%s: %s : %s", c.ContactName, c.EmailAddress, c.PhoneNumber))
	}
	return strings.Join(lines, "\n")
}

// FormatSMSStatus renders the recent-SMS grid included in instructional
// replies: one line per message, newest first.
func FormatSMSStatus(messages []domain.SMS, contactNames map[int64]string) string {
	if len(messages) == 0 {
		return "No previous messages found."
	}
	lines := make([]string, 0, len(messages))
	for _, s := range messages {
		textID := s.ExternalTextID
		if textID == "" {
			textID = "N/A"
		}
		name := contactNames[s.ContactID]
		if name == "" {
			name = "Unknown"
		}
		lines = append(lines, fmt.Sprintf(
			"DATE: %s | TIME: %s | CONTACT: %s | MESSAGE ID: %s | DELIVERED: %s",
			s.CreatedAt.Format("2006-01-02"),
			s.CreatedAt.Format("15:04:05"),
			name, textID, s.Status,
		))
	}
	return strings.Join(lines, "\n")
}
