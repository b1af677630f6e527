package interpreter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/auratek/contxt-bridge/internal/domain"
	"github.com/auratek/contxt-bridge/internal/pkg/logger"
	"github.com/auratek/contxt-bridge/internal/repository/postgres"
	"github.com/auratek/contxt-bridge/internal/templates"
)

// EmailStore is the slice of email persistence the interpreter needs.
type EmailStore interface {
	Unprocessed(ctx context.Context, botID int64) ([]domain.Email, error)
	MarkProcessed(ctx context.Context, id int64) error
}

// ContactStore is the slice of contact persistence the interpreter needs.
type ContactStore interface {
	GetByName(ctx context.Context, userID int64, name string) (*domain.Contact, error)
	Upsert(ctx context.Context, c *domain.Contact) (*domain.Contact, error)
	Delete(ctx context.Context, userID int64, name string) error
	ListForUser(ctx context.Context, userID int64) ([]domain.Contact, error)
}

// UserStore resolves email senders.
type UserStore interface {
	Get(ctx context.Context, id int64) (*domain.User, error)
}

// BotStore lists the bot accounts shown in operator replies.
type BotStore interface {
	Active(ctx context.Context) ([]domain.Bot, error)
}

// SMSStore feeds the recent-message status grid.
type SMSStore interface {
	RecentForContact(ctx context.Context, contactID int64, limit int) ([]domain.SMS, error)
}

// ProcessedStore records audit rows.
type ProcessedStore interface {
	Record(ctx context.Context, p *domain.ProcessedData) error
}

// Replier delivers a rendered reply into the thread of the portal message
// being answered. It is an explicit port so the interpreter never reaches
// into the reply pusher's internals.
type Replier interface {
	PushReply(ctx context.Context, bot *domain.Bot, portalMessageID, body string) error
}

// Interpreter executes contact-management commands found in email subjects.
type Interpreter struct {
	emails    EmailStore
	contacts  ContactStore
	users     UserStore
	bots      BotStore
	sms       SMSStore
	processed ProcessedStore
	engine    *templates.Engine
	replier   Replier
}

// New creates an interpreter wired to its stores and reply port.
func New(emails EmailStore, contacts ContactStore, users UserStore, bots BotStore,
	sms SMSStore, processed ProcessedStore, engine *templates.Engine, replier Replier) *Interpreter {
	return &Interpreter{
		emails:    emails,
		contacts:  contacts,
		users:     users,
		bots:      bots,
		sms:       sms,
		processed: processed,
		engine:    engine,
		replier:   replier,
	}
}

// ProcessEmails runs the interpreter over the bot's unprocessed emails.
// Subjects reserved for the SMS dispatcher are left untouched. One email's
// failure never aborts the rest of the batch.
func (in *Interpreter) ProcessEmails(ctx context.Context, bot *domain.Bot) error {
	emails, err := in.emails.Unprocessed(ctx, bot.ID)
	if err != nil {
		return fmt.Errorf("interpreter: %w", err)
	}

	for i := range emails {
		email := &emails[i]
		if ReservedForDispatcher(email.Subject) {
			continue
		}
		if err := in.processOne(ctx, bot, email); err != nil {
			logger.Error("interpreter failed on email",
				"bot_id", bot.ID, "email_id", email.ID, "error", err.Error())
		}
	}
	return nil
}

// outcome carries what happened to one command, for the reply.
type outcome struct {
	templateKey    string
	newContacts    []string
	failedContacts []string
}

func (in *Interpreter) processOne(ctx context.Context, bot *domain.Bot, email *domain.Email) error {
	user, err := in.users.Get(ctx, email.UserID)
	if err != nil {
		return fmt.Errorf("resolve user %d: %w", email.UserID, err)
	}

	var out outcome
	cmd, ok := Classify(email.Subject)
	if !ok {
		// Neither a command nor a dispatcher subject: answer with
		// instructions instead of letting the email linger.
		out = outcome{templateKey: domain.TplInstructionalError}
	} else {
		out = in.execute(ctx, user, cmd, email.Subject)
	}

	// The command's effect is committed; the email is consumed even if the
	// reply below fails, so a reply outage cannot replay contact mutations.
	if err := in.emails.MarkProcessed(ctx, email.ID); err != nil {
		return err
	}
	in.recordProcessed(ctx, bot, email)

	body, err := in.renderReply(ctx, user, email, out)
	if err != nil {
		return err
	}
	if err := in.replier.PushReply(ctx, bot, email.PortalMessageID, body); err != nil {
		return fmt.Errorf("push reply for email %d: %w", email.ID, err)
	}

	logger.Info("command email processed",
		"bot_id", bot.ID, "email_id", email.ID, "template", out.templateKey)
	return nil
}

func (in *Interpreter) execute(ctx context.Context, user *domain.User, cmd *Command, subject string) outcome {
	out := outcome{templateKey: domain.TplFamilyContactUpdate}

	switch cmd.Action {
	case ActionAdd:
		if msg := validate(cmd); msg != "" {
			out.failedContacts = append(out.failedContacts, subject+": "+msg)
			return out
		}
		contact := &domain.Contact{UserID: user.ID, ContactName: cmd.ContactName}
		if cmd.DetailType == DetailPhone {
			contact.PhoneNumber = cmd.Detail
		} else {
			contact.EmailAddress = cmd.Detail
		}
		if _, err := in.contacts.Upsert(ctx, contact); err != nil {
			out.failedContacts = append(out.failedContacts, subject+": could not save contact")
			return out
		}
		out.newContacts = append(out.newContacts, cmd.ContactName)

	case ActionUpdate:
		if _, err := in.contacts.GetByName(ctx, user.ID, cmd.ContactName); err != nil {
			if errors.Is(err, postgres.ErrNotFound) {
				out.templateKey = domain.TplContactNotFound
				return out
			}
			out.failedContacts = append(out.failedContacts, subject+": could not look up contact")
			return out
		}
		if msg := validate(cmd); msg != "" {
			out.failedContacts = append(out.failedContacts, subject+": "+msg)
			return out
		}
		contact := &domain.Contact{UserID: user.ID, ContactName: cmd.ContactName}
		if cmd.DetailType == DetailPhone {
			contact.PhoneNumber = cmd.Detail
		} else {
			contact.EmailAddress = cmd.Detail
		}
		if _, err := in.contacts.Upsert(ctx, contact); err != nil {
			out.failedContacts = append(out.failedContacts, subject+": could not save contact")
		}

	case ActionRemove:
		if err := in.contacts.Delete(ctx, user.ID, cmd.ContactName); err != nil {
			if errors.Is(err, postgres.ErrNotFound) {
				out.templateKey = domain.TplContactNotFound
				return out
			}
			out.failedContacts = append(out.failedContacts, subject+": could not remove contact")
		}

	case ActionList:
		out.templateKey = domain.TplContactList
	}

	return out
}

// validate checks a command's name and detail, returning a user-facing
// failure message or "".
func validate(cmd *Command) string {
	if strings.TrimSpace(cmd.ContactName) == "" {
		return "Missing contact name."
	}
	switch cmd.DetailType {
	case DetailPhone:
		if cmd.Detail == "" {
			return "Invalid phone number."
		}
	case DetailEmail:
		if !domain.ValidEmailAddress(cmd.Detail) {
			return "Invalid email address."
		}
	}
	return ""
}

func (in *Interpreter) renderReply(ctx context.Context, user *domain.User, email *domain.Email, out outcome) (string, error) {
	params := templates.Params{
		FirstName:      user.DisplayName,
		NewContacts:    out.newContacts,
		FailedContacts: out.failedContacts,
		Command:        email.Subject,
		Detail:         " (" + email.Subject + ")",
	}

	if bots, err := in.bots.Active(ctx); err == nil {
		for _, b := range bots {
			params.BotAccounts = append(params.BotAccounts, b.PortalUsername)
		}
	}

	contacts, err := in.contacts.ListForUser(ctx, user.ID)
	if err == nil {
		params.ExistingContacts = contacts
	}

	if out.templateKey == domain.TplInstructionalError && len(contacts) > 0 {
		if recent, err := in.sms.RecentForContact(ctx, contacts[0].ID, 20); err == nil {
			params.RecentSMS = recent
			names := make(map[int64]string, len(contacts))
			for _, c := range contacts {
				names[c.ID] = c.ContactName
			}
			params.ContactNames = names
		}
	}

	return in.engine.Render(ctx, out.templateKey, params)
}

func (in *Interpreter) recordProcessed(ctx context.Context, bot *domain.Bot, email *domain.Email) {
	err := in.processed.Record(ctx, &domain.ProcessedData{
		BotID:             bot.ID,
		ModuleName:        domain.ModuleContactManagement,
		OriginalMessageID: email.PortalMessageID,
		Status:            domain.ProcessedStatusOK,
	})
	if err != nil {
		logger.Warn("processed-data audit write failed",
			"bot_id", bot.ID, "email_id", email.ID, "error", err.Error())
	}
}
