package worker

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/auratek/contxt-bridge/internal/domain"
	"github.com/auratek/contxt-bridge/internal/portal"
	"github.com/auratek/contxt-bridge/internal/repository/postgres"
)

// testModeRowLimit bounds how many inbox rows a tick expands in test mode.
const testModeRowLimit = 3

// Interpreter runs the command interpreter after a pull persists new mail.
type Interpreter interface {
	ProcessEmails(ctx context.Context, bot *domain.Bot) error
}

// InboxPuller walks a bot's Portal inbox, expands each row through the
// grid's server-event postback, and persists new messages.
type InboxPuller struct {
	sessions    SessionProvider
	users       UserStore
	emails      EmailStore
	bots        BotStore
	interpreter Interpreter
	testMode    bool
}

// NewInboxPuller creates the pull stage.
func NewInboxPuller(sessions SessionProvider, users UserStore, emails EmailStore,
	bots BotStore, interpreter Interpreter, testMode bool) *InboxPuller {
	return &InboxPuller{
		sessions:    sessions,
		users:       users,
		emails:      emails,
		bots:        bots,
		interpreter: interpreter,
		testMode:    testMode,
	}
}

// Run pulls the bot's inbox once. Duplicate rows are skipped; a malformed
// row is logged and skipped without aborting the batch. A session bounce to
// the login page invalidates the cached session for the next tick.
func (ip *InboxPuller) Run(ctx context.Context, bot *domain.Bot) error {
	session, err := ip.sessions.Get(ctx, bot)
	if err != nil {
		return fmt.Errorf("inbox puller: session for bot %d: %w", bot.ID, err)
	}

	page, err := session.InboxPage(ctx)
	if err != nil {
		if errors.Is(err, portal.ErrSessionExpired) {
			ip.sessions.Invalidate(bot.ID)
		}
		return fmt.Errorf("inbox puller: fetch inbox for bot %d: %w", bot.ID, err)
	}

	state, rows, err := portal.ParseInboxPage(page)
	if err != nil {
		return fmt.Errorf("inbox puller: bot %d: %w", bot.ID, err)
	}
	log.Printf("[InboxPuller] bot %d: %d inbox rows", bot.ID, len(rows))

	saved := 0
	var newestMessageID string
	for _, row := range rows {
		if ip.testMode && row.Index >= testModeRowLimit {
			log.Printf("[InboxPuller] test mode: stopping after %d rows", testModeRowLimit)
			break
		}
		if row.PortalMessageID == "" {
			log.Printf("[InboxPuller] bot %d: row %d has no message id, skipping", bot.ID, row.Index)
			continue
		}
		if newestMessageID == "" {
			newestMessageID = row.PortalMessageID
		}

		if err := ip.pullRow(ctx, bot, session, state, row); err != nil {
			log.Printf("[InboxPuller] bot %d: row %d (%s): %v", bot.ID, row.Index, row.PortalMessageID, err)
			continue
		}
		saved++
	}

	if newestMessageID != "" && newestMessageID != bot.LastSeenMessageID {
		if err := ip.bots.UpdateLastSeenMessage(ctx, bot.ID, newestMessageID); err != nil {
			log.Printf("[InboxPuller] bot %d: update last seen: %v", bot.ID, err)
		}
	}

	log.Printf("[InboxPuller] bot %d: %d new emails persisted", bot.ID, saved)

	// Contact-management subjects are interpreted right after persistence.
	if err := ip.interpreter.ProcessEmails(ctx, bot); err != nil {
		log.Printf("[InboxPuller] bot %d: interpreter: %v", bot.ID, err)
	}
	return nil
}

func (ip *InboxPuller) pullRow(ctx context.Context, bot *domain.Bot, session *portal.Session,
	state portal.FormState, row portal.InboxRow) error {

	payload, err := session.PostInboxEvent(ctx, state, row.Index)
	if err != nil {
		return err
	}

	panel, err := portal.ExtractUpdatePanel(payload)
	if err != nil {
		return err
	}

	msg, err := portal.ParseMessagePanel(panel, row.PortalMessageID)
	if err != nil {
		return err
	}

	user, err := ip.users.GetOrCreate(ctx, msg.From)
	if err != nil {
		return err
	}

	sentAt, err := portal.ParsePortalTime(msg.Date)
	if err != nil {
		return err
	}

	_, err = ip.emails.Insert(ctx, &domain.Email{
		BotID:           bot.ID,
		UserID:          user.ID,
		PortalMessageID: msg.PortalMessageID,
		SentAt:          sentAt,
		Subject:         msg.Subject,
		Body:            msg.Body,
	})
	if errors.Is(err, postgres.ErrDuplicate) {
		return nil // already pulled on an earlier tick
	}
	return err
}
