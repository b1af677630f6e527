package worker

import (
	"context"
	"fmt"
	"log"

	"github.com/auratek/contxt-bridge/internal/config"
	"github.com/auratek/contxt-bridge/internal/domain"
	"github.com/auratek/contxt-bridge/internal/mailbox"
)

// InviteAcceptor finds invitation codes in a bot's mailbox and enters them
// on the Portal's pending-contact page through the rendered browser.
type InviteAcceptor struct {
	cfg        config.MailboxConfig
	open       MailboxOpener
	sessions   SessionProvider
	render     RenderClient
	processed  ProcessedStore
	maxRetries int
}

// NewInviteAcceptor creates the invitation stage.
func NewInviteAcceptor(cfg config.MailboxConfig, open MailboxOpener, sessions SessionProvider,
	render RenderClient, processed ProcessedStore, maxRetries int) *InviteAcceptor {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &InviteAcceptor{
		cfg:        cfg,
		open:       open,
		sessions:   sessions,
		render:     render,
		processed:  processed,
		maxRetries: maxRetries,
	}
}

// pendingInvite pairs a parsed invite with the mailbox message carrying it.
type pendingInvite struct {
	invite *mailbox.Invite
	imapID uint32
}

// Run processes all pending invitations for the bot: search the mailbox,
// enter each code on the Portal, and delete handled emails. One code's
// failure never blocks the other codes.
func (ia *InviteAcceptor) Run(ctx context.Context, bot *domain.Bot) error {
	return ia.run(ctx, bot, mailbox.Credentials{
		Host:     bot.IMAPHost,
		Username: bot.IMAPUsername,
		Password: bot.IMAPPassword,
	})
}

// RunOperatorMailbox processes the shared operator mailbox with alternate
// credentials; invites accepted there belong to the info account, not to a
// specific bot.
func (ia *InviteAcceptor) RunOperatorMailbox(ctx context.Context, bot *domain.Bot) error {
	return ia.run(ctx, bot, mailbox.Credentials{
		Host:     ia.cfg.OperatorHost,
		Username: ia.cfg.OperatorUsername,
		Password: ia.cfg.OperatorPassword,
	})
}

func (ia *InviteAcceptor) run(ctx context.Context, bot *domain.Bot, creds mailbox.Credentials) error {
	invites, err := ia.collectInvites(creds)
	if err != nil {
		return err
	}
	if len(invites) == 0 {
		log.Printf("[InviteAcceptor] bot %d: no pending invites", bot.ID)
		return nil
	}

	if _, err := ia.sessions.Get(ctx, bot); err != nil {
		return fmt.Errorf("invite acceptor: session for bot %d: %w", bot.ID, err)
	}

	for code, pending := range invites {
		if err := ia.acceptOne(ctx, bot, creds, code, pending); err != nil {
			log.Printf("[InviteAcceptor] bot %d: invite %s failed: %v", bot.ID, code, err)
			ia.audit(ctx, bot, code, domain.ProcessedStatusFailed)
			continue
		}
		ia.audit(ctx, bot, code, domain.ProcessedStatusOK)
	}
	return nil
}

// collectInvites searches the mailbox (broader subject as fallback) and
// accumulates parsed invites keyed by invitation code.
func (ia *InviteAcceptor) collectInvites(creds mailbox.Credentials) (map[string]pendingInvite, error) {
	mb, err := ia.open(creds)
	if err != nil {
		return nil, fmt.Errorf("invite acceptor: open mailbox: %w", err)
	}
	defer mb.Close()

	ids, err := mb.SearchSince(ia.cfg.SearchDays, ia.cfg.SearchSubject)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		ids, err = mb.SearchSince(ia.cfg.SearchDays, ia.cfg.BroaderSearchSubject)
		if err != nil {
			return nil, err
		}
	}

	invites := make(map[string]pendingInvite)
	for _, id := range ids {
		raw, err := mb.Fetch(id)
		if err != nil {
			log.Printf("[InviteAcceptor] fetch %d failed: %v", id, err)
			continue
		}
		invite, err := mailbox.ParseInvite(raw)
		if err != nil {
			log.Printf("[InviteAcceptor] message %d is not a usable invite: %v", id, err)
			continue
		}
		invites[invite.Code] = pendingInvite{invite: invite, imapID: id}
	}
	return invites, nil
}

// acceptOne drives the pending-contact page for a single code, retrying
// transient render failures. Whenever the script reports is_processed, the
// originating email is deleted regardless of the acceptance outcome.
func (ia *InviteAcceptor) acceptOne(ctx context.Context, bot *domain.Bot, creds mailbox.Credentials,
	code string, pending pendingInvite) error {

	session, err := ia.sessions.Get(ctx, bot)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= ia.maxRetries; attempt++ {
		result, err := ia.render.AcceptInvite(ctx, session, code)
		if err != nil {
			lastErr = err
			continue
		}

		if result.IsProcessed {
			ia.deleteInviteEmail(creds, pending.imapID)
		}

		if result.ElementFound {
			log.Printf("[InviteAcceptor] bot %d: invite %s accepted for %s (%s)",
				bot.ID, code, pending.invite.FullName, result.Message)
			return nil
		}

		lastErr = fmt.Errorf("attempt %d: %s", attempt, result.Message)
		if result.IsProcessed {
			// The portal consumed the code (e.g. record not found); further
			// retries cannot change the outcome.
			break
		}
	}
	return lastErr
}

func (ia *InviteAcceptor) deleteInviteEmail(creds mailbox.Credentials, imapID uint32) {
	mb, err := ia.open(creds)
	if err != nil {
		log.Printf("[InviteAcceptor] reopen mailbox to delete %d: %v", imapID, err)
		return
	}
	defer mb.Close()
	if err := mb.Delete(imapID); err != nil {
		log.Printf("[InviteAcceptor] delete invite email %d: %v", imapID, err)
	}
}

func (ia *InviteAcceptor) audit(ctx context.Context, bot *domain.Bot, code, status string) {
	err := ia.processed.Record(ctx, &domain.ProcessedData{
		BotID:             bot.ID,
		ModuleName:        domain.ModuleAcceptInvites,
		OriginalMessageID: code,
		Status:            status,
	})
	if err != nil {
		log.Printf("[InviteAcceptor] audit write failed for %s: %v", code, err)
	}
}
