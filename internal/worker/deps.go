// Package worker holds the per-bot pipeline stages (invitation acceptance,
// inbox pulling, SMS dispatch, reply pushing) and the scheduler that drives
// them. Stages communicate only through the relational store; within one
// bot tick they run in a fixed order under a per-bot distributed lock.
package worker

import (
	"context"

	"github.com/auratek/contxt-bridge/internal/domain"
	"github.com/auratek/contxt-bridge/internal/gateway"
	"github.com/auratek/contxt-bridge/internal/mailbox"
	"github.com/auratek/contxt-bridge/internal/pkg/logger"
	"github.com/auratek/contxt-bridge/internal/portal"
	"github.com/auratek/contxt-bridge/internal/splash"
)

// SessionProvider hands out cached portal sessions per bot.
type SessionProvider interface {
	Get(ctx context.Context, bot *domain.Bot) (*portal.Session, error)
	Invalidate(botID int64)
}

// RenderClient is the rendered-browser submission surface.
type RenderClient interface {
	AcceptInvite(ctx context.Context, s *portal.Session, inviteCode string) (*splash.Result, error)
	SendReply(ctx context.Context, s *portal.Session, portalMessageID, content string) (*splash.Result, error)
	SendNewMessage(ctx context.Context, s *portal.Session, picName, content string) (*splash.Result, error)
}

// MailboxConn is one open IMAP connection.
type MailboxConn interface {
	SearchSince(daysBack int, subject string) ([]uint32, error)
	Fetch(id uint32) ([]byte, error)
	Delete(id uint32) error
	Close() error
}

// MailboxOpener dials a mailbox; *mailbox.Mailbox satisfies MailboxConn.
type MailboxOpener func(creds mailbox.Credentials) (MailboxConn, error)

// OpenMailbox is the production MailboxOpener.
func OpenMailbox(creds mailbox.Credentials) (MailboxConn, error) {
	return mailbox.Open(creds)
}

// SMSGateway is the slice of the gateway client the dispatcher needs.
type SMSGateway interface {
	Send(ctx context.Context, phone, message, webhookData string) (*gateway.SendResult, error)
	Status(ctx context.Context, textID string) (*gateway.StatusResult, error)
	Quota(ctx context.Context) (*gateway.QuotaResult, error)
	Signer() *gateway.TokenSigner
}

// BotStore is the registry surface the workers read.
type BotStore interface {
	Active(ctx context.Context) ([]domain.Bot, error)
	UpdateLastSeenMessage(ctx context.Context, id int64, messageID string) error
}

// EmailStore is the email persistence surface the workers need.
type EmailStore interface {
	Get(ctx context.Context, id int64) (*domain.Email, error)
	Insert(ctx context.Context, e *domain.Email) (*domain.Email, error)
	Unprocessed(ctx context.Context, botID int64) ([]domain.Email, error)
	MarkProcessed(ctx context.Context, id int64) error
}

// UserStore resolves and creates correspondents.
type UserStore interface {
	Get(ctx context.Context, id int64) (*domain.User, error)
	GetOrCreate(ctx context.Context, portalFrom string) (*domain.User, error)
}

// ContactStore is the contact surface the dispatcher needs.
type ContactStore interface {
	GetByName(ctx context.Context, userID int64, name string) (*domain.Contact, error)
	GetByPhone(ctx context.Context, userID int64, phone string) (*domain.Contact, error)
	Upsert(ctx context.Context, c *domain.Contact) (*domain.Contact, error)
	ListForUser(ctx context.Context, userID int64) ([]domain.Contact, error)
}

// SMSStore is the SMS persistence surface the workers need.
type SMSStore interface {
	Insert(ctx context.Context, s *domain.SMS) (*domain.SMS, error)
	UnprocessedInbound(ctx context.Context, botID int64) ([]domain.SMS, error)
	RecentForContact(ctx context.Context, contactID int64, limit int) ([]domain.SMS, error)
	UpdateStatus(ctx context.Context, id int64, status domain.SMSStatus) error
	MarkProcessed(ctx context.Context, id int64) error
}

// ProcessedStore records per-module audit rows.
type ProcessedStore interface {
	Record(ctx context.Context, p *domain.ProcessedData) error
}

// Notifier surfaces operational alerts to the operator.
type Notifier interface {
	NotifyQuotaReached(ctx context.Context, remaining int) error
}

// LogNotifier is the default Notifier: it writes the alert to the log.
type LogNotifier struct{}

// NotifyQuotaReached logs the quota alert.
func (LogNotifier) NotifyQuotaReached(_ context.Context, remaining int) error {
	logger.Error("sms quota exhausted, dispatch halted", "quota_remaining", remaining)
	return nil
}
