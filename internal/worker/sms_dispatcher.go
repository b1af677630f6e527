package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/auratek/contxt-bridge/internal/config"
	"github.com/auratek/contxt-bridge/internal/domain"
	"github.com/auratek/contxt-bridge/internal/gateway"
	"github.com/auratek/contxt-bridge/internal/interpreter"
	"github.com/auratek/contxt-bridge/internal/repository/postgres"
	"github.com/auratek/contxt-bridge/internal/templates"
)

// deliveredStatus is the gateway's terminal success state.
const deliveredStatus = "DELIVERED"

// Replier delivers operator messages into portal threads.
type Replier interface {
	PushReply(ctx context.Context, bot *domain.Bot, portalMessageID, body string) error
}

// SMSDispatcher turns unprocessed text-request emails into outbound SMS,
// polls delivery, and reconciles failures back to the user.
type SMSDispatcher struct {
	cfg       config.GatewayConfig
	emails    EmailStore
	users     UserStore
	contacts  ContactStore
	sms       SMSStore
	gw        SMSGateway
	engine    *templates.Engine
	replier   Replier
	processed ProcessedStore
	notifier  Notifier
}

// NewSMSDispatcher creates the dispatch stage.
func NewSMSDispatcher(cfg config.GatewayConfig, emails EmailStore, users UserStore,
	contacts ContactStore, sms SMSStore, gw SMSGateway, engine *templates.Engine,
	replier Replier, processed ProcessedStore, notifier Notifier) *SMSDispatcher {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &SMSDispatcher{
		cfg:       cfg,
		emails:    emails,
		users:     users,
		contacts:  contacts,
		sms:       sms,
		gw:        gw,
		engine:    engine,
		replier:   replier,
		processed: processed,
		notifier:  notifier,
	}
}

// Run dispatches SMS for every unprocessed email of the bot whose subject
// resolves to a destination number. The quota gate runs first: an exhausted
// quota skips the whole tick and alerts the operator.
func (d *SMSDispatcher) Run(ctx context.Context, bot *domain.Bot) error {
	quota, err := d.gw.Quota(ctx)
	if err != nil {
		return fmt.Errorf("sms dispatcher: quota check: %w", err)
	}
	if quota.QuotaRemaining <= d.cfg.QuotaThreshold {
		log.Printf("[SMSDispatcher] bot %d: quota %d at or below threshold %d, skipping tick",
			bot.ID, quota.QuotaRemaining, d.cfg.QuotaThreshold)
		if err := d.notifier.NotifyQuotaReached(ctx, quota.QuotaRemaining); err != nil {
			log.Printf("[SMSDispatcher] quota notification failed: %v", err)
		}
		return nil
	}

	emails, err := d.emails.Unprocessed(ctx, bot.ID)
	if err != nil {
		return fmt.Errorf("sms dispatcher: %w", err)
	}

	for i := range emails {
		email := &emails[i]
		if err := d.dispatchOne(ctx, bot, email); err != nil {
			log.Printf("[SMSDispatcher] bot %d: email %d: %v", bot.ID, email.ID, err)
		}
	}
	return nil
}

func (d *SMSDispatcher) dispatchOne(ctx context.Context, bot *domain.Bot, email *domain.Email) error {
	user, err := d.users.Get(ctx, email.UserID)
	if err != nil {
		return fmt.Errorf("resolve user %d: %w", email.UserID, err)
	}

	toNumber, resolvable := d.resolveDestination(ctx, user, email.Subject)
	if !resolvable {
		// Neither a number nor a known contact: answer with instructions so
		// the email does not linger unprocessed forever.
		return d.finishWithReply(ctx, bot, user, email, domain.TplInstructionalError, nil)
	}
	if toNumber == "" {
		return nil // not a dispatch subject at all; leave for other stages
	}

	contact, err := d.contactForNumber(ctx, user, toNumber)
	if err != nil {
		return err
	}

	token := d.gw.Signer().Sign(gateway.TokenPayload{BotID: bot.ID, EmailID: email.ID})
	result, err := d.gw.Send(ctx, toNumber, email.Body, token)
	if err != nil {
		return fmt.Errorf("gateway send: %w", err)
	}

	if !result.Success {
		log.Printf("[SMSDispatcher] bot %d: gateway rejected send to %s: %s", bot.ID, toNumber, result.Error)
		if _, err := d.insertOutbound(ctx, bot, contact, email, toNumber, "", domain.SMSFailed); err != nil {
			return err
		}
		return d.finishWithReply(ctx, bot, user, email, domain.TplTextNotSentError, contact)
	}

	sent, err := d.insertOutbound(ctx, bot, contact, email, toNumber, result.TextID, domain.SMSSent)
	if err != nil {
		return err
	}
	log.Printf("[SMSDispatcher] bot %d: sent %s to %s (quota %d)",
		bot.ID, result.TextID, toNumber, result.QuotaRemaining)

	return d.trackDelivery(ctx, bot, user, email, contact, sent, 0)
}

// resolveDestination extracts a destination number from a subject: either
// the subject is only a valid US number, or a "text <name>" subject names
// an existing contact. The second return is false when the subject claims
// a destination the system cannot resolve.
func (d *SMSDispatcher) resolveDestination(ctx context.Context, user *domain.User, subject string) (string, bool) {
	if phone := interpreter.PhoneOnlySubject(subject); phone != "" {
		return phone, true
	}

	lower := strings.ToLower(strings.TrimSpace(subject))
	if !strings.HasPrefix(lower, "text") {
		return "", true
	}

	name := strings.TrimSpace(strings.TrimSpace(subject)[len("text"):])
	if name == "" {
		return "", false
	}
	if phone := interpreter.PhoneOnlySubject(name); phone != "" {
		return phone, true
	}
	contact, err := d.contacts.GetByName(ctx, user.ID, name)
	if err != nil || contact.PhoneNumber == "" {
		return "", false
	}
	return contact.PhoneNumber, true
}

// contactForNumber finds the user's contact holding the number, creating a
// placeholder contact named "{screen_name}_{number}" on first use.
func (d *SMSDispatcher) contactForNumber(ctx context.Context, user *domain.User, number string) (*domain.Contact, error) {
	contact, err := d.contacts.GetByPhone(ctx, user.ID, number)
	if err == nil {
		return contact, nil
	}
	if !errors.Is(err, postgres.ErrNotFound) {
		return nil, err
	}
	return d.contacts.Upsert(ctx, &domain.Contact{
		UserID:      user.ID,
		ContactName: fmt.Sprintf("%s_%s", user.ScreenName, number),
		PhoneNumber: number,
	})
}

func (d *SMSDispatcher) insertOutbound(ctx context.Context, bot *domain.Bot, contact *domain.Contact,
	email *domain.Email, toNumber, textID string, status domain.SMSStatus) (*domain.SMS, error) {
	return d.sms.Insert(ctx, &domain.SMS{
		BotID:          bot.ID,
		ContactID:      contact.ID,
		EmailID:        email.ID,
		PhoneNumber:    toNumber,
		Message:        email.Body,
		ExternalTextID: textID,
		Direction:      domain.SMSOutbound,
		Status:         status,
	})
}

// trackDelivery polls the gateway for delivery, resending once per budget
// exhaustion up to the configured cap. Terminal outcomes mark the
// originating email processed; terminal failure also notifies the user.
func (d *SMSDispatcher) trackDelivery(ctx context.Context, bot *domain.Bot, user *domain.User,
	email *domain.Email, contact *domain.Contact, sent *domain.SMS, retryCount int) error {

	for attempt := 0; attempt < d.cfg.MaxRetries; attempt++ {
		if !sleepCtx(ctx, d.cfg.RetryDelay()) {
			return ctx.Err()
		}

		status, err := d.gw.Status(ctx, sent.ExternalTextID)
		if err != nil {
			log.Printf("[SMSDispatcher] status poll %s: %v", sent.ExternalTextID, err)
			continue
		}
		if status.Status == deliveredStatus {
			if err := d.sms.UpdateStatus(ctx, sent.ID, domain.SMSDelivered); err != nil {
				return err
			}
			if err := d.emails.MarkProcessed(ctx, email.ID); err != nil {
				return err
			}
			d.audit(ctx, bot, email, domain.ProcessedStatusOK)
			log.Printf("[SMSDispatcher] bot %d: %s delivered", bot.ID, sent.ExternalTextID)
			return nil
		}
		log.Printf("[SMSDispatcher] bot %d: %s not delivered yet (%s)", bot.ID, sent.ExternalTextID, status.Status)
	}

	if retryCount < d.cfg.MaxRetries {
		log.Printf("[SMSDispatcher] bot %d: resending for email %d (retry %d)", bot.ID, email.ID, retryCount+1)
		token := d.gw.Signer().Sign(gateway.TokenPayload{BotID: bot.ID, EmailID: email.ID})
		result, err := d.gw.Send(ctx, sent.PhoneNumber, email.Body, token)
		if err == nil && result.Success {
			resent, err := d.insertOutbound(ctx, bot, contact, email, sent.PhoneNumber, result.TextID, domain.SMSSent)
			if err != nil {
				return err
			}
			return d.trackDelivery(ctx, bot, user, email, contact, resent, retryCount+1)
		}
	}

	if err := d.sms.UpdateStatus(ctx, sent.ID, domain.SMSFailed); err != nil {
		return err
	}
	d.audit(ctx, bot, email, domain.ProcessedStatusFailed)
	return d.finishWithReply(ctx, bot, user, email, domain.TplTextNotSentError, contact)
}

// finishWithReply marks the email processed and sends the user a templated
// outcome message.
func (d *SMSDispatcher) finishWithReply(ctx context.Context, bot *domain.Bot, user *domain.User,
	email *domain.Email, templateKey string, contact *domain.Contact) error {

	if err := d.emails.MarkProcessed(ctx, email.ID); err != nil {
		return err
	}

	params := templates.Params{
		FirstName: user.DisplayName,
		Command:   email.Subject,
		Detail:    " (" + email.Subject + ")",
	}
	if contact != nil {
		if recent, err := d.sms.RecentForContact(ctx, contact.ID, 20); err == nil {
			params.RecentSMS = recent
			params.ContactNames = map[int64]string{contact.ID: contact.ContactName}
		}
	}

	body, err := d.engine.Render(ctx, templateKey, params)
	if err != nil {
		return err
	}
	return d.replier.PushReply(ctx, bot, email.PortalMessageID, body)
}

func (d *SMSDispatcher) audit(ctx context.Context, bot *domain.Bot, email *domain.Email, status string) {
	err := d.processed.Record(ctx, &domain.ProcessedData{
		BotID:             bot.ID,
		ModuleName:        domain.ModuleSendSMS,
		OriginalMessageID: email.PortalMessageID,
		Status:            status,
	})
	if err != nil {
		log.Printf("[SMSDispatcher] audit write failed for email %d: %v", email.ID, err)
	}
}

// sleepCtx sleeps for d unless the context ends first. Returns false when
// the context ended.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
