package worker

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/auratek/contxt-bridge/internal/domain"
)

// maxReplyLength is the Portal composer's body limit; longer operator
// replies are split into continuation messages.
const maxReplyLength = 13000

// ReplyPusher pushes inbound SMS back into their portal threads and
// delivers operator messages for the other stages.
type ReplyPusher struct {
	sms        SMSStore
	emails     EmailStore
	sessions   SessionProvider
	render     RenderClient
	maxRetries int
}

// NewReplyPusher creates the reply stage.
func NewReplyPusher(sms SMSStore, emails EmailStore, sessions SessionProvider,
	render RenderClient, maxRetries int) *ReplyPusher {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &ReplyPusher{
		sms:        sms,
		emails:     emails,
		sessions:   sessions,
		render:     render,
		maxRetries: maxRetries,
	}
}

// Run delivers every unprocessed inbound SMS of the bot into the portal
// thread of its originating email. One message's failure never aborts the
// rest.
func (rp *ReplyPusher) Run(ctx context.Context, bot *domain.Bot) error {
	inbound, err := rp.sms.UnprocessedInbound(ctx, bot.ID)
	if err != nil {
		return fmt.Errorf("reply pusher: %w", err)
	}
	if len(inbound) == 0 {
		log.Printf("[ReplyPusher] bot %d: no inbound SMS to push", bot.ID)
		return nil
	}

	for i := range inbound {
		sms := &inbound[i]
		if err := rp.pushOne(ctx, bot, sms); err != nil {
			log.Printf("[ReplyPusher] bot %d: sms %d: %v", bot.ID, sms.ID, err)
		}
	}
	return nil
}

func (rp *ReplyPusher) pushOne(ctx context.Context, bot *domain.Bot, sms *domain.SMS) error {
	email, err := rp.emails.Get(ctx, sms.EmailID)
	if err != nil {
		return fmt.Errorf("originating email %d: %w", sms.EmailID, err)
	}

	if err := rp.PushReply(ctx, bot, email.PortalMessageID, sms.Message); err != nil {
		return err
	}
	return rp.sms.MarkProcessed(ctx, sms.ID)
}

// PushReply submits a reply into the thread of the given portal message,
// splitting bodies beyond the composer limit into continuation parts.
// It is the port the interpreter and the dispatcher deliver operator
// messages through.
func (rp *ReplyPusher) PushReply(ctx context.Context, bot *domain.Bot, portalMessageID, body string) error {
	for i, part := range splitLongBody(body) {
		content := part
		if i > 0 {
			content = fmt.Sprintf("(cont. %d) %s", i+1, part)
		}
		if err := rp.sendWithRetries(ctx, bot, portalMessageID, content); err != nil {
			return err
		}
	}
	return nil
}

func (rp *ReplyPusher) sendWithRetries(ctx context.Context, bot *domain.Bot, portalMessageID, content string) error {
	session, err := rp.sessions.Get(ctx, bot)
	if err != nil {
		return fmt.Errorf("session for bot %d: %w", bot.ID, err)
	}

	var lastErr error
	for attempt := 1; attempt <= rp.maxRetries; attempt++ {
		result, err := rp.render.SendReply(ctx, session, portalMessageID, content)
		if err != nil {
			lastErr = err
			continue
		}
		if result.ElementFound {
			log.Printf("[ReplyPusher] bot %d: reply sent into thread %s", bot.ID, portalMessageID)
			return nil
		}
		lastErr = fmt.Errorf("attempt %d: %s", attempt, result.Message)
	}
	return fmt.Errorf("reply to %s not confirmed: %w", portalMessageID, lastErr)
}

// PushNewMessage composes a brand-new portal message addressed by name.
// The Portal's recipient search wants "Last First Middle", so the name is
// rotated before submission.
func (rp *ReplyPusher) PushNewMessage(ctx context.Context, bot *domain.Bot, picName, body string) error {
	session, err := rp.sessions.Get(ctx, bot)
	if err != nil {
		return fmt.Errorf("session for bot %d: %w", bot.ID, err)
	}

	searchName := TransformPicName(picName)

	var lastErr error
	for attempt := 1; attempt <= rp.maxRetries; attempt++ {
		result, err := rp.render.SendNewMessage(ctx, session, searchName, body)
		if err != nil {
			lastErr = err
			continue
		}
		if result.ElementFound {
			log.Printf("[ReplyPusher] bot %d: new message sent to %s", bot.ID, searchName)
			return nil
		}
		lastErr = fmt.Errorf("attempt %d: %s", attempt, result.Message)
		if !result.FoundRow {
			// The recipient does not exist in the contact grid; retrying
			// the same search cannot succeed.
			break
		}
	}
	return fmt.Errorf("new message to %s not confirmed: %w", searchName, lastErr)
}

// TransformPicName rotates "First Middle Last" into "Last First Middle"
// for the Portal's recipient search field.
func TransformPicName(name string) string {
	parts := strings.Fields(name)
	if len(parts) < 2 {
		return name
	}
	last := parts[len(parts)-1]
	return strings.Join(append([]string{last}, parts[:len(parts)-1]...), " ")
}

// splitLongBody chunks a body into composer-sized parts.
func splitLongBody(body string) []string {
	if len(body) <= maxReplyLength {
		return []string{body}
	}
	var parts []string
	for len(body) > maxReplyLength {
		parts = append(parts, body[:maxReplyLength])
		body = body[maxReplyLength:]
	}
	if len(body) > 0 {
		parts = append(parts, body)
	}
	return parts
}
