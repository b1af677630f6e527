package worker

import (
	"context"
	"log"

	"github.com/auratek/contxt-bridge/internal/domain"
)

// Pipeline is one bot's deterministic tick: accept pending invitations,
// pull new inbox messages, dispatch SMS, then push replies back into the
// portal. A stage's failure aborts only that stage; later stages still run
// on whatever state the store holds.
type Pipeline struct {
	invites    *InviteAcceptor
	puller     *InboxPuller
	dispatcher *SMSDispatcher
	replies    *ReplyPusher
}

// NewPipeline wires the four stages in their execution order.
func NewPipeline(invites *InviteAcceptor, puller *InboxPuller,
	dispatcher *SMSDispatcher, replies *ReplyPusher) *Pipeline {
	return &Pipeline{
		invites:    invites,
		puller:     puller,
		dispatcher: dispatcher,
		replies:    replies,
	}
}

// RunBot executes the bot's full pipeline once. Every stage error is
// logged here; nothing propagates to the scheduler unlogged.
func (p *Pipeline) RunBot(ctx context.Context, bot *domain.Bot) {
	stages := []struct {
		name string
		run  func(context.Context, *domain.Bot) error
	}{
		{"invite acceptor", p.invites.Run},
		{"inbox puller", p.puller.Run},
		{"sms dispatcher", p.dispatcher.Run},
		{"reply pusher", p.replies.Run},
	}

	for _, stage := range stages {
		if ctx.Err() != nil {
			log.Printf("[Pipeline] bot %d: tick cancelled before %s", bot.ID, stage.name)
			return
		}
		if err := stage.run(ctx, bot); err != nil {
			log.Printf("[Pipeline] bot %d: %s: %v", bot.ID, stage.name, err)
		}
	}
}
