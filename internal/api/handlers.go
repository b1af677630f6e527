// Package api implements the inbound HTTP surface: the SMS gateway's reply
// webhook and the health endpoint.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/auratek/contxt-bridge/internal/domain"
	"github.com/auratek/contxt-bridge/internal/gateway"
	"github.com/auratek/contxt-bridge/internal/pkg/httputil"
	"github.com/auratek/contxt-bridge/internal/pkg/logger"
	"github.com/auratek/contxt-bridge/internal/repository/postgres"
)

// SMSStore is the SMS persistence surface the webhook needs.
type SMSStore interface {
	LatestOutboundByTextID(ctx context.Context, textID string) (*domain.SMS, error)
	InboundExistsForTextID(ctx context.Context, textID string) (bool, error)
	Insert(ctx context.Context, s *domain.SMS) (*domain.SMS, error)
}

// EmailStore resolves the outbound SMS's originating email.
type EmailStore interface {
	Get(ctx context.Context, id int64) (*domain.Email, error)
}

// ContactStore resolves the outbound SMS's contact.
type ContactStore interface {
	Get(ctx context.Context, id int64) (*domain.Contact, error)
}

// Handlers holds the webhook endpoints and their dependencies.
type Handlers struct {
	sms      SMSStore
	emails   EmailStore
	contacts ContactStore
	signer   *gateway.TokenSigner
	testMode bool
}

// NewHandlers creates the webhook handlers. In test mode the signed-token
// check is bypassed.
func NewHandlers(sms SMSStore, emails EmailStore, contacts ContactStore,
	signer *gateway.TokenSigner, testMode bool) *Handlers {
	return &Handlers{
		sms:      sms,
		emails:   emails,
		contacts: contacts,
		signer:   signer,
		testMode: testMode,
	}
}

// webhookRequest is the gateway's reply callback body.
type webhookRequest struct {
	TextID     string `json:"textId"`
	FromNumber string `json:"fromNumber"`
	Text       string `json:"text"`
	Data       string `json:"data"`
}

// webhookResponse pairs the callback with the originating email and contact.
type webhookResponse struct {
	Email   any `json:"email"`
	Contact any `json:"contact"`
}

// HandleInboundSMS receives a reply callback, authenticates it, pairs it to
// the most recent outbound SMS with the same text id, and records the
// inbound message for the reply pusher. Unknown text ids get 400 with no
// database change; invalid or expired tokens get 403. Replays of an
// already-paired text id are no-ops.
func (h *Handlers) HandleInboundSMS(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.TextID == "" {
		httputil.BadRequest(w, "textId is required")
		return
	}

	if !h.testMode {
		if req.Data == "" {
			httputil.Forbidden(w, "Invalid or expired token")
			return
		}
		if _, err := h.signer.Verify(req.Data, gateway.TokenMaxAge); err != nil {
			logger.Error("webhook token rejected", "text_id", req.TextID, "error", err.Error())
			httputil.Forbidden(w, "Invalid or expired token")
			return
		}
	}

	ctx := r.Context()

	outbound, err := h.sms.LatestOutboundByTextID(ctx, req.TextID)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			logger.Error("webhook for unknown text id", "text_id", req.TextID)
			httputil.JSON(w, http.StatusBadRequest, webhookResponse{Email: false, Contact: false})
			return
		}
		httputil.InternalError(w, err)
		return
	}

	// Replayed callbacks must not create a second inbound row.
	exists, err := h.sms.InboundExistsForTextID(ctx, req.TextID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if !exists {
		_, err = h.sms.Insert(ctx, &domain.SMS{
			BotID:          outbound.BotID,
			ContactID:      outbound.ContactID,
			EmailID:        outbound.EmailID,
			PhoneNumber:    req.FromNumber,
			Message:        req.Text,
			ExternalTextID: req.TextID,
			Direction:      domain.SMSInbound,
			Status:         domain.SMSDelivered,
		})
		if err != nil {
			httputil.InternalError(w, err)
			return
		}
		logger.Info("inbound sms recorded",
			"bot_id", outbound.BotID, "text_id", req.TextID, "from_number", req.FromNumber)
	} else {
		logger.Warn("webhook replay ignored", "text_id", req.TextID)
	}

	resp := webhookResponse{Email: false, Contact: false}
	if email, err := h.emails.Get(ctx, outbound.EmailID); err == nil {
		resp.Email = email.PortalMessageID
	}
	if contact, err := h.contacts.Get(ctx, outbound.ContactID); err == nil {
		resp.Contact = contact.ContactName
	}
	httputil.OK(w, resp)
}

// HandleHealth reports liveness.
func (h *Handlers) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

// HandleTest confirms the API is reachable; registered in test mode only.
func (h *Handlers) HandleTest(w http.ResponseWriter, _ *http.Request) {
	httputil.OK(w, map[string]string{"message": "API is working."})
}
