package domain

import "time"

// SMSDirection distinguishes messages we sent from gateway callbacks.
type SMSDirection string

const (
	SMSOutbound SMSDirection = "outbound"
	SMSInbound  SMSDirection = "inbound"
)

// SMSStatus enumerates the delivery states of a text message.
type SMSStatus string

const (
	SMSSent      SMSStatus = "sent"
	SMSDelivered SMSStatus = "delivered"
	SMSFailed    SMSStatus = "failed"
	SMSUnknown   SMSStatus = "unknown"
)

// Terminal reports whether the status will no longer change.
func (s SMSStatus) Terminal() bool {
	return s == SMSDelivered || s == SMSFailed
}

// SMS is a text message record. Outbound rows are created on dispatch and
// carry the gateway's ExternalTextID once assigned (unique among outbound
// rows). Inbound rows are created by the reply webhook and inherit the
// (bot, email, contact) triple of the outbound row they pair with.
type SMS struct {
	ID             int64        `json:"id" db:"id"`
	BotID          int64        `json:"bot_id" db:"bot_id"`
	ContactID      int64        `json:"contact_id" db:"contact_id"`
	EmailID        int64        `json:"email_id" db:"email_id"`
	PhoneNumber    string       `json:"phone_number" db:"phone_number"`
	Message        string       `json:"message" db:"message"`
	ExternalTextID string       `json:"external_text_id" db:"external_text_id"`
	Direction      SMSDirection `json:"direction" db:"direction"`
	Status         SMSStatus    `json:"status" db:"status"`
	IsProcessed    bool         `json:"is_processed" db:"is_processed"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at" db:"updated_at"`
}
