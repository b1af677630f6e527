package domain

import "time"

// Email is an inbound portal message pulled from a bot's Corrlinks inbox.
// (BotID, PortalMessageID) is unique; rows are immutable except IsProcessed.
type Email struct {
	ID              int64     `json:"id" db:"id"`
	BotID           int64     `json:"bot_id" db:"bot_id"`
	UserID          int64     `json:"user_id" db:"user_id"`
	PortalMessageID string    `json:"portal_message_id" db:"portal_message_id"`
	SentAt          time.Time `json:"sent_at" db:"sent_at"`
	Subject         string    `json:"subject" db:"subject"`
	Body            string    `json:"body" db:"body"`
	IsProcessed     bool      `json:"is_processed" db:"is_processed"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}
