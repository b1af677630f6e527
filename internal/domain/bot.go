package domain

import "time"

// Bot is a worker identity: one Corrlinks login plus one IMAP mailbox.
// Bots are never deleted, only deactivated, so historical emails and SMS
// keep a valid owner.
type Bot struct {
	ID                int64     `json:"id" db:"id"`
	Name              string    `json:"name" db:"name"`
	PortalUsername    string    `json:"portal_username" db:"portal_username"`
	PortalPassword    string    `json:"-" db:"portal_password"`
	IMAPHost          string    `json:"imap_host" db:"imap_host"`
	IMAPUsername      string    `json:"imap_username" db:"imap_username"`
	IMAPPassword      string    `json:"-" db:"imap_password"`
	LastSeenMessageID string    `json:"last_seen_message_id" db:"last_seen_message_id"`
	IsActive          bool      `json:"is_active" db:"is_active"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// ProcessedData is an audit row recording that a bot-side module handled a
// given original message, used for idempotency checks across components.
type ProcessedData struct {
	ID                int64     `json:"id" db:"id"`
	BotID             int64     `json:"bot_id" db:"bot_id"`
	ModuleName        string    `json:"module_name" db:"module_name"`
	OriginalMessageID string    `json:"original_message_id" db:"original_message_id"`
	Status            string    `json:"status" db:"status"`
	ProcessedAt       time.Time `json:"processed_at" db:"processed_at"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

// Module names recorded in processed_data rows.
const (
	ModuleAcceptInvites     = "accept_invites"
	ModulePullEmails        = "pull_emails"
	ModuleContactManagement = "contact_management"
	ModuleSendSMS           = "send_sms"
	ModulePushEmails        = "push_emails"
	ModuleReceiveSMS        = "receive_sms"
)

// Processed-data statuses.
const (
	ProcessedStatusOK     = "processed"
	ProcessedStatusFailed = "failed"
)
