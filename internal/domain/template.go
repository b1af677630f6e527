package domain

import "time"

// ResponseTemplate is a keyed operator-facing reply body with {{ placeholder }}
// slots, rendered by the template engine.
type ResponseTemplate struct {
	ID           int64     `json:"id" db:"id"`
	Key          string    `json:"key" db:"key"`
	TemplateText string    `json:"template_text" db:"template_text"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Template keys understood by the response engine.
const (
	TplWelcomeStatus           = "WELCOME_STATUS"
	TplSignupInstructions      = "SIGNUP_INSTRUCTIONS"
	TplInstructionalError      = "INSTRUCTIONAL_ERROR"
	TplFamilyContactUpdate     = "FAMILY_CONTACT_UPDATE"
	TplMessageSentConfirmation = "MESSAGE_SENT_CONFIRMATION"
	TplContactNotFound         = "CONTACT_NOT_FOUND"
	TplContactList             = "CONTACT_LIST"
	TplTextNotSentError        = "TEXT_NOT_SENT_ERROR"
	TplScreennameConfirmation  = "SCREENNAME_CONFIRMATION"
	TplScreennameError         = "SCREENNAME_ERROR"
	TplListPenpalUsers         = "LIST_PENPAL_USERS"
	TplFamilyTextToCL          = "FAMILY_TEXT_TO_CL"
)
