package domain

import (
	"strings"
	"time"
)

// User is an incarcerated correspondent. Users are created on demand the
// first time an email arrives from a new pic number; the pic number is the
// Portal-assigned natural key and identifies the same user forever.
type User struct {
	ID          int64     `json:"id" db:"id"`
	PicNumber   string    `json:"pic_number" db:"pic_number"`
	DisplayName string    `json:"display_name" db:"display_name"`
	ScreenName  string    `json:"screen_name" db:"screen_name"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	PrivateMode bool      `json:"private_mode" db:"private_mode"`
	Balance     float64   `json:"balance" db:"balance"`
	SMSLeft     float64   `json:"sms_remaining" db:"sms_remaining"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// ParsePortalFrom splits a Portal "from" field of the form
// "Display Name (pic_number)" into its parts. The pic number is taken
// verbatim. ok is false when the field does not carry a parenthesized id.
func ParsePortalFrom(from string) (displayName, picNumber string, ok bool) {
	idx := strings.LastIndex(from, " (")
	if idx < 0 || !strings.HasSuffix(from, ")") {
		return "", "", false
	}
	displayName = strings.TrimSpace(from[:idx])
	picNumber = strings.TrimSpace(from[idx+2 : len(from)-1])
	if displayName == "" || picNumber == "" {
		return "", "", false
	}
	return displayName, picNumber, true
}

// ScreenNameFor builds the login-style screen name assigned to users created
// on first sighting: the display name with spaces stripped, an underscore,
// then the pic number.
func ScreenNameFor(displayName, picNumber string) string {
	return strings.ReplaceAll(displayName, " ", "") + "_" + strings.ReplaceAll(picNumber, " ", "")
}
