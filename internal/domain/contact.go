package domain

import (
	"regexp"
	"strings"
	"time"
)

// Contact is an outside correspondent owned by exactly one user.
// (UserID, ContactName) is unique; deletion is hard.
type Contact struct {
	ID           int64     `json:"id" db:"id"`
	UserID       int64     `json:"user_id" db:"user_id"`
	ContactName  string    `json:"contact_name" db:"contact_name"`
	PhoneNumber  string    `json:"phone_number" db:"phone_number"`
	EmailAddress string    `json:"email_address" db:"email_address"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

var nonDigitRe = regexp.MustCompile(`[^\d]`)

// CanonicalPhone reduces a phone number in any human format to the canonical
// stored form: digits only, a leading country code 1 stripped from 11-digit
// numbers. Returns "" when the input cannot be a valid US number (must end
// up exactly 10 digits with a leading digit of 2-9).
func CanonicalPhone(raw string) string {
	digits := nonDigitRe.ReplaceAllString(raw, "")
	if len(digits) == 11 && strings.HasPrefix(digits, "1") {
		digits = digits[1:]
	}
	if len(digits) != 10 {
		return ""
	}
	if digits[0] < '2' || digits[0] > '9' {
		return ""
	}
	return digits
}

var emailRe = regexp.MustCompile(`^[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+$`)

// ValidEmailAddress reports whether s looks like a deliverable address.
func ValidEmailAddress(s string) bool {
	return s != "" && !strings.Contains(s, " ") && emailRe.MatchString(s)
}
