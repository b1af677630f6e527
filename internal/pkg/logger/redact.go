package logger

import (
	"regexp"
	"strings"
)

var phoneRe = regexp.MustCompile(`\b\d{10,11}\b`)

// redactValue masks secrets and personal data based on the field key and
// any embedded phone numbers in the value.
func redactValue(key, val string) string {
	k := strings.ToLower(key)
	if strings.Contains(k, "password") || strings.Contains(k, "api_key") || strings.Contains(k, "signing") {
		return "***"
	}
	if strings.Contains(k, "phone") || strings.Contains(k, "number") {
		return RedactPhone(val)
	}
	return phoneRe.ReplaceAllStringFunc(val, RedactPhone)
}

// RedactPhone masks a phone number to its last four digits.
// "4024312303" → "******2303". Values too short to mask are returned whole.
func RedactPhone(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
