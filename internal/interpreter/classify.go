// Package interpreter classifies pulled portal emails whose subjects carry
// contact-management commands and executes the resulting actions.
package interpreter

import (
	"regexp"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/auratek/contxt-bridge/internal/domain"
)

// Action is what a classified command asks for.
type Action string

const (
	ActionAdd    Action = "add"
	ActionUpdate Action = "update"
	ActionRemove Action = "remove"
	ActionList   Action = "list"
)

// DetailType distinguishes phone-number details from email details.
type DetailType string

const (
	DetailPhone DetailType = "phone"
	DetailEmail DetailType = "email"
	DetailNone  DetailType = ""
)

// Command is a parsed contact-management subject.
type Command struct {
	Action      Action
	DetailType  DetailType
	ContactName string
	Detail      string // canonical phone or email address
}

// The recognized command subjects. Order matters: longer commands are
// matched before their prefixes.
var knownCommands = []struct {
	words  []string
	action Action
	detail DetailType
}{
	{[]string{"add", "contact", "email"}, ActionAdd, DetailEmail},
	{[]string{"add", "contact", "number"}, ActionAdd, DetailPhone},
	{[]string{"update", "contact", "email"}, ActionUpdate, DetailEmail},
	{[]string{"update", "contact", "number"}, ActionUpdate, DetailPhone},
	{[]string{"remove", "contact"}, ActionRemove, DetailNone},
	{[]string{"contact", "list"}, ActionList, DetailNone},
}

// similarityThreshold is the minimum percent similarity for a token run to
// count as a command.
const similarityThreshold = 90

var (
	emailDetailRe = regexp.MustCompile(`^[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+$`)
	phoneLikeRe   = regexp.MustCompile(`^[\d\s\-().+]+$`)
)

// similarity returns the percent similarity of two strings.
func similarity(a, b string) int {
	if a == b {
		return 100
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 100
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 100 * (longest - dist) / longest
}

// ReservedForDispatcher reports whether a subject belongs to the SMS
// dispatcher rather than the interpreter: a subject that is only a phone
// number, or one containing the literal "text".
func ReservedForDispatcher(subject string) bool {
	trimmed := strings.TrimSpace(subject)
	if trimmed == "" {
		return false
	}
	if strings.Contains(strings.ToLower(trimmed), "text") {
		return true
	}
	return PhoneOnlySubject(trimmed) != ""
}

// PhoneOnlySubject returns the canonical number of a subject that is
// nothing but a phone number (digits and separators), or "". Both the
// interpreter's skip rule and the dispatcher's destination resolution use
// this check so a command subject that merely contains a clean 10-digit
// run is never misread as a destination.
func PhoneOnlySubject(subject string) string {
	trimmed := strings.TrimSpace(subject)
	if trimmed == "" || !phoneLikeRe.MatchString(trimmed) {
		return ""
	}
	return domain.CanonicalPhone(trimmed)
}

// Classify parses a subject into a contact-management command. The token
// parser takes the leading tokens as the command, the last token as the
// contact detail, and the middle tokens as the contact name; command tokens
// match fuzzily at 90% similarity so small typos still work.
func Classify(subject string) (*Command, bool) {
	tokens := strings.Fields(subject)
	if len(tokens) == 0 {
		return nil, false
	}

	for _, kc := range knownCommands {
		if len(tokens) < len(kc.words) {
			continue
		}
		head := strings.ToLower(strings.Join(tokens[:len(kc.words)], " "))
		if similarity(head, strings.Join(kc.words, " ")) < similarityThreshold {
			continue
		}

		cmd := &Command{Action: kc.action, DetailType: kc.detail}
		rest := tokens[len(kc.words):]

		if kc.detail != DetailNone && len(rest) > 0 {
			last := rest[len(rest)-1]
			switch {
			case kc.detail == DetailEmail && emailDetailRe.MatchString(last):
				cmd.Detail = last
				rest = rest[:len(rest)-1]
			case kc.detail == DetailPhone && phoneLikeRe.MatchString(last):
				cmd.Detail = domain.CanonicalPhone(last)
				rest = rest[:len(rest)-1]
			}
		}

		cmd.ContactName = strings.Join(rest, " ")
		return cmd, true
	}

	return nil, false
}
