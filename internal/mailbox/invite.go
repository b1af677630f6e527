package mailbox

import (
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message/mail"
)

// Invite is one parsed Portal invitation email.
type Invite struct {
	Code     string
	FullName string
	Subject  string
}

// Subject markers identifying invitation emails. The broader form catches
// providers that rewrite or truncate the subject.
const (
	InviteSubjectMarker  = "Person in Custody:"
	inviteSubjectPartial = "Person in"
	inviteCodeLinePrefix = "Identification Code:"
)

// ParseInvite extracts the invitation code and the contact's full name from
// a raw RFC822 invitation email. The subject tail "Last, First" becomes
// "First Last". Non-invite emails return an error.
func ParseInvite(raw []byte) (*Invite, error) {
	mr, err := mail.CreateReader(strings.NewReader(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("parse invite email: %w", err)
	}

	subject, err := mr.Header.Subject()
	if err != nil {
		return nil, fmt.Errorf("decode invite subject: %w", err)
	}

	if !strings.Contains(subject, InviteSubjectMarker) && !strings.Contains(subject, inviteSubjectPartial) {
		return nil, fmt.Errorf("subject %q is not an invitation", subject)
	}

	body, err := plainTextBody(mr)
	if err != nil {
		return nil, err
	}

	code := inviteCode(body)
	if code == "" {
		return nil, fmt.Errorf("invite code not found in email body")
	}

	fullName, err := fullNameFromSubject(subject)
	if err != nil {
		return nil, err
	}

	return &Invite{Code: code, FullName: fullName, Subject: subject}, nil
}

// plainTextBody walks the message parts and returns the first text/plain
// payload, or the whole body for non-multipart messages.
func plainTextBody(mr *mail.Reader) (string, error) {
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return "", fmt.Errorf("invite email has no text part")
		}
		if err != nil {
			return "", fmt.Errorf("read invite part: %w", err)
		}
		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			if ct == "text/plain" || ct == "" {
				data, err := io.ReadAll(part.Body)
				if err != nil {
					return "", fmt.Errorf("read invite body: %w", err)
				}
				return string(data), nil
			}
		}
	}
}

// inviteCode finds the "Identification Code:" line and returns its value.
func inviteCode(body string) string {
	for _, line := range strings.Split(body, "\n") {
		if idx := strings.Index(line, inviteCodeLinePrefix); idx >= 0 {
			return strings.TrimSpace(line[idx+len(inviteCodeLinePrefix):])
		}
	}
	return ""
}

// fullNameFromSubject reparses "...: LastName, FirstName" into
// "FirstName LastName".
func fullNameFromSubject(subject string) (string, error) {
	idx := strings.Index(subject, ":")
	if idx < 0 {
		return "", fmt.Errorf("invite subject %q has no name part", subject)
	}
	namePart := strings.TrimSpace(subject[idx+1:])

	last, first, ok := strings.Cut(namePart, ", ")
	if !ok {
		return "", fmt.Errorf("invite subject name %q is not Last, First", namePart)
	}
	return strings.TrimSpace(first) + " " + strings.TrimSpace(last), nil
}
