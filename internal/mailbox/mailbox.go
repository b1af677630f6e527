// Package mailbox wraps the IMAP connection lifecycle for a bot's invite
// mailbox: search, fetch, parse, and delete of Portal invitation emails.
package mailbox

import (
	"fmt"
	"sort"
	"time"

	"github.com/auratek/contxt-bridge/internal/pkg/logger"
	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// Credentials identifies one IMAP account.
type Credentials struct {
	Host     string // host or host:port; bare hosts get the IMAPS port
	Username string
	Password string
}

// Mailbox is an open IMAP connection with the inbox selected.
// Close must always be called; use it with defer right after Open.
type Mailbox struct {
	c        *client.Client
	username string
}

// Open dials the IMAP server over TLS, logs in, and selects the inbox.
func Open(creds Credentials) (*Mailbox, error) {
	addr := creds.Host
	if !hasPort(addr) {
		addr += ":993"
	}

	c, err := client.DialTLS(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial imap %s: %w", addr, err)
	}

	if err := c.Login(creds.Username, creds.Password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("imap login %s: %w", creds.Username, err)
	}

	if _, err := c.Select("INBOX", false); err != nil {
		c.Logout()
		return nil, fmt.Errorf("select inbox: %w", err)
	}

	logger.Info("mailbox opened", "imap_username", creds.Username)
	return &Mailbox{c: c, username: creds.Username}, nil
}

func hasPort(addr string) bool {
	for i := len(addr) - 1; i >= 0; i-- {
		switch addr[i] {
		case ':':
			return true
		case ']', '.':
			return false
		}
	}
	return false
}

// Close logs out and drops the connection.
func (m *Mailbox) Close() error {
	return m.c.Logout()
}

// SearchSince returns the ids of messages whose subject contains subject and
// that arrived within the last daysBack days, sorted newest first.
func (m *Mailbox) SearchSince(daysBack int, subject string) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	criteria.Since = time.Now().AddDate(0, 0, -daysBack)
	criteria.Header.Add("Subject", subject)

	ids, err := m.c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("imap search %q: %w", subject, err)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	return ids, nil
}

// Fetch returns the full RFC822 payload of the given message.
func (m *Mailbox) Fetch(id uint32) ([]byte, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(id)

	section := &imap.BodySectionName{}
	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- m.c.Fetch(seqset, []imap.FetchItem{section.FetchItem()}, messages)
	}()

	msg := <-messages
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch message %d: %w", id, err)
	}
	if msg == nil {
		return nil, fmt.Errorf("message %d not returned by server", id)
	}

	body := msg.GetBody(section)
	if body == nil {
		return nil, fmt.Errorf("message %d has no body section", id)
	}

	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)
	for {
		n, err := body.Read(tmp)
		buf = append(buf, tmp[:n]...)
		if err != nil {
			break
		}
	}
	return buf, nil
}

// Delete flags the message deleted and expunges the mailbox.
func (m *Mailbox) Delete(id uint32) error {
	seqset := new(imap.SeqSet)
	seqset.AddNum(id)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := m.c.Store(seqset, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
		return fmt.Errorf("flag message %d deleted: %w", id, err)
	}
	if err := m.c.Expunge(nil); err != nil {
		return fmt.Errorf("expunge: %w", err)
	}

	logger.Info("invite email deleted", "imap_username", m.username, "imap_id", id)
	return nil
}
