package portal

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// FormState is the opaque ASP.NET form state lifted from an inbox page.
// It is rebuilt from a fresh page fetch for every request cycle.
type FormState struct {
	CompressedViewState string
}

// Form field names and element ids of the inbox grid.
const (
	inboxGridTarget  = "ctl00$mainContentPlaceHolder$inboxGridView"
	topScriptManager = "ctl00$topScriptManager"
	fromTextBoxID    = "#ctl00_mainContentPlaceHolder_fromTextBox"
	dateTextBoxID    = "#ctl00_mainContentPlaceHolder_dateTextBox"
	subjectTextBoxID = "#ctl00_mainContentPlaceHolder_subjectTextBox"
	messageTextBoxID = "#ctl00_mainContentPlaceHolder_messageTextBox"
)

// EventFields builds the postback form selecting inbox row index.
func (f FormState) EventFields(index int) map[string]string {
	return map[string]string{
		"__EVENTTARGET":         inboxGridTarget,
		"__EVENTARGUMENT":       fmt.Sprintf("rc%d", index),
		"__COMPRESSEDVIEWSTATE": f.CompressedViewState,
		"__ASYNCPOST":           "true",
		topScriptManager:        inboxGridTarget,
	}
}

// InboxRow is one message row of the inbox grid listing.
type InboxRow struct {
	Index           int
	PortalMessageID string
	From            string
	Subject         string
	Date            string
}

// Message is one fully expanded portal message.
type Message struct {
	PortalMessageID string
	From            string
	Date            string
	Subject         string
	Body            string
}

var messageIDRe = regexp.MustCompile(`(?i)(Command="REPLY"\s+MessageId="(\d+)"|messageid="(\d+)")`)

// ParseInboxPage extracts the compressed viewstate and the message rows from
// an inbox listing page.
func ParseInboxPage(page string) (FormState, []InboxRow, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return FormState{}, nil, fmt.Errorf("parse inbox page: %w", err)
	}

	viewState, ok := doc.Find(`input[name="__COMPRESSEDVIEWSTATE"]`).Attr("value")
	if !ok {
		return FormState{}, nil, fmt.Errorf("__COMPRESSEDVIEWSTATE not found in inbox page")
	}
	state := FormState{CompressedViewState: viewState}

	var rows []InboxRow
	doc.Find("tr").Each(func(_ int, sel *goquery.Selection) {
		onmouseover, _ := sel.Attr("onmouseover")
		if !strings.HasPrefix(onmouseover, "this.className='MessageDataGrid ItemHighlighted'") {
			return
		}

		row := InboxRow{Index: len(rows)}

		html, err := goquery.OuterHtml(sel)
		if err == nil {
			if m := messageIDRe.FindStringSubmatch(html); m != nil {
				if m[2] != "" {
					row.PortalMessageID = m[2]
				} else {
					row.PortalMessageID = m[3]
				}
			}
		}

		row.From = strings.TrimSpace(sel.Find("th.MessageDataGrid.Item a.tooltip span").First().Text())
		row.Subject = strings.TrimSpace(sel.Find("td.MessageDataGrid.Item a.tooltip span").First().Text())
		row.Date = strings.TrimSpace(sel.Find("td.MessageDataGrid.Item:nth-child(4)").First().Text())

		rows = append(rows, row)
	})

	return state, rows, nil
}

var updatePanelRe = regexp.MustCompile(`(?s)\|updatePanel\|ctl00_topUpdatePanel\|(.*?)\|`)

// ExtractUpdatePanel slices the top update panel's HTML out of a composite
// AJAX postback payload. Returns an error when the payload has no panel,
// which usually means the viewstate went stale.
func ExtractUpdatePanel(payload string) (string, error) {
	m := updatePanelRe.FindStringSubmatch(payload)
	if m == nil {
		return "", fmt.Errorf("update panel not found in AJAX payload")
	}
	return m[1], nil
}

// ParseMessagePanel recovers the expanded message from an update panel
// slice. The from/date/subject fields are rendered as input values; the
// body is the message textbox's text, reduced to the most recent message.
func ParseMessagePanel(panel, portalMessageID string) (*Message, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(panel))
	if err != nil {
		return nil, fmt.Errorf("parse message panel: %w", err)
	}

	attr := func(sel string) string {
		v, _ := doc.Find(sel).Attr("value")
		return strings.TrimSpace(v)
	}

	msg := &Message{
		PortalMessageID: portalMessageID,
		From:            attr(fromTextBoxID),
		Date:            attr(dateTextBoxID),
		Subject:         attr(subjectTextBoxID),
		Body:            MostRecentMessage(doc.Find(messageTextBoxID).Text()),
	}
	if msg.From == "" {
		return nil, fmt.Errorf("message panel for %s has no from field", portalMessageID)
	}
	return msg, nil
}

// Reply indicators splitting a threaded body, in match priority order.
// These three patterns are the whole contract; additions must be deliberate
// and tested.
var replySplitRes = []*regexp.Regexp{
	regexp.MustCompile(`(?is)-----.*?on \d{1,2}/\d{1,2}/\d{4} \d{1,2}:\d{2} (AM|PM) wrote:`),
	regexp.MustCompile(`(?im)^.* on \d{1,2}/\d{1,2}/\d{4} \d{1,2}:\d{2} (AM|PM) wrote`),
	regexp.MustCompile(`(?m)^>`),
}

// MostRecentMessage reduces a threaded message body to the portion before
// the first reply indicator.
func MostRecentMessage(full string) string {
	for _, re := range replySplitRes {
		if loc := re.FindStringIndex(full); loc != nil {
			return strings.TrimSpace(full[:loc[0]])
		}
	}
	return strings.TrimSpace(full)
}

// Portal timestamp layouts, with and without seconds.
var portalTimeLayouts = []string{
	"1/2/2006 3:04:05 PM",
	"1/2/2006 3:04 PM",
}

// ParsePortalTime parses the Portal's M/D/YYYY H:MM[:SS] AM/PM timestamps.
func ParsePortalTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range portalTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized portal timestamp %q", s)
}
