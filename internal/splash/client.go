// Package splash submits Portal forms through a scripted headless browser.
// The Portal's reply, compose, and pending-contact pages need client-side
// JS to submit correctly, so each action ships a dedicated Lua script to a
// Splash-compatible rendering service and gets a structured result back.
package splash

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/auratek/contxt-bridge/internal/config"
	"github.com/auratek/contxt-bridge/internal/pkg/httpretry"
	"github.com/auratek/contxt-bridge/internal/pkg/logger"
	"github.com/auratek/contxt-bridge/internal/portal"
)

// Element ids of the composer pages, shared by the reply and new-message
// scripts.
const (
	messageBoxID   = "ctl00_mainContentPlaceHolder_messageTextBox"
	sendButtonID   = "ctl00_mainContentPlaceHolder_sendMessageButton"
	confirmationID = "ctl00_mainContentPlaceHolder_messageSentLabel"
	searchBoxID    = "ctl00_mainContentPlaceHolder_addressBox_searchTextBox"
	searchButtonID = "ctl00_mainContentPlaceHolder_addressBox_searchButton"
)

// Result is the structured outcome of one rendered submission.
type Result struct {
	ElementFound  bool
	FoundRow      bool
	IsProcessed   bool
	Message       string
	ExtraMessages string
	HTML          string
	Screenshots   map[string]string // base64 PNGs, keys contain "screenshot"
}

// Client executes Lua scripts against the rendering service.
type Client struct {
	executeURL    string
	screenshotDir string
	testMode      bool
	portalCfg     config.PortalConfig
	httpClient    httpretry.HTTPDoer
}

// NewClient creates a rendering client. In test mode, screenshots returned
// by scripts are persisted under cfg.ScreenshotDir; HAR archives are not
// saved.
func NewClient(cfg config.SplashConfig, portalCfg config.PortalConfig, testMode bool) *Client {
	return &Client{
		executeURL:    cfg.ExecuteURL,
		screenshotDir: cfg.ScreenshotDir,
		testMode:      testMode,
		portalCfg:     portalCfg,
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: cfg.Timeout(),
		}, 2),
	}
}

// splashCookie is the cookie shape the rendering service installs into its
// browser before navigating.
type splashCookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Expires  string `json:"expires"`
	Path     string `json:"path"`
	HTTPOnly bool   `json:"httpOnly"`
	Secure   bool   `json:"secure"`
	Domain   string `json:"domain"`
}

func (c *Client) sessionCookies(s *portal.Session) []splashCookie {
	domain := ""
	if u, err := url.Parse(s.BaseURL()); err == nil {
		domain = u.Hostname()
	}
	expires := time.Now().Add(time.Hour).Format(time.RFC3339)

	var cookies []splashCookie
	for _, ck := range s.Cookies() {
		cookies = append(cookies, splashCookie{
			Name:     ck.Name,
			Value:    ck.Value,
			Expires:  expires,
			Path:     "/",
			HTTPOnly: true,
			Secure:   true,
			Domain:   domain,
		})
	}
	return cookies
}

func (c *Client) headers(s *portal.Session, referer string) map[string]string {
	return map[string]string{
		"User-Agent": s.UserAgent(),
		"Referer":    referer,
	}
}

// AcceptInvite enters an invitation code on the pending-contact page.
func (c *Client) AcceptInvite(ctx context.Context, s *portal.Session, inviteCode string) (*Result, error) {
	contactURL := s.BaseURL() + "/PendingContact.aspx"
	params := map[string]any{
		"lua_source":     acceptInviteScript,
		"url":            contactURL,
		"headers":        c.headers(s, contactURL),
		"cookies":        s.CookieHeader(),
		"splash_cookies": c.sessionCookies(s),

		"invitation_code":                      inviteCode,
		"invite_code_box_id":                   c.portalCfg.InviteCodeBoxID,
		"invitation_code_go_button_id":         c.portalCfg.InviteCodeGoButtonID,
		"person_in_custody_information_div_id": c.portalCfg.InviteInfoDivID,
		"invitation_accept_button_id":          c.portalCfg.InviteAcceptButtonID,
		"record_not_found_span_id":             c.portalCfg.RecordNotFoundSpanID,
	}
	return c.execute(ctx, params)
}

// SendReply submits a reply into an existing portal message thread.
func (c *Client) SendReply(ctx context.Context, s *portal.Session, portalMessageID, content string) (*Result, error) {
	replyURL := fmt.Sprintf("%s/NewMessage.aspx?messageId=%s&type=reply", s.BaseURL(), portalMessageID)
	params := map[string]any{
		"lua_source":     sendReplyScript,
		"reply_url":      replyURL,
		"headers":        c.headers(s, s.BaseURL()+portal.InboxPath),
		"cookies":        s.CookieHeader(),
		"splash_cookies": c.sessionCookies(s),

		"message_content": content,
		"message_box_id":  messageBoxID,
		"send_button_id":  sendButtonID,
		"confirmation_id": confirmationID,
	}
	return c.execute(ctx, params)
}

// SendNewMessage composes a brand-new portal message addressed by name.
func (c *Client) SendNewMessage(ctx context.Context, s *portal.Session, picName, content string) (*Result, error) {
	newMessageURL := s.BaseURL() + "/NewMessage.aspx"
	params := map[string]any{
		"lua_source":      sendNewMessageScript,
		"new_message_url": newMessageURL,
		"headers":         c.headers(s, s.BaseURL()+portal.InboxPath),
		"cookies":         s.CookieHeader(),
		"splash_cookies":  c.sessionCookies(s),

		"pic_name":         picName,
		"message_content":  content,
		"search_box_id":    searchBoxID,
		"search_button_id": searchButtonID,
		"message_box_id":   messageBoxID,
		"send_button_id":   sendButtonID,
		"confirmation_id":  confirmationID,
	}
	return c.execute(ctx, params)
}

func (c *Client) execute(ctx context.Context, params map[string]any) (*Result, error) {
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal splash request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.executeURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("splash execute: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("splash execute returned status %d", resp.StatusCode)
	}

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode splash result: %w", err)
	}

	result := parseResult(raw)
	if c.testMode {
		c.saveArtifacts(result)
	}
	return result, nil
}

func parseResult(raw map[string]json.RawMessage) *Result {
	r := &Result{Screenshots: map[string]string{}}

	str := func(key string) string {
		var s string
		if v, ok := raw[key]; ok {
			json.Unmarshal(v, &s)
		}
		return s
	}
	boolean := func(key string) bool {
		var b bool
		if v, ok := raw[key]; ok {
			json.Unmarshal(v, &b)
		}
		return b
	}

	r.ElementFound = boolean("element_found")
	r.FoundRow = boolean("found_row")
	r.IsProcessed = boolean("is_processed")
	r.Message = str("message")
	r.ExtraMessages = str("extra_messages")
	r.HTML = str("html")
	if r.Message == "" {
		r.Message = str("error_message")
	}

	for key := range raw {
		if strings.Contains(key, "screenshot") {
			r.Screenshots[key] = str(key)
		}
	}
	return r
}

// saveArtifacts persists screenshots for debugging. Only runs in test mode.
func (c *Client) saveArtifacts(r *Result) {
	if len(r.Screenshots) == 0 {
		return
	}
	dir := c.screenshotDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("cannot create screenshot dir", "dir", dir, "error", err.Error())
		return
	}
	for key, encoded := range r.Screenshots {
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			continue
		}
		path := filepath.Join(dir, key+".png")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			logger.Warn("cannot save screenshot", "path", path, "error", err.Error())
		}
	}
}
