// Package portal maintains authenticated Corrlinks sessions and parses the
// Portal's stateful ASP.NET pages. It owns everything that touches the
// Portal over plain HTTP; form posts that need client-side JS go through
// the splash package instead.
package portal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/auratek/contxt-bridge/internal/config"
	"github.com/auratek/contxt-bridge/internal/domain"
	"github.com/auratek/contxt-bridge/internal/pkg/logger"
)

// Paths on the Portal.
const (
	LoginPath = "/Login.aspx"
	InboxPath = "/Inbox.aspx"
)

// ErrSessionExpired signals that the Portal bounced a request back to the
// login page; the caller should invalidate the session and retry next tick.
var ErrSessionExpired = errors.New("portal session expired")

// Session is one bot's authenticated Portal session: a cookie jar, the
// browser fingerprint headers, and the base URL. Sessions are reused across
// pipeline stages within a tick.
type Session struct {
	BotID     int64
	baseURL   string
	userAgent string
	client    *http.Client
	createdAt time.Time
}

// BaseURL returns the Portal base URL the session talks to.
func (s *Session) BaseURL() string { return s.baseURL }

// UserAgent returns the browser fingerprint presented at login.
func (s *Session) UserAgent() string { return s.userAgent }

// Cookies returns the session's cookies for the Portal, for handing to the
// headless renderer.
func (s *Session) Cookies() []*http.Cookie {
	if s.client == nil || s.client.Jar == nil {
		return nil
	}
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return nil
	}
	return s.client.Jar.Cookies(u)
}

// CookieHeader renders the session cookies as a single Cookie header value.
func (s *Session) CookieHeader() string {
	var parts []string
	for _, c := range s.Cookies() {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// Cache is the process-wide session cache keyed by bot id. A stale session
// is detected on first failing request and replaced on the next Get.
type Cache struct {
	cfg      config.PortalConfig
	mu       sync.Mutex
	sessions map[int64]*Session
}

// NewCache creates a session cache for the given portal configuration.
func NewCache(cfg config.PortalConfig) *Cache {
	return &Cache{cfg: cfg, sessions: make(map[int64]*Session)}
}

// Get returns the bot's cached session, logging in first if none exists.
func (c *Cache) Get(ctx context.Context, bot *domain.Bot) (*Session, error) {
	c.mu.Lock()
	s, ok := c.sessions[bot.ID]
	c.mu.Unlock()
	if ok {
		return s, nil
	}

	s, err := Login(ctx, c.cfg, bot.ID, bot.PortalUsername, bot.PortalPassword)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.sessions[bot.ID] = s
	c.mu.Unlock()
	return s, nil
}

// Invalidate drops a bot's cached session so the next Get performs a fresh
// login.
func (c *Cache) Invalidate(botID int64) {
	c.mu.Lock()
	delete(c.sessions, botID)
	c.mu.Unlock()
}

// Login performs the full Portal login dance: fetch the login page until it
// answers 200 (clearing state between attempts), lift every hidden input
// (viewstate and friends), then post credentials plus those inputs as
// multipart form data. A non-200 on the post fails the login; callers treat
// that as transient for the current tick.
func Login(ctx context.Context, cfg config.PortalConfig, botID int64, username, password string) (*Session, error) {
	client, err := newHTTPClient(cfg)
	if err != nil {
		return nil, err
	}

	s := &Session{
		BotID:     botID,
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		client:    client,
		createdAt: time.Now(),
	}

	loginURL := s.baseURL + LoginPath

	var pageBody []byte
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, loginURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", s.userAgent)

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn("login page fetch failed, retrying", "bot_id", botID, "error", err.Error())
			clearJar(client)
			continue
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK && readErr == nil {
			pageBody = body
			break
		}
		logger.Warn("login page not fetched, retrying", "bot_id", botID, "status", resp.StatusCode)
		clearJar(client)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	hidden, err := parseHiddenInputs(pageBody)
	if err != nil {
		return nil, fmt.Errorf("parse login page: %w", err)
	}

	fields := map[string]string{
		cfg.LoginEmailFieldID:    username,
		cfg.LoginPasswordFieldID: password,
		cfg.LoginButtonID:        cfg.LoginButtonText,
	}
	for k, v := range hidden {
		fields[k] = v
	}

	body, contentType, err := encodeMultipart(fields)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Content-Type", contentType)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("login post: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("login post returned status %d", resp.StatusCode)
	}

	logger.Info("portal session initialized", "bot_id", botID, "portal_username", username)
	return s, nil
}

func newHTTPClient(cfg config.PortalConfig) (*http.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.UseProxy && cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &http.Client{
		Jar:       jar,
		Transport: transport,
		Timeout:   cfg.Timeout(),
	}, nil
}

func clearJar(client *http.Client) {
	jar, err := cookiejar.New(nil)
	if err == nil {
		client.Jar = jar
	}
}

// parseHiddenInputs lifts every input[type=hidden] name/value pair from an
// ASP.NET page, viewstate included.
func parseHiddenInputs(page []byte) (map[string]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, err
	}
	hidden := make(map[string]string)
	doc.Find(`input[type="hidden"]`).Each(func(_ int, sel *goquery.Selection) {
		name, ok := sel.Attr("name")
		if !ok {
			return
		}
		value, _ := sel.Attr("value")
		hidden[name] = value
	})
	return hidden, nil
}

func encodeMultipart(fields map[string]string) (body []byte, contentType string, err error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// get fetches a Portal path with the session's fingerprint, translating a
// redirect to the login page into ErrSessionExpired.
func (s *Session) get(ctx context.Context, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if strings.Contains(resp.Request.URL.Path, "Login.aspx") && path != LoginPath {
		return "", ErrSessionExpired
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GET %s returned status %d", path, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// InboxPage fetches the bot's inbox listing.
func (s *Session) InboxPage(ctx context.Context) (string, error) {
	return s.get(ctx, InboxPath)
}

// PostInboxEvent issues the server-event postback that expands inbox row
// index into a full message, returning the raw composite AJAX payload.
// The form state is rebuilt per request and never mutated.
func (s *Session) PostInboxEvent(ctx context.Context, state FormState, index int) (string, error) {
	fields := state.EventFields(index)

	body, contentType, err := encodeMultipart(fields)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+InboxPath, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("X-MicrosoftAjax", "Delta=true")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Referer", s.baseURL+InboxPath)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("inbox postback for row %d returned status %d", index, resp.StatusCode)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}
