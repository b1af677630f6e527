// Package gateway is the SMS gateway client: send, delivery status, and
// quota, plus the signed token that authenticates the gateway's reply
// webhook callbacks.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/auratek/contxt-bridge/internal/config"
	"github.com/auratek/contxt-bridge/internal/pkg/httpretry"
)

// Client talks to a Textbelt-compatible SMS gateway.
type Client struct {
	baseURL         string
	apiKey          string
	replyWebhookURL string
	signer          *TokenSigner
	httpClient      httpretry.HTTPDoer
}

// NewClient creates an SMS gateway client.
func NewClient(cfg config.GatewayConfig) *Client {
	return &Client{
		baseURL:         strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:          cfg.APIKey,
		replyWebhookURL: cfg.ReplyWebhookURL,
		signer:          NewTokenSigner(cfg.SigningKey),
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: cfg.Timeout(),
		}, 2),
	}
}

// Signer exposes the webhook token signer so the webhook handler can verify
// incoming callbacks with the same key.
func (c *Client) Signer() *TokenSigner { return c.signer }

// SendResult is the gateway's answer to a send request.
type SendResult struct {
	Success        bool   `json:"success"`
	TextID         string `json:"textId"`
	QuotaRemaining int    `json:"quotaRemaining"`
	Error          string `json:"error"`
}

// Send posts one SMS. webhookData is a signed token echoed back by the
// gateway on reply callbacks; the webhook handler rejects callbacks whose
// token does not verify.
func (c *Client) Send(ctx context.Context, phone, message, webhookData string) (*SendResult, error) {
	form := url.Values{
		"phone":           {phone},
		"message":         {message},
		"key":             {c.apiKey},
		"replyWebhookUrl": {c.replyWebhookURL},
		"webhookData":     {webhookData},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/text",
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var result SendResult
	if err := c.do(req, &result); err != nil {
		return nil, fmt.Errorf("send sms: %w", err)
	}
	return &result, nil
}

// StatusResult is the gateway's delivery state for a sent message.
type StatusResult struct {
	Status string `json:"status"` // SENT, DELIVERED, FAILED, UNKNOWN
}

// Status queries delivery state by the gateway's text id.
func (c *Client) Status(ctx context.Context, textID string) (*StatusResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/status/"+url.PathEscape(textID), nil)
	if err != nil {
		return nil, err
	}

	var result StatusResult
	if err := c.do(req, &result); err != nil {
		return nil, fmt.Errorf("sms status %s: %w", textID, err)
	}
	return &result, nil
}

// QuotaResult is the gateway's remaining send quota for the API key.
type QuotaResult struct {
	Success        bool `json:"success"`
	QuotaRemaining int  `json:"quotaRemaining"`
}

// Quota returns the remaining quota for the configured key.
func (c *Client) Quota(ctx context.Context) (*QuotaResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/quota/"+url.PathEscape(c.apiKey), nil)
	if err != nil {
		return nil, err
	}

	var result QuotaResult
	if err := c.do(req, &result); err != nil {
		return nil, fmt.Errorf("sms quota: %w", err)
	}
	return &result, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}
