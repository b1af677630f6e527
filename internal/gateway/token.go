package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TokenMaxAge is how long a webhook token stays valid after signing.
const TokenMaxAge = 86400 * time.Second

// Token verification errors.
var (
	ErrTokenInvalid = errors.New("webhook token invalid")
	ErrTokenExpired = errors.New("webhook token expired")
)

// TokenSigner mints and verifies the signed, timestamped webhookData tokens
// that pair gateway callbacks with the bot and email that originated them.
type TokenSigner struct {
	key []byte
}

// NewTokenSigner creates a signer over the given secret key.
func NewTokenSigner(key string) *TokenSigner {
	return &TokenSigner{key: []byte(key)}
}

// TokenPayload is the data carried inside a webhook token.
type TokenPayload struct {
	BotID    int64
	EmailID  int64
	IssuedAt time.Time
}

// Sign encodes and signs a payload: base64("botID|emailID|unixTime|sig").
func (ts *TokenSigner) Sign(p TokenPayload) string {
	issued := p.IssuedAt
	if issued.IsZero() {
		issued = time.Now()
	}
	data := fmt.Sprintf("%d|%d|%d", p.BotID, p.EmailID, issued.Unix())
	return base64.URLEncoding.EncodeToString([]byte(data + "|" + ts.sign(data)))
}

// Verify checks the token's signature and age and returns its payload.
func (ts *TokenSigner) Verify(token string, maxAge time.Duration) (*TokenPayload, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	parts := strings.Split(string(raw), "|")
	if len(parts) != 4 {
		return nil, ErrTokenInvalid
	}
	data := strings.Join(parts[:3], "|")
	if !hmac.Equal([]byte(ts.sign(data)), []byte(parts[3])) {
		return nil, ErrTokenInvalid
	}

	botID, err1 := strconv.ParseInt(parts[0], 10, 64)
	emailID, err2 := strconv.ParseInt(parts[1], 10, 64)
	issuedUnix, err3 := strconv.ParseInt(parts[2], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return nil, ErrTokenInvalid
	}

	issued := time.Unix(issuedUnix, 0)
	if time.Since(issued) > maxAge {
		return nil, ErrTokenExpired
	}

	return &TokenPayload{BotID: botID, EmailID: emailID, IssuedAt: issued}, nil
}

func (ts *TokenSigner) sign(data string) string {
	h := hmac.New(sha256.New, ts.key)
	h.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
