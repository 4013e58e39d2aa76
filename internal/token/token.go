// Package token issues and verifies the signed opaque tokens embedded in
// notification emails. A token carries a subscription ID, an intent, and
// an expiry, MAC'd with a process-wide secret. The two intents are signed
// under distinct domains so a RESUME token can never be replayed as STOP.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Intent is the action a signed link performs.
type Intent string

const (
	// IntentResume re-activates a NOTIFIED subscription.
	IntentResume Intent = "RESUME"
	// IntentStop deletes the subscription.
	IntentStop Intent = "STOP"
)

// IsValid reports whether i is a known intent.
func (i Intent) IsValid() bool { return i == IntentResume || i == IntentStop }

var (
	// ErrInvalid means the token is malformed or its signature does not
	// verify under the requested intent's domain.
	ErrInvalid = errors.New("invalid token")
	// ErrExpired means the signature verified but the token is past its
	// expiry.
	ErrExpired = errors.New("token expired")
)

// Claims is the signed payload.
type Claims struct {
	SubscriptionID string `json:"sid"`
	Intent         Intent `json:"int"`
	IssuedAtNs     int64  `json:"iat"`
	ExpiresAtNs    int64  `json:"exp"`
}

// Signer issues and verifies tokens. The secret is immutable after
// construction; verification is side-effect-free.
type Signer struct {
	secret []byte
	ttl    time.Duration
}

// NewSigner creates a Signer. ttl bounds issued tokens (default 7 days).
func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("token: empty secret")
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Signer{secret: []byte(secret), ttl: ttl}, nil
}

// Issue signs a token for the subscription under the intent's domain.
func (s *Signer) Issue(subscriptionID string, intent Intent, now time.Time) (string, error) {
	if !intent.IsValid() {
		return "", fmt.Errorf("token: unknown intent %q", intent)
	}
	claims := Claims{
		SubscriptionID: subscriptionID,
		Intent:         intent,
		IssuedAtNs:     now.UnixNano(),
		ExpiresAtNs:    now.Add(s.ttl).UnixNano(),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("token: marshal claims: %w", err)
	}

	body := base64.RawURLEncoding.EncodeToString(payload)
	sig := s.sign(intent, body)
	return body + "." + sig, nil
}

// Verify checks a token under the given intent's domain and returns its
// claims. A token issued for the other intent fails with ErrInvalid even
// though its own signature is sound.
func (s *Signer) Verify(tok string, intent Intent, now time.Time) (Claims, error) {
	if !intent.IsValid() {
		return Claims{}, ErrInvalid
	}
	body, sig, found := cutToken(tok)
	if !found {
		return Claims{}, ErrInvalid
	}
	want := s.sign(intent, body)
	if !hmac.Equal([]byte(sig), []byte(want)) {
		return Claims{}, ErrInvalid
	}

	payload, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return Claims{}, ErrInvalid
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Claims{}, ErrInvalid
	}
	if claims.Intent != intent || claims.SubscriptionID == "" {
		return Claims{}, ErrInvalid
	}
	if now.UnixNano() >= claims.ExpiresAtNs {
		return Claims{}, ErrExpired
	}
	return claims, nil
}

// sign MACs the body under a per-intent domain prefix.
func (s *Signer) sign(intent Intent, body string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte("lotwatch/" + string(intent) + "\x00"))
	mac.Write([]byte(body))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func cutToken(tok string) (body, sig string, found bool) {
	for i := len(tok) - 1; i >= 0; i-- {
		if tok[i] == '.' {
			return tok[:i], tok[i+1:], true
		}
	}
	return "", "", false
}
