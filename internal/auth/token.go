// Package auth issues and verifies the HMAC bearer tokens the API accepts.
//
// A token is base64url(JSON claims) + "." + base64url(HMAC-SHA256). The plan
// claim decides entitlements, so a token naming an unknown plan is rejected
// rather than silently downgraded.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"groundwrite/api/internal/entitlement"
)

type Claims struct {
	Sub  string           `json:"sub"`
	Name string           `json:"name,omitempty"`
	Plan entitlement.Plan `json:"plan"`
	JTI  string           `json:"jti"`
	Exp  int64            `json:"exp"`
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
	ErrMissingToken = errors.New("missing bearer token")
	ErrUnknownPlan  = errors.New("unknown plan")
)

// Authority signs and verifies tokens with one secret.
type Authority struct {
	secret []byte
	now    func() time.Time
}

func NewAuthority(secret []byte) *Authority {
	return &Authority{secret: secret, now: time.Now}
}

// Issue signs claims. An empty plan is written as free.
func (a *Authority) Issue(claims Claims) (string, error) {
	plan, ok := entitlement.Parse(string(claims.Plan))
	if !ok {
		return "", fmt.Errorf("%w %q: must be free, plus or premium", ErrUnknownPlan, claims.Plan)
	}
	claims.Plan = plan
	if claims.Sub == "" || claims.JTI == "" || claims.Exp == 0 {
		return "", fmt.Errorf("%w: sub, jti and exp are required", ErrInvalidToken)
	}
	body, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(body)
	return payload + "." + a.sign(payload), nil
}

func (a *Authority) Verify(token string) (Claims, error) {
	payload, signature, ok := strings.Cut(token, ".")
	if !ok || strings.Contains(signature, ".") {
		return Claims{}, ErrInvalidToken
	}
	if !hmac.Equal([]byte(signature), []byte(a.sign(payload))) {
		return Claims{}, ErrInvalidToken
	}
	body, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(body, &claims); err != nil {
		return Claims{}, ErrInvalidToken
	}
	if claims.Sub == "" || claims.JTI == "" || claims.Exp == 0 {
		return Claims{}, ErrInvalidToken
	}
	plan, ok := entitlement.Parse(string(claims.Plan))
	if !ok {
		return Claims{}, ErrInvalidToken
	}
	claims.Plan = plan
	if a.now().Unix() >= claims.Exp {
		return Claims{}, ErrExpiredToken
	}
	return claims, nil
}

// FromHeader verifies the token in an "Authorization: Bearer ..." value.
func (a *Authority) FromHeader(header string) (Claims, error) {
	token, ok := strings.CutPrefix(strings.TrimSpace(header), "Bearer ")
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		return Claims{}, ErrMissingToken
	}
	return a.Verify(token)
}

func (a *Authority) sign(payload string) string {
	mac := hmac.New(sha256.New, a.secret)
	_, _ = mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
