// Package statetoken issues and validates the opaque state parameter carried
// through the OAuth redirect round-trip. Tokens are HMAC-SHA256 signed, so
// tampering is rejected here without a database lookup; the ownership check
// against the pending integration remains as defense-in-depth.
package statetoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/skybridge-io/skybridge/domain"
)

// DefaultTTL is how long an issued state token stays valid.
const DefaultTTL = 10 * time.Minute

// MaxClockSkew bounds how far in the future a token's issued_at may sit
// before it is rejected outright.
const MaxClockSkew = time.Minute

var (
	// ErrInvalidState covers malformed tokens, bad signatures and missing fields.
	ErrInvalidState = errors.New("invalid state token")
	// ErrStateExpired marks a structurally valid token past its TTL.
	ErrStateExpired = errors.New("state token expired")
)

// Codec signs and verifies state tokens.
type Codec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewCodec creates a codec. The signing secret must be at least 32 bytes.
func NewCodec(secret []byte, ttl time.Duration) (*Codec, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("state token secret must be at least 32 bytes, got %d", len(secret))
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Codec{secret: secret, ttl: ttl, now: time.Now}, nil
}

// TTL returns the configured token lifetime.
func (c *Codec) TTL() time.Duration { return c.ttl }

// Issue builds a signed token binding the flow to one pending integration.
func (c *Codec) Issue(integrationID, tenantID, userID string) (string, error) {
	return c.issueAt(integrationID, tenantID, userID, c.now().UTC())
}

func (c *Codec) issueAt(integrationID, tenantID, userID string, issuedAt time.Time) (string, error) {
	if integrationID == "" || tenantID == "" || userID == "" {
		return "", fmt.Errorf("state claims incomplete: integration=%q tenant=%q user=%q",
			integrationID, tenantID, userID)
	}
	claims := domain.StateClaims{
		IntegrationID: integrationID,
		TenantID:      tenantID,
		UserID:        userID,
		Nonce:         uuid.NewString(),
		IssuedAt:      issuedAt,
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal state claims: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + c.sign(payload), nil
}

// Validate verifies the signature, required fields and TTL, returning the
// embedded claims. Any structural or signature problem yields ErrInvalidState;
// only a well-formed, authentic token past its TTL yields ErrStateExpired.
func (c *Codec) Validate(token string) (*domain.StateClaims, error) {
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok {
		return nil, ErrInvalidState
	}
	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrInvalidState
	}
	if !hmac.Equal([]byte(sig), []byte(c.sign(payload))) {
		return nil, ErrInvalidState
	}
	var claims domain.StateClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrInvalidState
	}
	if claims.IntegrationID == "" || claims.TenantID == "" || claims.UserID == "" ||
		claims.Nonce == "" || claims.IssuedAt.IsZero() {
		return nil, ErrInvalidState
	}
	age := c.now().Sub(claims.IssuedAt)
	if age < -MaxClockSkew {
		return nil, ErrInvalidState
	}
	if age > c.ttl {
		return nil, ErrStateExpired
	}
	return &claims, nil
}

func (c *Codec) sign(payload []byte) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write(payload)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
