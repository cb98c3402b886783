package domain

import "time"

// IntegrationStatus tracks where an integration is in its authorization lifecycle.
type IntegrationStatus string

const (
	// IntegrationStatusPending marks an integration whose OAuth flow has been
	// started but whose callback has not yet completed.
	IntegrationStatusPending IntegrationStatus = "PENDING"
	// IntegrationStatusActive marks an integration holding usable credentials.
	IntegrationStatusActive IntegrationStatus = "ACTIVE"
	// IntegrationStatusError marks an integration whose last flow or health
	// check failed. Recoverable via a successful refresh.
	IntegrationStatusError IntegrationStatus = "ERROR"
)

// Metadata keys carried on a pending integration when the client initiated a
// PKCE flow. They are stripped once the flow completes.
const (
	MetaCodeVerifier        = "code_verifier"
	MetaCodeChallenge       = "code_challenge"
	MetaCodeChallengeMethod = "code_challenge_method"
	MetaPKCEFlow            = "pkce_flow"
)

// Integration is a tenant workspace's authorized connection to one external
// cloud-storage provider. (tenant_id, provider_id) is unique while the
// integration is PENDING or ACTIVE.
//
// AccessToken and RefreshToken hold ciphertext only. They are never rendered
// in API responses or logs.
type Integration struct {
	ID             string            `bson:"_id,omitempty" json:"id"`
	TenantID       string            `bson:"tenant_id" json:"tenant_id"`
	ProviderID     string            `bson:"provider_id" json:"provider_id"`
	Status         IntegrationStatus `bson:"status" json:"status"`
	AccessToken    string            `bson:"access_token,omitempty" json:"-"`
	RefreshToken   string            `bson:"refresh_token,omitempty" json:"-"`
	TokenExpiresAt time.Time         `bson:"token_expires_at,omitempty" json:"token_expires_at,omitempty"`
	Metadata       map[string]any    `bson:"metadata,omitempty" json:"metadata,omitempty"`
	LastError      string            `bson:"last_error,omitempty" json:"last_error,omitempty"`
	CreatedBy      string            `bson:"created_by" json:"created_by"`
	CreatedAt      time.Time         `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time         `bson:"updated_at" json:"updated_at"`
}

// HasPKCE reports whether the integration's pending metadata signals a PKCE
// flow, either explicitly or by carrying a code verifier.
func (i *Integration) HasPKCE() bool {
	if i.Metadata == nil {
		return false
	}
	if v, ok := i.Metadata[MetaPKCEFlow].(bool); ok && v {
		return true
	}
	_, ok := i.Metadata[MetaCodeVerifier]
	return ok
}

// CodeVerifier returns the pending PKCE code verifier, if any.
func (i *Integration) CodeVerifier() string {
	if i.Metadata == nil {
		return ""
	}
	v, _ := i.Metadata[MetaCodeVerifier].(string)
	return v
}

// StripPKCEMetadata removes the ephemeral PKCE parameters once a flow is done.
func (i *Integration) StripPKCEMetadata() {
	for _, k := range []string{MetaCodeVerifier, MetaCodeChallenge, MetaCodeChallengeMethod, MetaPKCEFlow} {
		delete(i.Metadata, k)
	}
	if len(i.Metadata) == 0 {
		i.Metadata = nil
	}
}

// TokenHealth is the outcome of a provider-side credential probe.
type TokenHealth string

const (
	TokenHealthHealthy      TokenHealth = "healthy"
	TokenHealthExpired      TokenHealth = "expired"
	TokenHealthUnauthorized TokenHealth = "unauthorized"
	TokenHealthError        TokenHealth = "error"
)
