package domain

import "time"

// StateClaims is the payload round-tripped through the provider in the OAuth
// state parameter. It is ephemeral and never persisted.
type StateClaims struct {
	IntegrationID string    `json:"integration_id"`
	TenantID      string    `json:"tenant_id"`
	UserID        string    `json:"user_id"`
	Nonce         string    `json:"nonce"`
	IssuedAt      time.Time `json:"issued_at"`
}
