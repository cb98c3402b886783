package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrIntegrationNotFound is returned when an integration lookup misses.
	ErrIntegrationNotFound = errors.New("integration not found")
	// ErrIntegrationNotPending is returned by conditional activation when the
	// integration is no longer PENDING (typically a replayed callback).
	ErrIntegrationNotPending = errors.New("integration is not pending")
	// ErrIntegrationConflict is returned when a (tenant, provider) pair
	// already has a live integration.
	ErrIntegrationConflict = errors.New("integration already exists for tenant and provider")
	// ErrStaleIntegration is returned by the CAS token rotation when another
	// writer updated the record first.
	ErrStaleIntegration = errors.New("integration was modified concurrently")
	// ErrProviderNotFound is returned when no descriptor exists for a slug.
	ErrProviderNotFound = errors.New("cloud provider not found")
)

// TokenUpdate carries freshly encrypted credentials to persist.
// All token fields are ciphertext.
type TokenUpdate struct {
	AccessToken    string
	RefreshToken   string
	TokenExpiresAt time.Time
}

// IntegrationRepository persists Integration records.
//
// ActivateIfPending and RotateTokens are conditional writes: the state
// transition and the persistence update are a single atomic step, so
// concurrent callbacks or refreshes cannot both win.
type IntegrationRepository interface {
	Create(ctx context.Context, integration *Integration) error
	GetByID(ctx context.Context, id string) (*Integration, error)
	GetByTenantAndID(ctx context.Context, tenantID, id string) (*Integration, error)

	// ActivateIfPending transitions the integration to ACTIVE, stores the
	// encrypted tokens and drops PKCE metadata, but only while the record is
	// still PENDING. Returns ErrIntegrationNotPending otherwise.
	ActivateIfPending(ctx context.Context, id string, update TokenUpdate) (*Integration, error)

	// RotateTokens replaces the stored credentials only if the record still
	// matches expectedUpdatedAt. Returns ErrStaleIntegration when another
	// refresh won the race.
	RotateTokens(ctx context.Context, id string, expectedUpdatedAt time.Time, update TokenUpdate) (*Integration, error)

	// MarkError records a failure reason and moves the integration to ERROR.
	MarkError(ctx context.Context, id, reason string) error

	// ExpirePending marks ERROR every integration left PENDING since before
	// the cutoff and returns how many were swept.
	ExpirePending(ctx context.Context, cutoff time.Time) (int64, error)
}

// ProviderRegistry is the read-only view of the cloud-provider registry.
type ProviderRegistry interface {
	GetBySlug(ctx context.Context, slug string) (*ProviderDescriptor, error)
	List(ctx context.Context) ([]ProviderDescriptor, error)
}
