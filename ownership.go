package skybridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/skybridge-io/skybridge/domain"
)

// Ownership failures. All of them collapse to INVALID_STATE at the API
// boundary; the distinction exists only for the audit log.
var (
	errOwnershipUnknownIntegration = errors.New("state references unknown integration")
	errOwnershipTenantMismatch     = errors.New("state tenant does not match integration tenant")
	errOwnershipNotPending         = errors.New("integration already processed")
)

// OwnershipVerifier binds a callback to the tenant, user and integration that
// originated it. With the signed state token this is defense-in-depth; it is
// also what makes a replayed callback against an already-ACTIVE integration
// fail before any network call.
type OwnershipVerifier struct {
	integrations domain.IntegrationRepository
}

// NewOwnershipVerifier creates a verifier over the integration store.
func NewOwnershipVerifier(integrations domain.IntegrationRepository) *OwnershipVerifier {
	return &OwnershipVerifier{integrations: integrations}
}

// Verify resolves the claims against a real, still-pending integration and
// returns it. Any mismatch is a rejection regardless of how well-formed the
// state token was.
func (v *OwnershipVerifier) Verify(ctx context.Context, claims *domain.StateClaims) (*domain.Integration, error) {
	integration, err := v.integrations.GetByID(ctx, claims.IntegrationID)
	if err != nil {
		if errors.Is(err, domain.ErrIntegrationNotFound) {
			return nil, errOwnershipUnknownIntegration
		}
		return nil, fmt.Errorf("load integration: %w", err)
	}
	if integration.TenantID != claims.TenantID {
		return nil, errOwnershipTenantMismatch
	}
	if integration.Status != domain.IntegrationStatusPending {
		return nil, errOwnershipNotPending
	}
	return integration, nil
}
