// Package cache provides in-memory implementations of the persistence
// interfaces, used by tests and single-node development setups.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/skybridge-io/skybridge/domain"
)

// MemoryIntegrationStore implements domain.IntegrationRepository with a
// mutex-guarded map. The conditional transitions hold the lock across
// check-and-set, giving the same atomicity the Mongo store gets from
// conditional updates.
type MemoryIntegrationStore struct {
	mu           sync.RWMutex
	integrations map[string]*domain.Integration
}

// NewMemoryIntegrationStore creates an empty store.
func NewMemoryIntegrationStore() *MemoryIntegrationStore {
	return &MemoryIntegrationStore{integrations: make(map[string]*domain.Integration)}
}

// Create implements domain.IntegrationRepository.Create, enforcing the
// (tenant, provider) uniqueness for live integrations.
func (s *MemoryIntegrationStore) Create(_ context.Context, integration *domain.Integration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.integrations {
		if existing.TenantID == integration.TenantID &&
			existing.ProviderID == integration.ProviderID &&
			existing.Status != domain.IntegrationStatusError {
			return domain.ErrIntegrationConflict
		}
	}
	s.integrations[integration.ID] = cloneIntegration(integration)
	return nil
}

// GetByID implements domain.IntegrationRepository.GetByID.
func (s *MemoryIntegrationStore) GetByID(_ context.Context, id string) (*domain.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	integration, ok := s.integrations[id]
	if !ok {
		return nil, domain.ErrIntegrationNotFound
	}
	return cloneIntegration(integration), nil
}

// GetByTenantAndID implements domain.IntegrationRepository.GetByTenantAndID.
func (s *MemoryIntegrationStore) GetByTenantAndID(_ context.Context, tenantID, id string) (*domain.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	integration, ok := s.integrations[id]
	if !ok || integration.TenantID != tenantID {
		return nil, domain.ErrIntegrationNotFound
	}
	return cloneIntegration(integration), nil
}

// ActivateIfPending implements the PENDING-only activation transition.
func (s *MemoryIntegrationStore) ActivateIfPending(_ context.Context, id string, update domain.TokenUpdate) (*domain.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	integration, ok := s.integrations[id]
	if !ok {
		return nil, domain.ErrIntegrationNotFound
	}
	if integration.Status != domain.IntegrationStatusPending {
		return nil, domain.ErrIntegrationNotPending
	}

	integration.Status = domain.IntegrationStatusActive
	integration.AccessToken = update.AccessToken
	integration.RefreshToken = update.RefreshToken
	integration.TokenExpiresAt = update.TokenExpiresAt
	integration.LastError = ""
	integration.StripPKCEMetadata()
	integration.UpdatedAt = time.Now().UTC()
	return cloneIntegration(integration), nil
}

// RotateTokens implements the CAS credential rotation keyed on UpdatedAt.
func (s *MemoryIntegrationStore) RotateTokens(_ context.Context, id string, expectedUpdatedAt time.Time, update domain.TokenUpdate) (*domain.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	integration, ok := s.integrations[id]
	if !ok {
		return nil, domain.ErrIntegrationNotFound
	}
	if !integration.UpdatedAt.Equal(expectedUpdatedAt) {
		return nil, domain.ErrStaleIntegration
	}

	integration.Status = domain.IntegrationStatusActive
	integration.AccessToken = update.AccessToken
	integration.RefreshToken = update.RefreshToken
	integration.TokenExpiresAt = update.TokenExpiresAt
	integration.LastError = ""
	integration.UpdatedAt = time.Now().UTC()
	return cloneIntegration(integration), nil
}

// MarkError implements domain.IntegrationRepository.MarkError.
func (s *MemoryIntegrationStore) MarkError(_ context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	integration, ok := s.integrations[id]
	if !ok {
		return domain.ErrIntegrationNotFound
	}
	integration.Status = domain.IntegrationStatusError
	integration.LastError = reason
	integration.UpdatedAt = time.Now().UTC()
	return nil
}

// ExpirePending implements the pending backstop sweep.
func (s *MemoryIntegrationStore) ExpirePending(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var swept int64
	for _, integration := range s.integrations {
		if integration.Status == domain.IntegrationStatusPending && integration.CreatedAt.Before(cutoff) {
			integration.Status = domain.IntegrationStatusError
			integration.LastError = "authorization flow never completed"
			integration.UpdatedAt = time.Now().UTC()
			swept++
		}
	}
	return swept, nil
}

func cloneIntegration(integration *domain.Integration) *domain.Integration {
	copied := *integration
	if integration.Metadata != nil {
		copied.Metadata = make(map[string]any, len(integration.Metadata))
		for k, v := range integration.Metadata {
			copied.Metadata[k] = v
		}
	}
	return &copied
}

var _ domain.IntegrationRepository = (*MemoryIntegrationStore)(nil)
