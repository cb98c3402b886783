package cache

import (
	"context"

	"github.com/skybridge-io/skybridge/domain"
)

// StaticProviderRegistry serves descriptors from configuration instead of a
// database. Used by tests and deployments that configure providers via file.
type StaticProviderRegistry struct {
	bySlug map[string]domain.ProviderDescriptor
	order  []string
}

// NewStaticProviderRegistry indexes the given descriptors by slug.
func NewStaticProviderRegistry(descriptors []domain.ProviderDescriptor) *StaticProviderRegistry {
	registry := &StaticProviderRegistry{bySlug: make(map[string]domain.ProviderDescriptor, len(descriptors))}
	for _, desc := range descriptors {
		registry.bySlug[desc.Slug] = desc
		registry.order = append(registry.order, desc.Slug)
	}
	return registry
}

// GetBySlug implements domain.ProviderRegistry.GetBySlug.
func (r *StaticProviderRegistry) GetBySlug(_ context.Context, slug string) (*domain.ProviderDescriptor, error) {
	desc, ok := r.bySlug[slug]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return &desc, nil
}

// List implements domain.ProviderRegistry.List.
func (r *StaticProviderRegistry) List(_ context.Context) ([]domain.ProviderDescriptor, error) {
	descriptors := make([]domain.ProviderDescriptor, 0, len(r.order))
	for _, slug := range r.order {
		descriptors = append(descriptors, r.bySlug[slug])
	}
	return descriptors, nil
}

var _ domain.ProviderRegistry = (*StaticProviderRegistry)(nil)
