package mongodb

import (
	"context"
	"errors"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/skybridge-io/skybridge/domain"
)

// descriptorCacheTTL bounds how stale a cached provider descriptor can be.
// Descriptors change rarely (an operator edit), so a short cache removes the
// per-callback database read without a cache bust channel.
const descriptorCacheTTL = 5 * time.Minute

// ProviderRegistryMongo implements domain.ProviderRegistry over the
// read-only cloud_providers collection, with an in-process TTL cache in
// front.
type ProviderRegistryMongo struct {
	collection *mongo.Collection
	cache      *ttlcache.Cache[string, *domain.ProviderDescriptor]
}

// NewProviderRegistryMongo creates a new ProviderRegistryMongo and starts
// the cache eviction loop.
func NewProviderRegistryMongo(ctx context.Context, db *mongo.Database) (*ProviderRegistryMongo, error) {
	registry := &ProviderRegistryMongo{
		collection: db.Collection(CloudProvidersCollection),
		cache: ttlcache.New[string, *domain.ProviderDescriptor](
			ttlcache.WithTTL[string, *domain.ProviderDescriptor](descriptorCacheTTL),
			ttlcache.WithDisableTouchOnHit[string, *domain.ProviderDescriptor](),
		),
	}
	go registry.cache.Start()

	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "slug", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "is_enabled", Value: 1}},
		},
	}

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if _, err := registry.collection.Indexes().CreateMany(timeoutCtx, indexModels); err != nil {
		log.Warn().Err(err).Msg("Issue creating indexes for cloud_providers collection (might already exist or other error)")
	}
	return registry, nil
}

// GetBySlug retrieves a provider descriptor by its unique slug.
func (r *ProviderRegistryMongo) GetBySlug(ctx context.Context, slug string) (*domain.ProviderDescriptor, error) {
	if item := r.cache.Get(slug); item != nil {
		return item.Value(), nil
	}

	var desc domain.ProviderDescriptor
	err := r.collection.FindOne(ctx, bson.M{"slug": slug}).Decode(&desc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrProviderNotFound
		}
		log.Error().Err(err).Str("slug", slug).Msg("Error retrieving provider descriptor from MongoDB")
		return nil, err
	}

	r.cache.Set(slug, &desc, ttlcache.DefaultTTL)
	return &desc, nil
}

// List returns the enabled provider descriptors sorted by slug.
func (r *ProviderRegistryMongo) List(ctx context.Context) ([]domain.ProviderDescriptor, error) {
	findOptions := options.Find().SetSort(bson.D{{Key: "slug", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{"is_enabled": true}, findOptions)
	if err != nil {
		log.Error().Err(err).Msg("Error listing provider descriptors from MongoDB")
		return nil, err
	}
	defer cursor.Close(ctx)

	var descriptors []domain.ProviderDescriptor
	if err := cursor.All(ctx, &descriptors); err != nil {
		log.Error().Err(err).Msg("Error decoding provider descriptors from MongoDB")
		return nil, err
	}
	return descriptors, nil
}

// Stop shuts down the cache eviction loop.
func (r *ProviderRegistryMongo) Stop() {
	r.cache.Stop()
}

var _ domain.ProviderRegistry = (*ProviderRegistryMongo)(nil)
