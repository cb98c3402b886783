package mongodb

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/skybridge-io/skybridge/domain"
)

// IntegrationRepositoryMongo implements domain.IntegrationRepository using
// MongoDB. Every state transition is a conditional single-document update so
// concurrent callbacks and refreshes race safely at the database.
type IntegrationRepositoryMongo struct {
	collection *mongo.Collection
}

// NewIntegrationRepositoryMongo creates a new IntegrationRepositoryMongo.
// It also ensures that necessary indexes are created on the collection.
func NewIntegrationRepositoryMongo(ctx context.Context, db *mongo.Database) (*IntegrationRepositoryMongo, error) {
	repo := &IntegrationRepositoryMongo{
		collection: db.Collection(IntegrationsCollection),
	}

	indexModels := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "_id", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}},
		},
		{
			// At most one live integration per (tenant, provider); ERROR
			// records stay visible for troubleshooting and do not block a
			// fresh attempt.
			Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "provider_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetPartialFilterExpression(bson.M{
				"status": bson.M{"$in": bson.A{
					string(domain.IntegrationStatusPending),
					string(domain.IntegrationStatusActive),
				}},
			}),
		},
	}

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if _, err := repo.collection.Indexes().CreateMany(timeoutCtx, indexModels); err != nil {
		log.Warn().Err(err).Msg("Issue creating indexes for cloud_integrations collection (might already exist or other error)")
	} else {
		log.Info().Msg("Indexes for cloud_integrations collection ensured.")
	}
	return repo, nil
}

// Create inserts a new PENDING integration.
func (r *IntegrationRepositoryMongo) Create(ctx context.Context, integration *domain.Integration) error {
	now := time.Now().UTC()
	if integration.CreatedAt.IsZero() {
		integration.CreatedAt = now
	}
	integration.UpdatedAt = now

	_, err := r.collection.InsertOne(ctx, integration)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrIntegrationConflict
		}
		log.Error().Err(err).Msg("Error inserting integration into MongoDB")
		return err
	}
	return nil
}

// GetByID retrieves an integration regardless of tenant. Reserved for
// internal flows; tenant-facing reads go through GetByTenantAndID.
func (r *IntegrationRepositoryMongo) GetByID(ctx context.Context, id string) (*domain.Integration, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

// GetByTenantAndID retrieves an integration scoped to its owning tenant.
func (r *IntegrationRepositoryMongo) GetByTenantAndID(ctx context.Context, tenantID, id string) (*domain.Integration, error) {
	return r.findOne(ctx, bson.M{"_id": id, "tenant_id": tenantID})
}

func (r *IntegrationRepositoryMongo) findOne(ctx context.Context, filter bson.M) (*domain.Integration, error) {
	var integration domain.Integration
	err := r.collection.FindOne(ctx, filter).Decode(&integration)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrIntegrationNotFound
		}
		log.Error().Err(err).Msg("Error retrieving integration from MongoDB")
		return nil, err
	}
	return &integration, nil
}

// ActivateIfPending stores the credentials and flips the integration to
// ACTIVE only if it is still PENDING. Losing a concurrent activation yields
// domain.ErrIntegrationNotPending.
func (r *IntegrationRepositoryMongo) ActivateIfPending(ctx context.Context, id string, update domain.TokenUpdate) (*domain.Integration, error) {
	filter := bson.M{"_id": id, "status": domain.IntegrationStatusPending}
	change := bson.M{
		"$set": bson.M{
			"status":           domain.IntegrationStatusActive,
			"access_token":     update.AccessToken,
			"refresh_token":    update.RefreshToken,
			"token_expires_at": update.TokenExpiresAt,
			"last_error":       "",
			"updated_at":       time.Now().UTC(),
		},
		"$unset": bson.M{
			"metadata.code_verifier":         "",
			"metadata.code_challenge":        "",
			"metadata.code_challenge_method": "",
			"metadata.pkce_flow":             "",
		},
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var integration domain.Integration
	err := r.collection.FindOneAndUpdate(ctx, filter, change, opts).Decode(&integration)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			// Either the document is gone or a concurrent callback already
			// moved it out of PENDING.
			if _, getErr := r.GetByID(ctx, id); errors.Is(getErr, domain.ErrIntegrationNotFound) {
				return nil, domain.ErrIntegrationNotFound
			}
			return nil, domain.ErrIntegrationNotPending
		}
		log.Error().Err(err).Str("integration_id", id).Msg("Error activating integration in MongoDB")
		return nil, err
	}
	return &integration, nil
}

// RotateTokens replaces the stored credentials only if the document has not
// changed since the caller read it. A lost race yields
// domain.ErrStaleIntegration.
func (r *IntegrationRepositoryMongo) RotateTokens(ctx context.Context, id string, expectedUpdatedAt time.Time, update domain.TokenUpdate) (*domain.Integration, error) {
	filter := bson.M{"_id": id, "updated_at": expectedUpdatedAt}
	change := bson.M{
		"$set": bson.M{
			"status":           domain.IntegrationStatusActive,
			"access_token":     update.AccessToken,
			"refresh_token":    update.RefreshToken,
			"token_expires_at": update.TokenExpiresAt,
			"last_error":       "",
			"updated_at":       time.Now().UTC(),
		},
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var integration domain.Integration
	err := r.collection.FindOneAndUpdate(ctx, filter, change, opts).Decode(&integration)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			if _, getErr := r.GetByID(ctx, id); errors.Is(getErr, domain.ErrIntegrationNotFound) {
				return nil, domain.ErrIntegrationNotFound
			}
			return nil, domain.ErrStaleIntegration
		}
		log.Error().Err(err).Str("integration_id", id).Msg("Error rotating integration tokens in MongoDB")
		return nil, err
	}
	return &integration, nil
}

// MarkError transitions the integration to ERROR with a diagnostic reason.
func (r *IntegrationRepositoryMongo) MarkError(ctx context.Context, id, reason string) error {
	change := bson.M{
		"$set": bson.M{
			"status":     domain.IntegrationStatusError,
			"last_error": reason,
			"updated_at": time.Now().UTC(),
		},
	}
	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, change)
	if err != nil {
		log.Error().Err(err).Str("integration_id", id).Msg("Error marking integration errored in MongoDB")
		return err
	}
	if result.MatchedCount == 0 {
		return domain.ErrIntegrationNotFound
	}
	return nil
}

// ExpirePending marks ERROR every integration still PENDING from before the
// cutoff, and returns how many were swept.
func (r *IntegrationRepositoryMongo) ExpirePending(ctx context.Context, cutoff time.Time) (int64, error) {
	filter := bson.M{
		"status":     domain.IntegrationStatusPending,
		"created_at": bson.M{"$lt": cutoff},
	}
	change := bson.M{
		"$set": bson.M{
			"status":     domain.IntegrationStatusError,
			"last_error": "authorization flow never completed",
			"updated_at": time.Now().UTC(),
		},
	}
	result, err := r.collection.UpdateMany(ctx, filter, change)
	if err != nil {
		log.Error().Err(err).Msg("Error expiring stale pending integrations in MongoDB")
		return 0, err
	}
	return result.ModifiedCount, nil
}

var _ domain.IntegrationRepository = (*IntegrationRepositoryMongo)(nil)
