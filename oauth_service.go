// Package skybridge implements the OAuth integration subsystem: it lets a
// tenant workspace authorize access to an external cloud-storage account and
// keeps the resulting credentials usable and safe.
package skybridge

import (
	"context"
	goerrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/skybridge-io/skybridge/domain"
	"github.com/skybridge-io/skybridge/errors"
	"github.com/skybridge-io/skybridge/internal/audit"
	"github.com/skybridge-io/skybridge/internal/metrics"
	"github.com/skybridge-io/skybridge/internal/pkce"
	"github.com/skybridge-io/skybridge/internal/provider"
	"github.com/skybridge-io/skybridge/internal/secrets"
	"github.com/skybridge-io/skybridge/internal/statetoken"
)

// ExchangerSelector picks the exchanger variant for a descriptor. It is a
// function so tests can stub the provider side without a network.
type ExchangerSelector func(desc *domain.ProviderDescriptor) provider.Exchanger

// OAuthService sequences the OAuth flows and drives the Integration state
// machine. It is the only writer of Integration records.
type OAuthService struct {
	integrations domain.IntegrationRepository
	registry     domain.ProviderRegistry
	ownership    *OwnershipVerifier
	stateCodec   *statetoken.Codec
	cipher       *secrets.Cipher
	audit        *audit.Logger
	exchangerFor ExchangerSelector
	redirectURI  string // the public callback URL registered with providers
	now          func() time.Time
}

// NewOAuthService wires the orchestrator. redirectURI is the absolute URL of
// the public callback endpoint.
func NewOAuthService(
	integrations domain.IntegrationRepository,
	registry domain.ProviderRegistry,
	stateCodec *statetoken.Codec,
	cipher *secrets.Cipher,
	auditLogger *audit.Logger,
	factory *provider.Factory,
	redirectURI string,
) *OAuthService {
	return &OAuthService{
		integrations: integrations,
		registry:     registry,
		ownership:    NewOwnershipVerifier(integrations),
		stateCodec:   stateCodec,
		cipher:       cipher,
		audit:        auditLogger,
		exchangerFor: factory.ForDescriptor,
		redirectURI:  redirectURI,
		now:          time.Now,
	}
}

// CreateIntegration registers a PENDING integration for the tenant and
// provider. metadata may carry PKCE parameters for public/native clients.
func (s *OAuthService) CreateIntegration(ctx context.Context, tenantID, providerSlug, createdBy string, metadata map[string]any) (*domain.Integration, error) {
	desc, err := s.registry.GetBySlug(ctx, providerSlug)
	if err != nil {
		return nil, err
	}
	if !desc.IsEnabled {
		return nil, fmt.Errorf("provider %s: %w", providerSlug, domain.ErrProviderNotFound)
	}

	now := s.now().UTC()
	integration := &domain.Integration{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		ProviderID: desc.Slug,
		Status:     domain.IntegrationStatusPending,
		Metadata:   metadata,
		CreatedBy:  createdBy,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.integrations.Create(ctx, integration); err != nil {
		return nil, err
	}
	log.Info().
		Str("tenant_id", tenantID).
		Str("provider", desc.Slug).
		Str("integration_id", integration.ID).
		Msg("integration created")
	return integration, nil
}

// AuthorizationURL issues a fresh state token bound to the pending
// integration and builds the provider's authorization URL around it.
func (s *OAuthService) AuthorizationURL(ctx context.Context, tenantID, integrationID, userID string) (string, error) {
	integration, err := s.integrations.GetByTenantAndID(ctx, tenantID, integrationID)
	if err != nil {
		return "", err
	}
	if integration.Status != domain.IntegrationStatusPending {
		return "", domain.ErrIntegrationNotPending
	}

	desc, err := s.registry.GetBySlug(ctx, integration.ProviderID)
	if err != nil {
		return "", err
	}

	state, err := s.stateCodec.Issue(integration.ID, integration.TenantID, userID)
	if err != nil {
		return "", fmt.Errorf("issue state token: %w", err)
	}

	extra := map[string]string{}
	if integration.HasPKCE() {
		if challenge, ok := integration.Metadata[domain.MetaCodeChallenge].(string); ok && challenge != "" {
			extra[domain.MetaCodeChallenge] = challenge
			if method, ok := integration.Metadata[domain.MetaCodeChallengeMethod].(string); ok && method != "" {
				extra[domain.MetaCodeChallengeMethod] = method
			}
		}
	}
	return s.exchangerFor(desc).AuthCodeURL(state, s.redirectURI, extra), nil
}

// CallbackRequest carries the query parameters of the public callback plus
// caller context for the audit trail. The code and state values themselves
// never reach the audit log.
type CallbackRequest struct {
	Code             string
	State            string
	ErrorCode        string
	ErrorDescription string
	RemoteIP         string
	UserAgent        string
}

// HandleCallback runs the callback sequence: provider error short-circuit,
// state validation, ownership, PKCE, code exchange, encrypt and activate.
// Every branch is audited. The returned error is always a *errors.FlowError.
func (s *OAuthService) HandleCallback(ctx context.Context, req CallbackRequest) (*domain.Integration, error) {
	// A client disconnect must not abandon an in-flight exchange: the
	// authorization code is spent either way, so the result is persisted or
	// logged regardless.
	ctx = context.WithoutCancel(ctx)

	correlationID := uuid.NewString()
	event := audit.Event{
		Action:        "oauth.callback",
		CorrelationID: correlationID,
		RemoteIP:      req.RemoteIP,
		UserAgent:     req.UserAgent,
	}

	// The provider told us the user did not complete authorization; no
	// network call is made. The state is decoded best-effort purely to
	// attribute the audit record.
	if req.ErrorCode != "" {
		if claims, err := s.stateCodec.Validate(req.State); err == nil {
			event.TenantID = claims.TenantID
			event.IntegrationID = claims.IntegrationID
			event.UserID = claims.UserID
		}
		return nil, s.fail(event, errors.NewProviderError(req.ErrorCode, req.ErrorDescription))
	}

	claims, err := s.stateCodec.Validate(req.State)
	if err != nil {
		if goerrors.Is(err, statetoken.ErrStateExpired) {
			return nil, s.fail(event, errors.NewStateExpired())
		}
		return nil, s.fail(event, errors.NewInvalidState("state token rejected by codec", err))
	}
	event.TenantID = claims.TenantID
	event.IntegrationID = claims.IntegrationID
	event.UserID = claims.UserID

	// Ownership failures deliberately surface the same code as codec
	// failures so a caller cannot tell which check rejected them.
	integration, err := s.ownership.Verify(ctx, claims)
	if err != nil {
		return nil, s.fail(event, errors.NewInvalidState(err.Error(), err))
	}
	event.Provider = integration.ProviderID

	if result := pkce.Validate(integration); !result.Valid {
		return nil, s.failMarking(ctx, event, integration.ID, errors.NewPKCEInvalid(result.Issues))
	}

	desc, err := s.registry.GetBySlug(ctx, integration.ProviderID)
	if err != nil {
		return nil, s.failMarking(ctx, event, integration.ID,
			errors.NewExchangeFailed("provider descriptor unavailable", err))
	}

	set, err := s.exchangerFor(desc).ExchangeCode(ctx, req.Code, s.redirectURI, integration.CodeVerifier())
	if err != nil {
		metrics.ExchangesTotal.WithLabelValues(desc.Slug, "error").Inc()
		return nil, s.failMarking(ctx, event, integration.ID,
			errors.NewExchangeFailed(err.Error(), err))
	}
	metrics.ExchangesTotal.WithLabelValues(desc.Slug, "ok").Inc()

	update, err := s.encryptTokenSet(set, "")
	if err != nil {
		return nil, s.failMarking(ctx, event, integration.ID,
			errors.NewExchangeFailed("encrypt tokens", err))
	}

	activated, err := s.integrations.ActivateIfPending(ctx, integration.ID, *update)
	if err != nil {
		// A concurrent callback won the conditional update. Same external
		// code as every other state problem.
		return nil, s.fail(event, errors.NewInvalidState("integration no longer pending", err))
	}

	event.Success = true
	s.audit.Record(event)
	metrics.CallbacksTotal.WithLabelValues("ok").Inc()
	log.Info().
		Str("correlation_id", correlationID).
		Str("integration_id", activated.ID).
		Str("provider", activated.ProviderID).
		Msg("integration activated")
	return activated, nil
}

// GetIntegration returns an integration scoped to its owning tenant. Token
// fields stay ciphertext; redaction is the API layer's job.
func (s *OAuthService) GetIntegration(ctx context.Context, tenantID, integrationID string) (*domain.Integration, error) {
	return s.integrations.GetByTenantAndID(ctx, tenantID, integrationID)
}

// Refresh rotates the stored credentials using the provider's refresh grant.
// Concurrent refreshes resolve to exactly one persisted token pair; the
// loser returns the winner's record instead of an error.
func (s *OAuthService) Refresh(ctx context.Context, tenantID, integrationID string) (*domain.Integration, error) {
	integration, err := s.integrations.GetByTenantAndID(ctx, tenantID, integrationID)
	if err != nil {
		return nil, err
	}
	if integration.RefreshToken == "" {
		return nil, fmt.Errorf("integration %s has no refresh token", integrationID)
	}

	desc, err := s.registry.GetBySlug(ctx, integration.ProviderID)
	if err != nil {
		return nil, err
	}

	refreshToken, err := s.cipher.Decrypt(integration.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("decrypt refresh token: %w", err)
	}

	set, err := s.exchangerFor(desc).Refresh(ctx, refreshToken)
	if err != nil {
		metrics.RefreshesTotal.WithLabelValues(desc.Slug, "error").Inc()
		if markErr := s.integrations.MarkError(ctx, integration.ID, "token refresh failed"); markErr != nil {
			log.Error().Err(markErr).Str("integration_id", integration.ID).Msg("failed to mark integration errored")
		}
		return nil, errors.NewExchangeFailed(err.Error(), err)
	}
	metrics.RefreshesTotal.WithLabelValues(desc.Slug, "ok").Inc()

	// Some providers omit a new refresh token; keep the previous ciphertext.
	update, err := s.encryptTokenSet(set, integration.RefreshToken)
	if err != nil {
		return nil, err
	}

	rotated, err := s.integrations.RotateTokens(ctx, integration.ID, integration.UpdatedAt, *update)
	if err != nil {
		if goerrors.Is(err, domain.ErrStaleIntegration) {
			log.Debug().Str("integration_id", integration.ID).Msg("concurrent refresh won, returning current record")
			return s.integrations.GetByTenantAndID(ctx, tenantID, integrationID)
		}
		return nil, err
	}
	return rotated, nil
}

// Health probes the provider with the stored access token and classifies the
// credential. An ACTIVE integration found unusable transitions to ERROR.
func (s *OAuthService) Health(ctx context.Context, tenantID, integrationID string) (domain.TokenHealth, error) {
	integration, err := s.integrations.GetByTenantAndID(ctx, tenantID, integrationID)
	if err != nil {
		return domain.TokenHealthError, err
	}
	if integration.AccessToken == "" {
		return domain.TokenHealthError, fmt.Errorf("integration %s has no access token", integrationID)
	}

	if !integration.TokenExpiresAt.IsZero() && s.now().After(integration.TokenExpiresAt) {
		metrics.HealthProbesTotal.WithLabelValues(string(domain.TokenHealthExpired)).Inc()
		return domain.TokenHealthExpired, nil
	}

	desc, err := s.registry.GetBySlug(ctx, integration.ProviderID)
	if err != nil {
		return domain.TokenHealthError, err
	}
	accessToken, err := s.cipher.Decrypt(integration.AccessToken)
	if err != nil {
		return domain.TokenHealthError, fmt.Errorf("decrypt access token: %w", err)
	}

	health, probeErr := s.exchangerFor(desc).Probe(ctx, accessToken)
	metrics.HealthProbesTotal.WithLabelValues(string(health)).Inc()

	if health != domain.TokenHealthHealthy && integration.Status == domain.IntegrationStatusActive {
		if err := s.integrations.MarkError(ctx, integration.ID, "health probe reported "+string(health)); err != nil {
			log.Error().Err(err).Str("integration_id", integration.ID).Msg("failed to mark integration errored")
		}
	}
	if probeErr != nil {
		log.Warn().Err(probeErr).Str("integration_id", integration.ID).Msg("health probe failed")
	}
	return health, nil
}

// ExpireStalePending is the backstop against callbacks that never arrive: it
// marks ERROR every integration left PENDING beyond the state token TTL.
func (s *OAuthService) ExpireStalePending(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.stateCodec.TTL())
	swept, err := s.integrations.ExpirePending(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if swept > 0 {
		metrics.PendingSweptTotal.Add(float64(swept))
		log.Info().Int64("count", swept).Msg("expired stale pending integrations")
	}
	return swept, nil
}

func (s *OAuthService) encryptTokenSet(set *provider.TokenSet, previousRefreshCiphertext string) (*domain.TokenUpdate, error) {
	accessCiphertext, err := s.cipher.Encrypt(set.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt access token: %w", err)
	}
	refreshCiphertext := previousRefreshCiphertext
	if set.RefreshToken != "" {
		if refreshCiphertext, err = s.cipher.Encrypt(set.RefreshToken); err != nil {
			return nil, fmt.Errorf("encrypt refresh token: %w", err)
		}
	}
	return &domain.TokenUpdate{
		AccessToken:    accessCiphertext,
		RefreshToken:   refreshCiphertext,
		TokenExpiresAt: provider.ExpiryFrom(s.now(), set),
	}, nil
}

// fail audits a terminal callback failure and returns the flow error.
func (s *OAuthService) fail(event audit.Event, flowErr *errors.FlowError) *errors.FlowError {
	event.Success = false
	event.ErrorCode = string(flowErr.Code)
	event.Detail = flowErr.Detail()
	s.audit.Record(event)
	metrics.CallbacksTotal.WithLabelValues(string(flowErr.Code)).Inc()
	return flowErr
}

// failMarking additionally moves the integration to ERROR; the record stays
// recoverable since ERROR is non-terminal.
func (s *OAuthService) failMarking(ctx context.Context, event audit.Event, integrationID string, flowErr *errors.FlowError) *errors.FlowError {
	if err := s.integrations.MarkError(ctx, integrationID, flowErr.Detail()); err != nil {
		log.Error().Err(err).Str("integration_id", integrationID).Msg("failed to mark integration errored")
	}
	return s.fail(event, flowErr)
}
