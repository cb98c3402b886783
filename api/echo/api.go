//nolint:varnamelen
package echo

import (
	goerrors "errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	skybridge "github.com/skybridge-io/skybridge"
	"github.com/skybridge-io/skybridge/domain"
	"github.com/skybridge-io/skybridge/errors"
)

// Redacted is what token fields render as in API responses. The raw values
// never leave the service in any shape.
const Redacted = "[REDACTED]"

// IntegrationAPI holds the HTTP surface of the integration subsystem.
type IntegrationAPI struct {
	service  *skybridge.OAuthService
	registry domain.ProviderRegistry
}

// NewIntegrationAPI initializes the integration API.
func NewIntegrationAPI(service *skybridge.OAuthService, registry domain.ProviderRegistry) *IntegrationAPI {
	return &IntegrationAPI{
		service:  service,
		registry: registry,
	}
}

// RegisterRoutes registers the integration routes. callbackLimiter guards
// the one unauthenticated endpoint; authn and ownerGuard protect the rest.
func (a *IntegrationAPI) RegisterRoutes(e *echo.Echo, authn, ownerGuard, callbackLimiter echo.MiddlewareFunc) {
	e.GET("/api/v1/oauth/callback", a.CallbackHandler, callbackLimiter)

	authed := e.Group("/api/v1", authn)
	authed.GET("/cloud-providers", a.ListProvidersHandler)

	tenant := authed.Group("/tenants/:tenantID", ownerGuard)
	tenant.POST("/integrations", a.CreateIntegrationHandler)
	tenant.GET("/integrations/:integrationID", a.GetIntegrationHandler)
	tenant.GET("/integrations/:integrationID/authorize-url", a.AuthorizeURLHandler)
	tenant.GET("/integrations/:integrationID/health", a.HealthHandler)

	authed.POST("/oauth/tenants/:tenantID/integrations/:integrationID/refresh", a.RefreshHandler, ownerGuard)
}

// CallbackHandler handles the public OAuth callback. It always answers with
// generic JSON and never echoes code, state, or token values back.
func (a *IntegrationAPI) CallbackHandler(c echo.Context) error {
	req := skybridge.CallbackRequest{
		Code:             c.QueryParam("code"),
		State:            c.QueryParam("state"),
		ErrorCode:        c.QueryParam("error"),
		ErrorDescription: c.QueryParam("error_description"),
		RemoteIP:         c.RealIP(),
		UserAgent:        c.Request().UserAgent(),
	}

	integration, err := a.service.HandleCallback(c.Request().Context(), req)
	if err != nil {
		return c.JSON(flowErrorStatus(err), flowErrorBody(err))
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":        integration.Status,
		"integrationId": integration.ID,
		"provider":      integration.ProviderID,
	})
}

// CreateIntegrationRequest is the body of the integration creation endpoint.
// Metadata optionally carries PKCE parameters for public clients.
type CreateIntegrationRequest struct {
	Provider string         `json:"provider"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// CreateIntegrationHandler creates a PENDING integration for the tenant.
func (a *IntegrationAPI) CreateIntegrationHandler(c echo.Context) error {
	var req CreateIntegrationRequest
	if err := c.Bind(&req); err != nil || req.Provider == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_request"})
	}

	actor, _ := domain.ActorFromContext(c.Request().Context())
	integration, err := a.service.CreateIntegration(
		c.Request().Context(), c.Param("tenantID"), req.Provider, actor.UserID, req.Metadata)
	if err != nil {
		switch {
		case goerrors.Is(err, domain.ErrProviderNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "unknown_provider"})
		case goerrors.Is(err, domain.ErrIntegrationConflict):
			return c.JSON(http.StatusConflict, echo.Map{"error": "integration_exists"})
		}
		log.Error().Err(err).Msg("Failed to create integration")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "server_error"})
	}
	return c.JSON(http.StatusCreated, redactIntegration(integration))
}

// GetIntegrationHandler returns a single integration with token fields
// redacted.
func (a *IntegrationAPI) GetIntegrationHandler(c echo.Context) error {
	integration, err := a.service.GetIntegration(
		c.Request().Context(), c.Param("tenantID"), c.Param("integrationID"))
	if err != nil {
		if goerrors.Is(err, domain.ErrIntegrationNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "not_found"})
		}
		log.Error().Err(err).Msg("Failed to fetch integration")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "server_error"})
	}
	return c.JSON(http.StatusOK, redactIntegration(integration))
}

// AuthorizeURLHandler builds the provider authorization URL for a pending
// integration, embedding a freshly issued state token.
func (a *IntegrationAPI) AuthorizeURLHandler(c echo.Context) error {
	actor, _ := domain.ActorFromContext(c.Request().Context())
	url, err := a.service.AuthorizationURL(
		c.Request().Context(), c.Param("tenantID"), c.Param("integrationID"), actor.UserID)
	if err != nil {
		switch {
		case goerrors.Is(err, domain.ErrIntegrationNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "not_found"})
		case goerrors.Is(err, domain.ErrIntegrationNotPending):
			return c.JSON(http.StatusConflict, echo.Map{"error": "integration_not_pending"})
		}
		log.Error().Err(err).Msg("Failed to build authorization URL")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "server_error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"authorizationUrl": url})
}

// RefreshHandler rotates the integration's credentials. The response omits
// raw token values and carries the new expiry.
func (a *IntegrationAPI) RefreshHandler(c echo.Context) error {
	integration, err := a.service.Refresh(
		c.Request().Context(), c.Param("tenantID"), c.Param("integrationID"))
	if err != nil {
		if goerrors.Is(err, domain.ErrIntegrationNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "not_found"})
		}
		var flowErr *errors.FlowError
		if goerrors.As(err, &flowErr) {
			return c.JSON(http.StatusBadGateway, flowErr)
		}
		log.Error().Err(err).Msg("Failed to refresh integration tokens")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "server_error"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":         integration.Status,
		"accessToken":    Redacted,
		"refreshToken":   Redacted,
		"tokenExpiresAt": integration.TokenExpiresAt,
	})
}

// HealthHandler probes the stored credential and classifies it.
func (a *IntegrationAPI) HealthHandler(c echo.Context) error {
	health, err := a.service.Health(
		c.Request().Context(), c.Param("tenantID"), c.Param("integrationID"))
	if err != nil {
		if goerrors.Is(err, domain.ErrIntegrationNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "not_found"})
		}
		log.Error().Err(err).Msg("Health probe failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "server_error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"health": health})
}

// ListProvidersHandler lists the enabled provider descriptors with client
// secrets redacted.
func (a *IntegrationAPI) ListProvidersHandler(c echo.Context) error {
	descriptors, err := a.registry.List(c.Request().Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list providers")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "server_error"})
	}

	out := make([]domain.ProviderDescriptor, 0, len(descriptors))
	for _, desc := range descriptors {
		out = append(out, desc.Redacted())
	}
	return c.JSON(http.StatusOK, echo.Map{"providers": out})
}

// flowErrorStatus maps a callback flow error to an HTTP status. Exchange
// failures are the provider's fault, everything else is the caller's.
func flowErrorStatus(err error) int {
	var flowErr *errors.FlowError
	if !goerrors.As(err, &flowErr) {
		return http.StatusInternalServerError
	}
	switch flowErr.Code {
	case errors.ExchangeFailed:
		return http.StatusBadGateway
	case errors.StateExpired:
		return http.StatusGone
	default:
		return http.StatusBadRequest
	}
}

func flowErrorBody(err error) any {
	var flowErr *errors.FlowError
	if goerrors.As(err, &flowErr) {
		return flowErr
	}
	return echo.Map{"error": "server_error"}
}

// redactIntegration renders an integration for API responses. Token
// ciphertext is already excluded by the struct tags; expose presence only.
func redactIntegration(integration *domain.Integration) echo.Map {
	out := echo.Map{
		"id":        integration.ID,
		"tenantId":  integration.TenantID,
		"provider":  integration.ProviderID,
		"status":    integration.Status,
		"createdAt": integration.CreatedAt,
		"updatedAt": integration.UpdatedAt,
	}
	if integration.AccessToken != "" {
		out["accessToken"] = Redacted
		out["tokenExpiresAt"] = integration.TokenExpiresAt
	}
	if integration.RefreshToken != "" {
		out["refreshToken"] = Redacted
	}
	if integration.LastError != "" {
		out["lastError"] = integration.LastError
	}
	return out
}
