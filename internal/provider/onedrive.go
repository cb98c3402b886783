package provider

import (
	"context"
	"net/http"

	"golang.org/x/oauth2/endpoints"

	"github.com/skybridge-io/skybridge/domain"
)

// OneDriveProbeEndpoint returns the signed-in user's drive. Var so tests can
// point it at a stub server.
var OneDriveProbeEndpoint = "https://graph.microsoft.com/v1.0/me/drive"

// Graph needs offline_access in the scope list to mint refresh tokens; the
// endpoint has no access_type parameter like Google's.
var defaultOneDriveScopes = []string{"offline_access", "Files.Read.All"}

// OneDriveExchanger implements the OneDrive (Microsoft Graph) variant of the
// token exchange.
type OneDriveExchanger struct {
	base
}

// NewOneDriveExchanger builds the OneDrive exchanger.
func NewOneDriveExchanger(desc *domain.ProviderDescriptor, client *http.Client) *OneDriveExchanger {
	if len(desc.Scopes) == 0 {
		desc.Scopes = defaultOneDriveScopes
	}
	return &OneDriveExchanger{base: newBase(desc, client, endpointFor(desc, endpoints.Microsoft))}
}

func (e *OneDriveExchanger) Slug() string { return domain.ProviderOneDrive }

func (e *OneDriveExchanger) AuthCodeURL(state, redirectURI string, extra map[string]string) string {
	return e.authCodeURL(state, redirectURI, extra)
}

func (e *OneDriveExchanger) ExchangeCode(ctx context.Context, code, redirectURI, codeVerifier string) (*TokenSet, error) {
	return e.exchangeCode(ctx, code, redirectURI, codeVerifier)
}

func (e *OneDriveExchanger) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	return e.refresh(ctx, refreshToken)
}

func (e *OneDriveExchanger) Probe(ctx context.Context, accessToken string) (domain.TokenHealth, error) {
	return e.probeURL(ctx, http.MethodGet, OneDriveProbeEndpoint, accessToken)
}

var _ Exchanger = (*OneDriveExchanger)(nil)
