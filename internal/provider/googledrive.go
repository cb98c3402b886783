package provider

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/skybridge-io/skybridge/domain"
)

// GoogleDriveProbeEndpoint returns the authorized user; `fields=user` keeps
// the response minimal. Var so tests can point it at a stub server.
var GoogleDriveProbeEndpoint = "https://www.googleapis.com/drive/v3/about?fields=user"

const driveScope = "https://www.googleapis.com/auth/drive.readonly"

// GoogleDriveExchanger implements the Google Drive variant of the token
// exchange.
type GoogleDriveExchanger struct {
	base
}

// NewGoogleDriveExchanger builds the Google Drive exchanger, defaulting the
// scope set to read-only Drive access when the descriptor carries none.
func NewGoogleDriveExchanger(desc *domain.ProviderDescriptor, client *http.Client) *GoogleDriveExchanger {
	if len(desc.Scopes) == 0 {
		desc.Scopes = []string{driveScope}
	}
	return &GoogleDriveExchanger{base: newBase(desc, client, endpointFor(desc, google.Endpoint))}
}

func (e *GoogleDriveExchanger) Slug() string { return domain.ProviderGoogleDrive }

// AuthCodeURL requests offline access with forced consent so Google returns
// a refresh token even on re-authorization.
func (e *GoogleDriveExchanger) AuthCodeURL(state, redirectURI string, extra map[string]string) string {
	return e.authCodeURL(state, redirectURI, extra,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"))
}

func (e *GoogleDriveExchanger) ExchangeCode(ctx context.Context, code, redirectURI, codeVerifier string) (*TokenSet, error) {
	return e.exchangeCode(ctx, code, redirectURI, codeVerifier)
}

func (e *GoogleDriveExchanger) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	return e.refresh(ctx, refreshToken)
}

func (e *GoogleDriveExchanger) Probe(ctx context.Context, accessToken string) (domain.TokenHealth, error) {
	return e.probeURL(ctx, http.MethodGet, GoogleDriveProbeEndpoint, accessToken)
}

var _ Exchanger = (*GoogleDriveExchanger)(nil)
