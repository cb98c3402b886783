package provider

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/skybridge-io/skybridge/domain"
)

// dropboxEndpoint is spelled out here; golang.org/x/oauth2/endpoints does
// not carry Dropbox at the pinned version.
var dropboxEndpoint = oauth2.Endpoint{
	AuthURL:   "https://www.dropbox.com/oauth2/authorize",
	TokenURL:  "https://api.dropboxapi.com/oauth2/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// DropboxProbeEndpoint is the cheapest authenticated Dropbox call. Var so
// tests can point it at a stub server.
var DropboxProbeEndpoint = "https://api.dropboxapi.com/2/users/get_current_account"

// DropboxExchanger implements the Dropbox variant of the token exchange.
type DropboxExchanger struct {
	base
}

// NewDropboxExchanger builds the Dropbox exchanger. Descriptor endpoint
// overrides win over the well-known endpoints when present.
func NewDropboxExchanger(desc *domain.ProviderDescriptor, client *http.Client) *DropboxExchanger {
	return &DropboxExchanger{base: newBase(desc, client, endpointFor(desc, dropboxEndpoint))}
}

func (e *DropboxExchanger) Slug() string { return domain.ProviderDropbox }

// AuthCodeURL requests offline access so Dropbox issues a refresh token.
func (e *DropboxExchanger) AuthCodeURL(state, redirectURI string, extra map[string]string) string {
	return e.authCodeURL(state, redirectURI, extra,
		oauth2.SetAuthURLParam("token_access_type", "offline"))
}

func (e *DropboxExchanger) ExchangeCode(ctx context.Context, code, redirectURI, codeVerifier string) (*TokenSet, error) {
	return e.exchangeCode(ctx, code, redirectURI, codeVerifier)
}

func (e *DropboxExchanger) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	return e.refresh(ctx, refreshToken)
}

// Probe asks for the current account. Dropbox RPC endpoints are POST-only.
func (e *DropboxExchanger) Probe(ctx context.Context, accessToken string) (domain.TokenHealth, error) {
	return e.probeURL(ctx, http.MethodPost, DropboxProbeEndpoint, accessToken)
}

// endpointFor lets a registry descriptor override the well-known endpoints,
// which also gives tests a seam for stub servers. The auth style is always
// pinned: auto-detection re-sends the token request to try the other client
// auth style on failure, which would burn a single-use code.
func endpointFor(desc *domain.ProviderDescriptor, wellKnown oauth2.Endpoint) oauth2.Endpoint {
	ep := wellKnown
	if desc.AuthURL != "" {
		ep.AuthURL = desc.AuthURL
	}
	if desc.TokenURL != "" {
		ep.TokenURL = desc.TokenURL
	}
	if ep.AuthStyle == oauth2.AuthStyleAutoDetect {
		ep.AuthStyle = oauth2.AuthStyleInParams
	}
	return ep
}

var _ Exchanger = (*DropboxExchanger)(nil)
