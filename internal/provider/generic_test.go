package provider_test

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skybridge-io/skybridge/domain"
	"github.com/skybridge-io/skybridge/internal/provider"
)

func TestGenericExchanger_GetTokenMethod(t *testing.T) {
	var gotQuery url.Values
	server := tokenStub(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		gotQuery = r.URL.Query()
		writeTokenJSON(w, map[string]any{"access_token": "at1", "expires_in": 1200})
	})

	desc := &domain.ProviderDescriptor{
		Slug:         "legacy-store",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TokenURL:     server.URL,
		TokenMethod:  domain.TokenMethodGet,
	}
	exchanger := provider.NewGenericExchanger(desc, server.Client())

	set, err := exchanger.ExchangeCode(context.Background(), "abc123", "https://app.example.com/cb", "")
	require.NoError(t, err)
	assert.Equal(t, "at1", set.AccessToken)
	assert.EqualValues(t, 1200, set.ExpiresIn)

	assert.Equal(t, "authorization_code", gotQuery.Get("grant_type"))
	assert.Equal(t, "abc123", gotQuery.Get("code"))
	assert.Equal(t, "client-secret", gotQuery.Get("client_secret"))
}

func TestGenericExchanger_CustomGrantType(t *testing.T) {
	server := tokenStub(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "urn:custom:grant", r.PostForm.Get("grant_type"))
		writeTokenJSON(w, map[string]any{"access_token": "at1"})
	})

	desc := &domain.ProviderDescriptor{
		Slug:      "custom",
		ClientID:  "c",
		TokenURL:  server.URL,
		GrantType: "urn:custom:grant",
	}
	exchanger := provider.NewGenericExchanger(desc, server.Client())

	_, err := exchanger.ExchangeCode(context.Background(), "abc123", "https://app.example.com/cb", "")
	require.NoError(t, err)
}

func TestGenericExchanger_FormEncodedResponse(t *testing.T) {
	server := tokenStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-www-form-urlencoded")
		_, _ = w.Write([]byte("access_token=at1&refresh_token=rt1&expires_in=900"))
	})

	desc := &domain.ProviderDescriptor{Slug: "legacy", ClientID: "c", TokenURL: server.URL}
	exchanger := provider.NewGenericExchanger(desc, server.Client())

	set, err := exchanger.ExchangeCode(context.Background(), "abc123", "https://app.example.com/cb", "")
	require.NoError(t, err)
	assert.Equal(t, "at1", set.AccessToken)
	assert.Equal(t, "rt1", set.RefreshToken)
	assert.EqualValues(t, 900, set.ExpiresIn)
}

func TestGenericExchanger_MissingAccessTokenIsError(t *testing.T) {
	server := tokenStub(t, func(w http.ResponseWriter, r *http.Request) {
		writeTokenJSON(w, map[string]any{"token_type": "bearer"})
	})

	desc := &domain.ProviderDescriptor{Slug: "custom", ClientID: "c", TokenURL: server.URL}
	exchanger := provider.NewGenericExchanger(desc, server.Client())

	_, err := exchanger.ExchangeCode(context.Background(), "abc123", "https://app.example.com/cb", "")
	assert.Error(t, err)
}

func TestGenericExchanger_AuthCodeURL(t *testing.T) {
	desc := &domain.ProviderDescriptor{
		Slug:     "custom",
		ClientID: "client-id",
		AuthURL:  "https://idp.example.com/authorize",
		Scopes:   []string{"files:read", "files:list"},
	}
	exchanger := provider.NewGenericExchanger(desc, nil)

	parsed, err := url.Parse(exchanger.AuthCodeURL("state-token", "https://app.example.com/cb", nil))
	require.NoError(t, err)

	query := parsed.Query()
	assert.Equal(t, "code", query.Get("response_type"))
	assert.Equal(t, "state-token", query.Get("state"))
	assert.Equal(t, "files:read files:list", query.Get("scope"))
}

func TestGenericExchanger_ProbeWithoutURLTrustsToken(t *testing.T) {
	desc := &domain.ProviderDescriptor{Slug: "custom", ClientID: "c"}
	exchanger := provider.NewGenericExchanger(desc, nil)

	health, err := exchanger.Probe(context.Background(), "token")
	require.NoError(t, err)
	assert.Equal(t, domain.TokenHealthHealthy, health)
}
