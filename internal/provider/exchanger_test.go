package provider_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skybridge-io/skybridge/domain"
	"github.com/skybridge-io/skybridge/internal/provider"
)

func tokenStub(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func writeTokenJSON(w http.ResponseWriter, payload map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func TestDropboxExchanger_ExchangeCode(t *testing.T) {
	var gotForm url.Values
	server := tokenStub(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		writeTokenJSON(w, map[string]any{
			"access_token":  "at1",
			"refresh_token": "rt1",
			"expires_in":    3600,
			"scope":         "files.content.read",
		})
	})

	desc := &domain.ProviderDescriptor{
		Slug:         domain.ProviderDropbox,
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TokenURL:     server.URL,
	}
	exchanger := provider.NewDropboxExchanger(desc, server.Client())

	set, err := exchanger.ExchangeCode(context.Background(), "abc123", "https://app.example.com/cb", "")
	require.NoError(t, err)
	assert.Equal(t, "at1", set.AccessToken)
	assert.Equal(t, "rt1", set.RefreshToken)
	assert.InDelta(t, 3600, set.ExpiresIn, 5)
	assert.Equal(t, "files.content.read", set.Scope)

	assert.Equal(t, "authorization_code", gotForm.Get("grant_type"))
	assert.Equal(t, "abc123", gotForm.Get("code"))
	assert.Equal(t, "https://app.example.com/cb", gotForm.Get("redirect_uri"))
}

func TestDropboxExchanger_ForwardsCodeVerifier(t *testing.T) {
	var gotForm url.Values
	server := tokenStub(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		writeTokenJSON(w, map[string]any{"access_token": "at1"})
	})

	desc := &domain.ProviderDescriptor{Slug: domain.ProviderDropbox, ClientID: "c", TokenURL: server.URL}
	exchanger := provider.NewDropboxExchanger(desc, server.Client())

	_, err := exchanger.ExchangeCode(context.Background(), "abc123", "https://app.example.com/cb", "verifier-value")
	require.NoError(t, err)
	assert.Equal(t, "verifier-value", gotForm.Get("code_verifier"))
}

func TestDropboxExchanger_AuthCodeURL(t *testing.T) {
	desc := &domain.ProviderDescriptor{Slug: domain.ProviderDropbox, ClientID: "client-id"}
	exchanger := provider.NewDropboxExchanger(desc, nil)

	raw := exchanger.AuthCodeURL("state-token", "https://app.example.com/cb", map[string]string{
		"code_challenge":        "challenge",
		"code_challenge_method": "S256",
	})
	parsed, err := url.Parse(raw)
	require.NoError(t, err)

	query := parsed.Query()
	assert.Equal(t, "state-token", query.Get("state"))
	assert.Equal(t, "client-id", query.Get("client_id"))
	assert.Equal(t, "offline", query.Get("token_access_type"))
	assert.Equal(t, "challenge", query.Get("code_challenge"))
	assert.Equal(t, "S256", query.Get("code_challenge_method"))
}

func TestExchanger_RetriesOnceOn5xx(t *testing.T) {
	var calls atomic.Int32
	server := tokenStub(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "upstream hiccup", http.StatusBadGateway)
			return
		}
		writeTokenJSON(w, map[string]any{"access_token": "at1"})
	})

	desc := &domain.ProviderDescriptor{Slug: domain.ProviderDropbox, ClientID: "c", TokenURL: server.URL}
	exchanger := provider.NewDropboxExchanger(desc, server.Client())

	set, err := exchanger.ExchangeCode(context.Background(), "abc123", "https://app.example.com/cb", "")
	require.NoError(t, err)
	assert.Equal(t, "at1", set.AccessToken)
	assert.EqualValues(t, 2, calls.Load())
}

func TestExchanger_PersistentOutageStopsAfterOneRetry(t *testing.T) {
	var calls atomic.Int32
	server := tokenStub(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "still down", http.StatusInternalServerError)
	})

	desc := &domain.ProviderDescriptor{Slug: domain.ProviderDropbox, ClientID: "c", TokenURL: server.URL}
	exchanger := provider.NewDropboxExchanger(desc, server.Client())

	_, err := exchanger.ExchangeCode(context.Background(), "abc123", "https://app.example.com/cb", "")
	require.Error(t, err)

	var statusErr *provider.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	assert.EqualValues(t, 2, calls.Load())
}

func TestExchanger_NeverRetriesOn4xx(t *testing.T) {
	var calls atomic.Int32
	server := tokenStub(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	})

	desc := &domain.ProviderDescriptor{Slug: domain.ProviderDropbox, ClientID: "c", TokenURL: server.URL}
	exchanger := provider.NewDropboxExchanger(desc, server.Client())

	_, err := exchanger.ExchangeCode(context.Background(), "spent-code", "https://app.example.com/cb", "")
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestGoogleDriveExchanger_RefreshKeepsRotationEmpty(t *testing.T) {
	server := tokenStub(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "rt-old", r.PostForm.Get("refresh_token"))
		// Google omits refresh_token on refresh responses.
		writeTokenJSON(w, map[string]any{"access_token": "at2", "expires_in": 3599})
	})

	desc := &domain.ProviderDescriptor{Slug: domain.ProviderGoogleDrive, ClientID: "c", TokenURL: server.URL}
	exchanger := provider.NewGoogleDriveExchanger(desc, server.Client())

	set, err := exchanger.Refresh(context.Background(), "rt-old")
	require.NoError(t, err)
	assert.Equal(t, "at2", set.AccessToken)
	assert.Empty(t, set.RefreshToken, "caller must retain the previous refresh token")
}

func TestGoogleDriveExchanger_AuthCodeURLRequestsOfflineAccess(t *testing.T) {
	desc := &domain.ProviderDescriptor{Slug: domain.ProviderGoogleDrive, ClientID: "client-id"}
	exchanger := provider.NewGoogleDriveExchanger(desc, nil)

	parsed, err := url.Parse(exchanger.AuthCodeURL("s", "https://app.example.com/cb", nil))
	require.NoError(t, err)
	assert.Equal(t, "offline", parsed.Query().Get("access_type"))
	assert.Equal(t, "consent", parsed.Query().Get("prompt"))
}

func TestProbe_Classification(t *testing.T) {
	cases := []struct {
		status int
		health domain.TokenHealth
		hasErr bool
	}{
		{http.StatusOK, domain.TokenHealthHealthy, false},
		{http.StatusUnauthorized, domain.TokenHealthUnauthorized, false},
		{http.StatusInternalServerError, domain.TokenHealthError, true},
	}
	for _, tc := range cases {
		server := tokenStub(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer token-value", r.Header.Get("Authorization"))
			w.WriteHeader(tc.status)
		})
		desc := &domain.ProviderDescriptor{Slug: "custom", ProbeURL: server.URL}
		exchanger := provider.NewGenericExchanger(desc, server.Client())

		health, err := exchanger.Probe(context.Background(), "token-value")
		assert.Equal(t, tc.health, health, "status %d", tc.status)
		if tc.hasErr {
			assert.Error(t, err)
		} else {
			assert.NoError(t, err)
		}
	}
}

func TestFactory_SelectsVariantBySlug(t *testing.T) {
	factory := provider.NewFactory(nil)

	cases := map[string]string{
		domain.ProviderDropbox:     domain.ProviderDropbox,
		domain.ProviderGoogleDrive: domain.ProviderGoogleDrive,
		domain.ProviderOneDrive:    domain.ProviderOneDrive,
		"corporate-webdav":         "corporate-webdav", // generic keeps the descriptor slug
	}
	for slug, want := range cases {
		exchanger := factory.ForDescriptor(&domain.ProviderDescriptor{Slug: slug})
		assert.Equal(t, want, exchanger.Slug())
	}
}
