package echo_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	skybridge "github.com/skybridge-io/skybridge"
	apiecho "github.com/skybridge-io/skybridge/api/echo"
	"github.com/skybridge-io/skybridge/cache"
	"github.com/skybridge-io/skybridge/domain"
	"github.com/skybridge-io/skybridge/internal/audit"
	"github.com/skybridge-io/skybridge/internal/metrics"
	"github.com/skybridge-io/skybridge/internal/provider"
	"github.com/skybridge-io/skybridge/internal/secrets"
	"github.com/skybridge-io/skybridge/internal/statetoken"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	metrics.InitCustomMetrics(prometheus.NewRegistry())
	os.Exit(m.Run())
}

type apiFixture struct {
	e       *echo.Echo
	service *skybridge.OAuthService
	codec   *statetoken.Codec
	token   *httptest.Server
}

func passthroughMiddleware(next echo.HandlerFunc) echo.HandlerFunc { return next }

func actorMiddleware(actor domain.Actor) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := domain.ContextWithActor(c.Request().Context(), actor)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at1","refresh_token":"rt1","expires_in":3600,"token_type":"Bearer"}`))
	}))
	t.Cleanup(tokenServer.Close)

	codec, err := statetoken.NewCodec([]byte("0123456789abcdef0123456789abcdef"), statetoken.DefaultTTL)
	require.NoError(t, err)
	cipher, err := secrets.NewCipher([]byte("abcdefghijklmnopqrstuvwxyz012345"))
	require.NoError(t, err)

	registry := cache.NewStaticProviderRegistry([]domain.ProviderDescriptor{
		{
			Slug:         domain.ProviderGeneric,
			DisplayName:  "Generic",
			AuthURL:      tokenServer.URL + "/authorize",
			TokenURL:     tokenServer.URL + "/token",
			ClientID:     "cid",
			ClientSecret: "sec",
			TokenMethod:  domain.TokenMethodPost,
			IsEnabled:    true,
		},
	})

	service := skybridge.NewOAuthService(
		cache.NewMemoryIntegrationStore(), registry, codec, cipher,
		audit.NewLoggerWith(zerolog.Nop()), provider.NewFactory(tokenServer.Client()),
		"https://app.example.com/api/v1/oauth/callback")

	e := echo.New()
	api := apiecho.NewIntegrationAPI(service, registry)
	actor := domain.Actor{UserID: "user-1", TenantID: "tenant-1", Role: "owner"}
	api.RegisterRoutes(e, actorMiddleware(actor), passthroughMiddleware, passthroughMiddleware)

	return &apiFixture{e: e, service: service, codec: codec, token: tokenServer}
}

func (f *apiFixture) do(method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndFetchIntegration(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/tenants/tenant-1/integrations", `{"provider":"generic"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"PENDING"`)
	assert.NotContains(t, rec.Body.String(), "access_token")

	id := extractJSONField(t, rec.Body.String(), "id")
	rec = f.do(http.MethodGet, "/api/v1/tenants/tenant-1/integrations/"+id, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// Unknown provider and duplicate creation are distinct failures.
	rec = f.do(http.MethodPost, "/api/v1/tenants/tenant-1/integrations", `{"provider":"nope"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(http.MethodPost, "/api/v1/tenants/tenant-1/integrations", `{"provider":"generic"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAuthorizeURLEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/tenants/tenant-1/integrations", `{"provider":"generic"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := extractJSONField(t, rec.Body.String(), "id")

	rec = f.do(http.MethodGet, "/api/v1/tenants/tenant-1/integrations/"+id+"/authorize-url", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "state=")
	assert.Contains(t, rec.Body.String(), "client_id=cid")
}

func TestCallbackEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	integration, err := f.service.CreateIntegration(context.Background(), "tenant-1", "generic", "user-1", nil)
	require.NoError(t, err)
	state, err := f.codec.Issue(integration.ID, "tenant-1", "user-1")
	require.NoError(t, err)

	rec := f.do(http.MethodGet, "/api/v1/oauth/callback?code=abc123&state="+state, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ACTIVE"`)
	// The callback response must not echo the code, state, or tokens.
	assert.NotContains(t, rec.Body.String(), "abc123")
	assert.NotContains(t, rec.Body.String(), state)
	assert.NotContains(t, rec.Body.String(), "at1")

	// Replay of the same pair is rejected with the collapsed code.
	rec = f.do(http.MethodGet, "/api/v1/oauth/callback?code=abc123&state="+state, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_STATE")

	rec = f.do(http.MethodGet, "/api/v1/oauth/callback?state=garbage", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefreshEndpointRedactsTokens(t *testing.T) {
	f := newAPIFixture(t)

	integration, err := f.service.CreateIntegration(context.Background(), "tenant-1", "generic", "user-1", nil)
	require.NoError(t, err)
	state, err := f.codec.Issue(integration.ID, "tenant-1", "user-1")
	require.NoError(t, err)
	rec := f.do(http.MethodGet, "/api/v1/oauth/callback?code=abc123&state="+state, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/oauth/tenants/tenant-1/integrations/"+integration.ID+"/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), apiecho.Redacted)
	assert.Contains(t, rec.Body.String(), "tokenExpiresAt")
	assert.NotContains(t, rec.Body.String(), "at1")
	assert.NotContains(t, rec.Body.String(), "rt1")
}

func TestListProvidersRedactsSecrets(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/cloud-providers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"slug":"generic"`)
	assert.NotContains(t, rec.Body.String(), "sec")
	assert.NotContains(t, rec.Body.String(), "client_secret")
}

// extractJSONField pulls a top-level string field out of a JSON body without
// committing the test to the full response shape.
func extractJSONField(t *testing.T, body, field string) string {
	t.Helper()
	marker := `"` + field + `":"`
	idx := strings.Index(body, marker)
	require.GreaterOrEqual(t, idx, 0, "field %s not in body %s", field, body)
	rest := body[idx+len(marker):]
	end := strings.Index(rest, `"`)
	require.GreaterOrEqual(t, end, 0)
	return rest[:end]
}
