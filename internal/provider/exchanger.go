// Package provider implements the per-provider token exchange strategies for
// the cloud-storage OAuth flows. Each supported provider is one Exchanger
// variant selected by the registry slug; descriptors with an unknown slug are
// served by the generic OAuth2 exchanger.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/skybridge-io/skybridge/domain"
)

// RequestTimeout bounds every call to a provider token or probe endpoint.
const RequestTimeout = 15 * time.Second

// TokenSet is the normalized result of a code exchange or refresh.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64 // seconds; 0 when the provider did not say
	Scope        string
}

// Exchanger turns an authorization code (or refresh token) into tokens for
// one provider, and probes stored credentials for health checks.
type Exchanger interface {
	// Slug identifies the provider variant, e.g. "dropbox".
	Slug() string

	// AuthCodeURL builds the authorization URL the user is redirected to.
	// extra carries provider-agnostic additions such as PKCE challenge
	// parameters.
	AuthCodeURL(state, redirectURI string, extra map[string]string) string

	// ExchangeCode swaps an authorization code for tokens. codeVerifier is
	// forwarded when the flow used PKCE and may be empty otherwise.
	ExchangeCode(ctx context.Context, code, redirectURI, codeVerifier string) (*TokenSet, error)

	// Refresh obtains a fresh access token. Providers may omit a new refresh
	// token, in which case TokenSet.RefreshToken is empty and the caller
	// keeps the previous one.
	Refresh(ctx context.Context, refreshToken string) (*TokenSet, error)

	// Probe performs the provider's cheapest authenticated call and
	// classifies the credential's usability.
	Probe(ctx context.Context, accessToken string) (domain.TokenHealth, error)
}

// StatusError carries the provider's HTTP status for the internal audit
// record. It is never surfaced to callers.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned status %d", e.StatusCode)
}

// base carries the pieces every exchanger variant shares: the registry
// descriptor and a bounded HTTP client.
type base struct {
	desc       *domain.ProviderDescriptor
	httpClient *http.Client
	endpoint   oauth2.Endpoint
}

func newBase(desc *domain.ProviderDescriptor, client *http.Client, endpoint oauth2.Endpoint) base {
	if client == nil {
		client = &http.Client{Timeout: RequestTimeout}
	}
	return base{desc: desc, httpClient: client, endpoint: endpoint}
}

func (b *base) oauth2Config(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     b.desc.ClientID,
		ClientSecret: b.desc.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       b.desc.Scopes,
		Endpoint:     b.endpoint,
	}
}

func (b *base) authCodeURL(state, redirectURI string, extra map[string]string, opts ...oauth2.AuthCodeOption) string {
	for k, v := range extra {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}
	return b.oauth2Config(redirectURI).AuthCodeURL(state, opts...)
}

// exchangeCode runs the authorization-code grant through x/oauth2, retrying
// once on a transient 5xx. 4xx responses are never retried: the code is
// single-use and already spent.
func (b *base) exchangeCode(ctx context.Context, code, redirectURI, codeVerifier string) (*TokenSet, error) {
	var opts []oauth2.AuthCodeOption
	if codeVerifier != "" {
		opts = append(opts, oauth2.SetAuthURLParam("code_verifier", codeVerifier))
	}
	conf := b.oauth2Config(redirectURI)

	tok, err := b.withRetry(ctx, func(ctx context.Context) (*oauth2.Token, error) {
		return conf.Exchange(ctx, code, opts...)
	})
	if err != nil {
		return nil, err
	}
	return tokenSetFromOAuth2(tok), nil
}

// refresh runs the refresh-token grant with the same retry discipline.
func (b *base) refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	conf := b.oauth2Config("")
	tok, err := b.withRetry(ctx, func(ctx context.Context) (*oauth2.Token, error) {
		return conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	})
	if err != nil {
		return nil, err
	}
	set := tokenSetFromOAuth2(tok)
	if set.RefreshToken == refreshToken {
		// Provider echoed the same token back; treat as "no rotation" so the
		// caller keeps the stored one.
		set.RefreshToken = ""
	}
	return set, nil
}

func (b *base) withRetry(ctx context.Context, call func(context.Context) (*oauth2.Token, error)) (*oauth2.Token, error) {
	tok, err := b.doCall(ctx, call)
	if err == nil {
		return tok, nil
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode >= 500 {
		return b.doCall(ctx, call)
	}
	return nil, err
}

func (b *base) doCall(ctx context.Context, call func(context.Context) (*oauth2.Token, error)) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, b.httpClient)
	tok, err := call(ctx)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			return nil, fmt.Errorf("token endpoint: %w", &StatusError{
				StatusCode: retrieveErr.Response.StatusCode,
				Body:       string(retrieveErr.Body),
			})
		}
		return nil, fmt.Errorf("token endpoint: %w", err)
	}
	return tok, nil
}

// probeURL performs an authenticated request and classifies the outcome.
func (b *base) probeURL(ctx context.Context, method, url, accessToken string) (domain.TokenHealth, error) {
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return domain.TokenHealthError, fmt.Errorf("build probe request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return domain.TokenHealthError, fmt.Errorf("probe %s: %w", b.desc.Slug, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return domain.TokenHealthHealthy, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return domain.TokenHealthUnauthorized, nil
	default:
		return domain.TokenHealthError, fmt.Errorf("probe %s: %w", b.desc.Slug,
			&StatusError{StatusCode: resp.StatusCode})
	}
}

func tokenSetFromOAuth2(tok *oauth2.Token) *TokenSet {
	set := &TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if !tok.Expiry.IsZero() {
		if secs := int64(time.Until(tok.Expiry).Seconds()); secs > 0 {
			set.ExpiresIn = secs
		}
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		set.Scope = scope
	}
	return set
}
