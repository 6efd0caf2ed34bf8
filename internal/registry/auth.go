package registry

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"
)

// AuthKind enumerates the authentication strategies a provider may use.
// Exactly one applies per provider.
type AuthKind string

const (
	AuthNone    AuthKind = "none"
	AuthAPIKey  AuthKind = "apiKey"
	AuthOAuth2  AuthKind = "oauth2"
	AuthWebhook AuthKind = "webhook"
)

// ErrRefreshUnsupported is returned by OAuthFlows implementations whose
// provider does not issue refresh tokens.
var ErrRefreshUnsupported = errors.New("registry: token refresh unsupported")

// TokenGrant is the normalized result of an OAuth code exchange or refresh.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	TokenType    string
	Metadata     []byte
}

// OAuthFlows covers the provider-specific OAuth2 legs the credential store
// drives: building the authorization URL, exchanging the callback code and
// refreshing an expired grant.
type OAuthFlows interface {
	AuthorizationURL(state, redirect string) string
	Exchange(ctx context.Context, code, redirect string) (TokenGrant, error)
	Refresh(ctx context.Context, refreshToken string) (TokenGrant, error)
}

// KeyValidator checks a user-supplied API key against the provider.
type KeyValidator interface {
	Validate(ctx context.Context, apiKey string) error
}

// AuthConfig is the tagged union describing how a provider authenticates.
// OAuth is set only for AuthOAuth2, APIKey only for AuthAPIKey.
type AuthConfig struct {
	Kind   AuthKind
	Hint   string
	OAuth  OAuthFlows
	APIKey KeyValidator
}

// CodeFlow implements OAuthFlows on top of a standard authorization-code
// configuration. Providers with vanilla OAuth2 endpoints embed it directly.
type CodeFlow struct {
	Config oauth2.Config
	// ExtraAuthParams is appended to the authorization URL, for providers
	// that require non-standard query parameters.
	ExtraAuthParams map[string]string
	// NoRefresh marks providers that never return refresh tokens.
	NoRefresh bool
}

func (f *CodeFlow) configFor(redirect string) oauth2.Config {
	cfg := f.Config
	if redirect != "" {
		cfg.RedirectURL = redirect
	}
	return cfg
}

// AuthorizationURL builds the provider consent URL for the given state nonce.
func (f *CodeFlow) AuthorizationURL(state, redirect string) string {
	cfg := f.configFor(redirect)
	opts := make([]oauth2.AuthCodeOption, 0, len(f.ExtraAuthParams))
	for key, value := range f.ExtraAuthParams {
		opts = append(opts, oauth2.SetAuthURLParam(key, value))
	}
	return cfg.AuthCodeURL(state, opts...)
}

// Exchange trades the callback code for a token grant.
func (f *CodeFlow) Exchange(ctx context.Context, code, redirect string) (TokenGrant, error) {
	cfg := f.configFor(redirect)
	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return TokenGrant{}, err
	}
	return grantFromToken(token), nil
}

// Refresh obtains a fresh grant from a stored refresh token.
func (f *CodeFlow) Refresh(ctx context.Context, refreshToken string) (TokenGrant, error) {
	if f.NoRefresh {
		return TokenGrant{}, ErrRefreshUnsupported
	}
	source := f.Config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return TokenGrant{}, err
	}
	return grantFromToken(token), nil
}

func grantFromToken(token *oauth2.Token) TokenGrant {
	grant := TokenGrant{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		grant.ExpiresAt = &expiry
	}
	return grant
}
