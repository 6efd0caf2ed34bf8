package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arealabs/area/internal/registry"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type fakeKeyValidator struct {
	acceptedKey string
}

func (v fakeKeyValidator) Validate(_ context.Context, apiKey string) error {
	if apiKey != v.acceptedKey {
		return errors.New("key rejected")
	}
	return nil
}

type fakeOAuthFlows struct {
	grant      registry.TokenGrant
	refreshErr error
}

func (f *fakeOAuthFlows) AuthorizationURL(state, _ string) string {
	return "https://provider.example/authorize?state=" + state
}

func (f *fakeOAuthFlows) Exchange(_ context.Context, code, _ string) (registry.TokenGrant, error) {
	if code != "good-code" {
		return registry.TokenGrant{}, errors.New("bad code")
	}
	return f.grant, nil
}

func (f *fakeOAuthFlows) Refresh(_ context.Context, _ string) (registry.TokenGrant, error) {
	if f.refreshErr != nil {
		return registry.TokenGrant{}, f.refreshErr
	}
	return f.grant, nil
}

func newStoreForTest(t *testing.T, flows *fakeOAuthFlows) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Service{}, &OAuthToken{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	if flows == nil {
		flows = &fakeOAuthFlows{grant: registry.TokenGrant{AccessToken: "access", RefreshToken: "refresh"}}
	}
	catalog := registry.New([]registry.Definition{
		{Name: "clockwork", Auth: registry.AuthConfig{Kind: registry.AuthNone}},
		{Name: "pushfeed", Auth: registry.AuthConfig{Kind: registry.AuthWebhook}},
		{Name: "keyed", Auth: registry.AuthConfig{Kind: registry.AuthAPIKey, APIKey: fakeKeyValidator{acceptedKey: "valid-key"}}},
		{Name: "oauthed", Auth: registry.AuthConfig{Kind: registry.AuthOAuth2, OAuth: flows}},
	})

	store, err := NewStore(StoreConfig{Database: db, Registry: catalog})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func TestRegisterNoAuthCreatesActiveConnection(t *testing.T) {
	store := newStoreForTest(t, nil)
	ctx := context.Background()

	if err := store.RegisterNoAuth(ctx, 1, "clockwork"); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	// Registering again must not create a duplicate.
	if err := store.RegisterNoAuth(ctx, 1, "clockwork"); err != nil {
		t.Fatalf("repeat register failed: %v", err)
	}

	row, err := store.ByName(ctx, 1, "clockwork")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if row.State != StateActive {
		t.Fatalf("expected ACTIVE state, got %q", row.State)
	}

	summaries, err := store.ListMine(ctx, 1)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected one connection, got %d", len(summaries))
	}
}

func TestRegisterNoAuthRejectsCredentialedProviders(t *testing.T) {
	store := newStoreForTest(t, nil)

	if err := store.RegisterNoAuth(context.Background(), 1, "keyed"); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("expected ErrNotSupported, got %v", err)
	}
	if err := store.RegisterNoAuth(context.Background(), 1, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	// Webhook providers need no credential either.
	if err := store.RegisterNoAuth(context.Background(), 1, "pushfeed"); err != nil {
		t.Fatalf("webhook register failed: %v", err)
	}
}

func TestRegisterAPIKeyValidatesAndUpserts(t *testing.T) {
	store := newStoreForTest(t, nil)
	ctx := context.Background()

	if err := store.RegisterAPIKey(ctx, 1, "keyed", "wrong-key"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
	if _, err := store.ByName(ctx, 1, "keyed"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no connection after rejected key, got %v", err)
	}

	if err := store.RegisterAPIKey(ctx, 1, "keyed", "valid-key"); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	row, err := store.ByName(ctx, 1, "keyed")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if row.APIKey == nil || *row.APIKey != "valid-key" {
		t.Fatalf("expected stored key, got %v", row.APIKey)
	}

	// Re-registering overwrites the stored key on the same row.
	if err := store.RegisterAPIKey(ctx, 1, "keyed", "valid-key"); err != nil {
		t.Fatalf("repeat register failed: %v", err)
	}
	var count int64
	if err := store.db.Model(&Service{}).Where("user_id = ?", 1).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a single connection row, got %d", count)
	}
}

func TestOAuthCallbackStoresGrantAndActivates(t *testing.T) {
	expiry := time.Now().Add(time.Hour).UTC()
	flows := &fakeOAuthFlows{grant: registry.TokenGrant{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    &expiry,
		TokenType:    "Bearer",
	}}
	store := newStoreForTest(t, flows)
	ctx := context.Background()

	if err := store.OAuthCallback(ctx, 1, "oauthed", "bad-code", ""); err == nil {
		t.Fatalf("expected exchange failure for bad code")
	}
	if err := store.OAuthCallback(ctx, 1, "oauthed", "good-code", ""); err != nil {
		t.Fatalf("callback failed: %v", err)
	}

	row, err := store.ByName(ctx, 1, "oauthed")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if row.State != StateActive {
		t.Fatalf("expected ACTIVE state, got %q", row.State)
	}
	if row.OAuthToken == nil || row.OAuthToken.AccessToken != "access-1" {
		t.Fatalf("expected stored access token, got %v", row.OAuthToken)
	}
	if row.OAuthToken.RefreshToken == nil || *row.OAuthToken.RefreshToken != "refresh-1" {
		t.Fatalf("expected stored refresh token")
	}
}

func TestRegisterOAuthKeepsRefreshTokenWhenReauthOmitsIt(t *testing.T) {
	store := newStoreForTest(t, nil)
	ctx := context.Background()

	first := registry.TokenGrant{AccessToken: "access-1", RefreshToken: "refresh-1"}
	if err := store.RegisterOAuth(ctx, 1, "oauthed", first); err != nil {
		t.Fatalf("first grant failed: %v", err)
	}
	second := registry.TokenGrant{AccessToken: "access-2"}
	if err := store.RegisterOAuth(ctx, 1, "oauthed", second); err != nil {
		t.Fatalf("second grant failed: %v", err)
	}

	row, err := store.ByName(ctx, 1, "oauthed")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if row.OAuthToken.AccessToken != "access-2" {
		t.Fatalf("expected updated access token, got %q", row.OAuthToken.AccessToken)
	}
	if row.OAuthToken.RefreshToken == nil || *row.OAuthToken.RefreshToken != "refresh-1" {
		t.Fatalf("expected original refresh token to survive")
	}
}

func TestRefreshRequiresSupportedFlowAndStoredToken(t *testing.T) {
	store := newStoreForTest(t, nil)
	ctx := context.Background()

	if err := store.Refresh(ctx, 1, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown service, got %v", err)
	}

	if err := store.RegisterNoAuth(ctx, 1, "clockwork"); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := store.Refresh(ctx, 1, "clockwork"); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("expected ErrNotSupported for no-auth provider, got %v", err)
	}

	// An OAuth connection whose grant carried no refresh token.
	if err := store.RegisterOAuth(ctx, 1, "oauthed", registry.TokenGrant{AccessToken: "access"}); err != nil {
		t.Fatalf("grant failed: %v", err)
	}
	if err := store.Refresh(ctx, 1, "oauthed"); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("expected ErrNotSupported without refresh token, got %v", err)
	}
}

func TestRefreshOverwritesTokensAndReactivates(t *testing.T) {
	flows := &fakeOAuthFlows{grant: registry.TokenGrant{AccessToken: "access-2", RefreshToken: "refresh-2"}}
	store := newStoreForTest(t, flows)
	ctx := context.Background()

	if err := store.RegisterOAuth(ctx, 1, "oauthed", registry.TokenGrant{AccessToken: "access-1", RefreshToken: "refresh-1"}); err != nil {
		t.Fatalf("grant failed: %v", err)
	}
	if err := store.db.Model(&Service{}).Where("user_id = ?", 1).Update("state", StateInactive).Error; err != nil {
		t.Fatalf("failed to mark inactive: %v", err)
	}

	if err := store.Refresh(ctx, 1, "oauthed"); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	row, err := store.ByName(ctx, 1, "oauthed")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if row.State != StateActive {
		t.Fatalf("expected refresh to reactivate, got %q", row.State)
	}
	if row.OAuthToken.AccessToken != "access-2" {
		t.Fatalf("expected rotated access token, got %q", row.OAuthToken.AccessToken)
	}
	if row.OAuthToken.RefreshToken == nil || *row.OAuthToken.RefreshToken != "refresh-2" {
		t.Fatalf("expected rotated refresh token")
	}
}

func TestRefreshSurfacesProviderFailure(t *testing.T) {
	flows := &fakeOAuthFlows{refreshErr: errors.New("provider down")}
	store := newStoreForTest(t, flows)
	ctx := context.Background()

	if err := store.RegisterOAuth(ctx, 1, "oauthed", registry.TokenGrant{AccessToken: "access", RefreshToken: "refresh"}); err != nil {
		t.Fatalf("grant failed: %v", err)
	}
	if err := store.Refresh(ctx, 1, "oauthed"); !errors.Is(err, ErrRefreshFailed) {
		t.Fatalf("expected ErrRefreshFailed, got %v", err)
	}

	row, err := store.ByName(ctx, 1, "oauthed")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if row.State != StateInactive {
		t.Fatalf("expected failed refresh to mark connection INACTIVE, got %q", row.State)
	}
	if row.OAuthToken == nil || row.OAuthToken.AccessToken != "access" {
		t.Fatalf("expected stored tokens untouched, got %v", row.OAuthToken)
	}
}

func TestDeleteRemovesConnectionAndToken(t *testing.T) {
	store := newStoreForTest(t, nil)
	ctx := context.Background()

	if err := store.RegisterOAuth(ctx, 1, "oauthed", registry.TokenGrant{AccessToken: "access"}); err != nil {
		t.Fatalf("grant failed: %v", err)
	}
	if err := store.Delete(ctx, 1, "oauthed"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := store.ByName(ctx, 1, "oauthed"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected connection gone, got %v", err)
	}

	var tokens int64
	if err := store.db.Model(&OAuthToken{}).Count(&tokens).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if tokens != 0 {
		t.Fatalf("expected token row removed, found %d", tokens)
	}

	if err := store.Delete(ctx, 1, "oauthed"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on repeat delete, got %v", err)
	}
}

func TestAuthTokenByIDResolvesCredentialKinds(t *testing.T) {
	store := newStoreForTest(t, nil)
	ctx := context.Background()

	if err := store.RegisterNoAuth(ctx, 1, "clockwork"); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := store.RegisterAPIKey(ctx, 1, "keyed", "valid-key"); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := store.RegisterOAuth(ctx, 1, "oauthed", registry.TokenGrant{AccessToken: "access"}); err != nil {
		t.Fatalf("grant failed: %v", err)
	}

	noAuth, err := store.ByName(ctx, 1, "clockwork")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	token, err := store.AuthTokenByID(ctx, 1, noAuth.ID)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if token != "" {
		t.Fatalf("expected empty credential for no-auth provider, got %q", token)
	}

	keyed, err := store.ByName(ctx, 1, "keyed")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if token, err = store.AuthTokenByID(ctx, 1, keyed.ID); err != nil || token != "valid-key" {
		t.Fatalf("expected api key credential, got %q (%v)", token, err)
	}

	oauthed, err := store.ByName(ctx, 1, "oauthed")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if token, err = store.AuthTokenByID(ctx, 1, oauthed.ID); err != nil || token != "access" {
		t.Fatalf("expected oauth credential, got %q (%v)", token, err)
	}

	if _, err := store.AuthTokenByID(ctx, 2, oauthed.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for another user's connection, got %v", err)
	}
}
