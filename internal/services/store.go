// Package services is the credential store: it persists each user's
// per-provider connections (OAuth tokens or API keys) and coordinates the
// provider auth flows, including on-demand token refresh.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/arealabs/area/internal/registry"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrNotFound indicates the user has no such service connection.
	ErrNotFound = errors.New("services: not found")
	// ErrNotSupported indicates the requested auth flow does not apply to
	// the provider (wrong auth kind, or no refresh token available).
	ErrNotSupported = errors.New("services: auth flow not supported")
	// ErrInvalidKey indicates the provider rejected a submitted API key.
	ErrInvalidKey = errors.New("services: invalid api key")
	// ErrExchangeFailed indicates the provider rejected an OAuth code.
	ErrExchangeFailed = errors.New("services: code exchange failed")
	// ErrRefreshFailed indicates the provider refresh call failed.
	ErrRefreshFailed = errors.New("services: token refresh failed")

	noOpLogger = zap.NewNop()
)

// StoreConfig describes the dependencies of the credential store.
type StoreConfig struct {
	Database *gorm.DB
	Registry *registry.Registry
	Logger   *zap.Logger
}

// Store persists Service/OAuthToken rows and drives provider auth flows.
type Store struct {
	db       *gorm.DB
	registry *registry.Registry
	logger   *zap.Logger
}

// NewStore constructs the credential store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("services: database connection required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("services: registry required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{db: cfg.Database, registry: cfg.Registry, logger: logger}, nil
}

// CatalogAuth is the public description of a provider's auth strategy.
type CatalogAuth struct {
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
	Hint string `json:"hint,omitempty"`
}

// CatalogCapability is the public description of one action or reaction.
type CatalogCapability struct {
	Title       string               `json:"title"`
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Form        []registry.FormField `json:"form"`
}

// CatalogEntry is the public description of one provider.
type CatalogEntry struct {
	Name      string              `json:"name"`
	Color     string              `json:"color"`
	Auth      CatalogAuth         `json:"auth"`
	Actions   []CatalogCapability `json:"actions"`
	Reactions []CatalogCapability `json:"reactions"`
}

// Catalog lists every registered provider with its auth entry point. The
// redirect override is threaded into OAuth authorization URLs when set.
func (s *Store) Catalog(state, redirect string) []CatalogEntry {
	definitions := s.registry.All()
	entries := make([]CatalogEntry, 0, len(definitions))
	for _, definition := range definitions {
		entry := CatalogEntry{
			Name:  definition.Name,
			Color: definition.Color,
			Auth:  CatalogAuth{Type: string(definition.Auth.Kind), Hint: definition.Auth.Hint},
		}
		if definition.Auth.Kind == registry.AuthOAuth2 && definition.Auth.OAuth != nil {
			entry.Auth.URL = definition.Auth.OAuth.AuthorizationURL(state, redirect)
		}
		for _, action := range definition.Actions {
			entry.Actions = append(entry.Actions, CatalogCapability{
				Title:       action.Title,
				Name:        action.Name,
				Description: action.Description,
				Form:        action.Form,
			})
		}
		for _, reaction := range definition.Reactions {
			entry.Reactions = append(entry.Reactions, CatalogCapability{
				Title:       reaction.Title,
				Name:        reaction.Name,
				Description: reaction.Description,
				Form:        reaction.Form,
			})
		}
		entries = append(entries, entry)
	}
	return entries
}

// Summary describes one of a user's connected services.
type Summary struct {
	ID    uint   `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
	State string `json:"state"`
	Type  string `json:"type"`
}

// ListMine returns the caller's connected services.
func (s *Store) ListMine(ctx context.Context, userID uint) ([]Summary, error) {
	var rows []Service
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, err
	}

	summaries := make([]Summary, 0, len(rows))
	for _, row := range rows {
		definition, err := s.registry.Service(row.Name)
		if err != nil {
			// A connection for a provider no longer in the catalog; keep
			// the row visible rather than hiding the user's data.
			summaries = append(summaries, Summary{ID: row.ID, Name: row.Name, State: row.State})
			continue
		}
		summaries = append(summaries, Summary{
			ID:    row.ID,
			Name:  row.Name,
			Color: definition.Color,
			State: row.State,
			Type:  string(definition.Auth.Kind),
		})
	}
	return summaries, nil
}

// RegisterNoAuth activates a provider that needs no credentials (including
// webhook providers). Idempotent per (user, provider).
func (s *Store) RegisterNoAuth(ctx context.Context, userID uint, name string) error {
	definition, err := s.registry.Service(name)
	if err != nil {
		return fmt.Errorf("%w: service %q", ErrNotFound, name)
	}
	if definition.Auth.Kind != registry.AuthNone && definition.Auth.Kind != registry.AuthWebhook {
		return fmt.Errorf("%w: %s requires %s auth", ErrNotSupported, name, definition.Auth.Kind)
	}

	var existing Service
	err = s.db.WithContext(ctx).Where("user_id = ? AND name = ?", userID, name).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	row := Service{UserID: userID, Name: name, State: StateActive}
	return s.db.WithContext(ctx).Create(&row).Error
}

// RegisterAPIKey validates the key with the provider and stores it.
func (s *Store) RegisterAPIKey(ctx context.Context, userID uint, name, apiKey string) error {
	definition, err := s.registry.Service(name)
	if err != nil {
		return fmt.Errorf("%w: service %q", ErrNotFound, name)
	}
	if definition.Auth.Kind != registry.AuthAPIKey || definition.Auth.APIKey == nil {
		return fmt.Errorf("%w: %s does not use api keys", ErrNotSupported, name)
	}

	if err := definition.Auth.APIKey.Validate(ctx, apiKey); err != nil {
		s.logger.Warn("api key validation failed",
			zap.String("service", name), zap.Uint("user_id", userID), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	var existing Service
	err = s.db.WithContext(ctx).Where("user_id = ? AND name = ?", userID, name).First(&existing).Error
	if err == nil {
		return s.db.WithContext(ctx).Model(&existing).
			Updates(map[string]interface{}{"api_key": apiKey, "state": StateActive}).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	row := Service{UserID: userID, Name: name, State: StateActive, APIKey: &apiKey}
	return s.db.WithContext(ctx).Create(&row).Error
}

// OAuthAuthorizationURL builds the consent URL for an OAuth provider.
func (s *Store) OAuthAuthorizationURL(name, state, redirect string) (string, error) {
	definition, err := s.registry.Service(name)
	if err != nil {
		return "", fmt.Errorf("%w: service %q", ErrNotFound, name)
	}
	if definition.Auth.Kind != registry.AuthOAuth2 || definition.Auth.OAuth == nil {
		return "", fmt.Errorf("%w: %s does not use oauth2", ErrNotSupported, name)
	}
	return definition.Auth.OAuth.AuthorizationURL(state, redirect), nil
}

// OAuthCallback exchanges the authorization code and persists the grant,
// activating the service connection.
func (s *Store) OAuthCallback(ctx context.Context, userID uint, name, code, redirect string) error {
	definition, err := s.registry.Service(name)
	if err != nil {
		return fmt.Errorf("%w: service %q", ErrNotFound, name)
	}
	if definition.Auth.Kind != registry.AuthOAuth2 || definition.Auth.OAuth == nil {
		return fmt.Errorf("%w: %s does not use oauth2", ErrNotSupported, name)
	}

	grant, err := definition.Auth.OAuth.Exchange(ctx, code, redirect)
	if err != nil {
		s.logger.Warn("oauth code exchange failed",
			zap.String("service", name), zap.Uint("user_id", userID), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	return s.RegisterOAuth(ctx, userID, name, grant)
}

// RegisterOAuth stores a token grant, creating or updating the service row
// and marking it ACTIVE.
func (s *Store) RegisterOAuth(ctx context.Context, userID uint, name string, grant registry.TokenGrant) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Service
		err := tx.Preload("OAuthToken").
			Where("user_id = ? AND name = ?", userID, name).
			First(&existing).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if err == nil && existing.OAuthToken != nil {
			updates := map[string]interface{}{
				"access_token": grant.AccessToken,
				"token_type":   grant.TokenType,
				"expires_at":   grant.ExpiresAt,
				"metadata":     string(grant.Metadata),
			}
			if grant.RefreshToken != "" {
				updates["refresh_token"] = grant.RefreshToken
			}
			if err := tx.Model(existing.OAuthToken).Updates(updates).Error; err != nil {
				return err
			}
			return tx.Model(&existing).Update("state", StateActive).Error
		}

		if errors.Is(err, gorm.ErrRecordNotFound) {
			existing = Service{UserID: userID, Name: name, State: StateActive}
			if err := tx.Create(&existing).Error; err != nil {
				return err
			}
		}

		token := OAuthToken{
			ServiceID:   existing.ID,
			AccessToken: grant.AccessToken,
			TokenType:   grant.TokenType,
			ExpiresAt:   grant.ExpiresAt,
			Metadata:    string(grant.Metadata),
		}
		if grant.RefreshToken != "" {
			refresh := grant.RefreshToken
			token.RefreshToken = &refresh
		}
		if err := tx.Create(&token).Error; err != nil {
			return err
		}
		return tx.Model(&existing).Update("state", StateActive).Error
	})
}

// Delete removes the connection and its token.
func (s *Store) Delete(ctx context.Context, userID uint, name string) error {
	row, err := s.ByName(ctx, userID, name)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("service_id = ?", row.ID).Delete(&OAuthToken{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Service{}, row.ID).Error
	})
}

// Refresh exchanges the stored refresh token for a fresh grant. Providers
// without a refresh flow, and connections without a stored refresh token,
// are rejected with ErrNotSupported. A provider failure marks the
// connection INACTIVE until a later refresh or re-auth succeeds.
func (s *Store) Refresh(ctx context.Context, userID uint, name string) error {
	definition, err := s.registry.Service(name)
	if err != nil {
		return fmt.Errorf("%w: service %q", ErrNotFound, name)
	}

	row, err := s.ByName(ctx, userID, name)
	if err != nil {
		return err
	}
	if definition.Auth.Kind != registry.AuthOAuth2 || definition.Auth.OAuth == nil {
		return fmt.Errorf("%w: %s does not use oauth2", ErrNotSupported, name)
	}
	if row.OAuthToken == nil || row.OAuthToken.RefreshToken == nil || *row.OAuthToken.RefreshToken == "" {
		return fmt.Errorf("%w: no refresh token stored for %s", ErrNotSupported, name)
	}

	grant, err := definition.Auth.OAuth.Refresh(ctx, *row.OAuthToken.RefreshToken)
	if errors.Is(err, registry.ErrRefreshUnsupported) {
		return fmt.Errorf("%w: %s", ErrNotSupported, name)
	}
	if err != nil {
		s.logger.Error("token refresh failed",
			zap.String("service", name), zap.Uint("user_id", userID), zap.Error(err))
		// The stored credentials are now known stale.
		if markErr := s.db.WithContext(ctx).Model(&Service{}).
			Where("id = ?", row.ID).
			Update("state", StateInactive).Error; markErr != nil {
			s.logger.Error("failed to mark connection inactive",
				zap.String("service", name), zap.Error(markErr))
		}
		return fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"access_token": grant.AccessToken,
			"token_type":   grant.TokenType,
			"expires_at":   grant.ExpiresAt,
		}
		if grant.RefreshToken != "" {
			updates["refresh_token"] = grant.RefreshToken
		}
		if err := tx.Model(row.OAuthToken).Updates(updates).Error; err != nil {
			return err
		}
		return tx.Model(&Service{}).Where("id = ?", row.ID).Update("state", StateActive).Error
	})
}

// ByName loads the caller's connection for a provider name.
func (s *Store) ByName(ctx context.Context, userID uint, name string) (Service, error) {
	var row Service
	err := s.db.WithContext(ctx).Preload("OAuthToken").
		Where("user_id = ? AND name = ?", userID, name).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Service{}, fmt.Errorf("%w: service %q", ErrNotFound, name)
	}
	if err != nil {
		return Service{}, err
	}
	return row, nil
}

// ByID loads the caller's connection by row id.
func (s *Store) ByID(ctx context.Context, userID, serviceID uint) (Service, error) {
	var row Service
	err := s.db.WithContext(ctx).Preload("OAuthToken").
		Where("id = ? AND user_id = ?", serviceID, userID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Service{}, fmt.Errorf("%w: service id %d", ErrNotFound, serviceID)
	}
	if err != nil {
		return Service{}, err
	}
	return row, nil
}

// AuthTokenByID resolves the credential an adapter call should use for a
// service row. The empty string is a legitimate value for providers without
// auth; a missing service row is an error.
func (s *Store) AuthTokenByID(ctx context.Context, userID, serviceID uint) (string, error) {
	row, err := s.ByID(ctx, userID, serviceID)
	if err != nil {
		return "", err
	}
	if row.OAuthToken != nil {
		return row.OAuthToken.AccessToken, nil
	}
	if row.APIKey != nil {
		return *row.APIKey, nil
	}
	return "", nil
}
