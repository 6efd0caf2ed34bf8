package services

import "time"

// Service state values. INACTIVE marks a connection whose credentials are
// known to be stale (for example after a failed refresh).
const (
	StateActive   = "ACTIVE"
	StateInactive = "INACTIVE"
)

// Service is a user's authenticated connection to one provider. At most one
// row exists per (user, provider name).
type Service struct {
	ID         uint        `gorm:"column:id;primaryKey;autoIncrement"`
	UserID     uint        `gorm:"column:user_id;not null;uniqueIndex:idx_services_user_name,priority:1"`
	Name       string      `gorm:"column:name;size:190;not null;uniqueIndex:idx_services_user_name,priority:2"`
	State      string      `gorm:"column:state;size:16;not null;default:'ACTIVE'"`
	APIKey     *string     `gorm:"column:api_key;size:512"`
	OAuthToken *OAuthToken `gorm:"foreignKey:ServiceID;constraint:OnDelete:CASCADE"`
	CreatedAt  time.Time   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time   `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Service) TableName() string {
	return "services"
}

// OAuthToken holds the OAuth2 grant owned by exactly one Service. It never
// outlives its service row.
type OAuthToken struct {
	ID           uint       `gorm:"column:id;primaryKey;autoIncrement"`
	ServiceID    uint       `gorm:"column:service_id;not null;uniqueIndex"`
	AccessToken  string     `gorm:"column:access_token;size:2048;not null"`
	RefreshToken *string    `gorm:"column:refresh_token;size:2048"`
	ExpiresAt    *time.Time `gorm:"column:expires_at"`
	TokenType    string     `gorm:"column:token_type;size:64;not null;default:''"`
	Metadata     string     `gorm:"column:metadata;type:text;not null;default:''"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (OAuthToken) TableName() string {
	return "oauth_tokens"
}

// Credential returns the token an adapter call should present for this
// connection. Empty for providers that need no auth.
func (s Service) Credential() string {
	if s.OAuthToken != nil {
		return s.OAuthToken.AccessToken
	}
	if s.APIKey != nil {
		return *s.APIKey
	}
	return ""
}
