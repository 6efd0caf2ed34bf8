package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "AREA"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabasePath    = "area.db"
	defaultLogLevel        = "info"
	defaultPollInterval    = 10 * time.Second
	defaultAdapterTimeout  = 15 * time.Second
	defaultTokenTTLMinutes = 60
	defaultWebhookHost     = "http://localhost:8080"
)

// AppConfig captures runtime configuration for the AREA API server.
type AppConfig struct {
	HTTPAddress    string
	DatabasePath   string
	LogLevel       string
	SigningSecret  string
	WebhookSecret  string
	WebhookHost    string
	TokenTTL       time.Duration
	PollInterval   time.Duration
	AdapterTimeout time.Duration
	Providers      ProviderConfig
}

// ProviderConfig carries the third-party credentials consumed by the provider
// adapters. A missing value disables the affected flow at runtime rather than
// at startup; only users connecting that service are affected.
type ProviderConfig struct {
	DiscordClientID     string
	DiscordClientSecret string
	DiscordBotToken     string
	DiscordRedirectURL  string
	SteamValidationID   string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("poll.interval", defaultPollInterval.String())
	configViper.SetDefault("poll.adapter_timeout", defaultAdapterTimeout.String())
	configViper.SetDefault("webhook.host", defaultWebhookHost)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabasePath:   configViper.GetString("database.path"),
		LogLevel:       configViper.GetString("log.level"),
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		WebhookSecret:  configViper.GetString("webhook.secret"),
		WebhookHost:    configViper.GetString("webhook.host"),
		TokenTTL:       time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		PollInterval:   configViper.GetDuration("poll.interval"),
		AdapterTimeout: configViper.GetDuration("poll.adapter_timeout"),
		Providers: ProviderConfig{
			DiscordClientID:     configViper.GetString("providers.discord.client_id"),
			DiscordClientSecret: configViper.GetString("providers.discord.client_secret"),
			DiscordBotToken:     configViper.GetString("providers.discord.bot_token"),
			DiscordRedirectURL:  configViper.GetString("providers.discord.redirect_url"),
			SteamValidationID:   configViper.GetString("providers.steam.validation_id"),
		},
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.WebhookSecret) == "" {
		return fmt.Errorf("webhook.secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll.interval must be positive")
	}
	if c.AdapterTimeout <= 0 {
		return fmt.Errorf("poll.adapter_timeout must be positive")
	}
	return nil
}
