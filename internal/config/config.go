package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "DRIFT"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "drift.db"
	defaultLogLevel     = "info"
	defaultTokenIssuer  = "drift-auth"
	defaultAudience     = "drift-api"
	defaultTokenTTLMin  = 60
	defaultCacheTTLMin  = 60
	defaultMaxAttempts  = 3
	defaultRetryDelayMS = 1500
	defaultLocation     = "India"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress      string
	DatabasePath     string
	LogLevel         string
	SigningSecret    string
	TokenIssuer      string
	TokenAudience    string
	IdentityIssuer   string
	IdentityJWKSURL  string
	IdentityAudience string
	TokenTTL         time.Duration
	CacheTTL         time.Duration
	RetryMaxAttempts int
	RetryDelay       time.Duration
	ListingsBaseURL  string
	ListingsLocation string
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
	configViper.SetDefault("auth.token_issuer", defaultTokenIssuer)
	configViper.SetDefault("auth.token_audience", defaultAudience)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMin)
	configViper.SetDefault("cache.ttl_minutes", defaultCacheTTLMin)
	configViper.SetDefault("retry.max_attempts", defaultMaxAttempts)
	configViper.SetDefault("retry.delay_ms", defaultRetryDelayMS)
	configViper.SetDefault("listings.location", defaultLocation)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:      configViper.GetString("http.address"),
		DatabasePath:     configViper.GetString("database.path"),
		LogLevel:         configViper.GetString("log.level"),
		SigningSecret:    configViper.GetString("auth.signing_secret"),
		TokenIssuer:      configViper.GetString("auth.token_issuer"),
		TokenAudience:    configViper.GetString("auth.token_audience"),
		IdentityIssuer:   configViper.GetString("auth.issuer"),
		IdentityJWKSURL:  configViper.GetString("auth.jwks_url"),
		IdentityAudience: configViper.GetString("auth.audience"),
		TokenTTL:         time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		CacheTTL:         time.Duration(configViper.GetInt("cache.ttl_minutes")) * time.Minute,
		RetryMaxAttempts: configViper.GetInt("retry.max_attempts"),
		RetryDelay:       time.Duration(configViper.GetInt("retry.delay_ms")) * time.Millisecond,
		ListingsBaseURL:  configViper.GetString("listings.base_url"),
		ListingsLocation: configViper.GetString("listings.location"),
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
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.IdentityJWKSURL) == "" {
		return fmt.Errorf("auth.jwks_url is required")
	}
	if strings.TrimSpace(c.IdentityIssuer) == "" {
		return fmt.Errorf("auth.issuer is required")
	}
	if strings.TrimSpace(c.IdentityAudience) == "" {
		return fmt.Errorf("auth.audience is required")
	}
	if strings.TrimSpace(c.ListingsBaseURL) == "" {
		return fmt.Errorf("listings.base_url is required")
	}
	return nil
}
