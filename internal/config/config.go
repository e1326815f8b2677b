package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                  = "QUOTEDECK"
	defaultHTTPAddress         = "0.0.0.0:8080"
	defaultDatabaseDriver      = "sqlite"
	defaultDatabaseDSN         = "quotedeck.db"
	defaultLogLevel            = "info"
	defaultCookieName          = "quotedeck_session"
	defaultSessionIssuer       = "quotedeck"
	defaultSessionTTLMinutes   = 720
	defaultShareLinkBcryptCost = 10
	defaultShareLinkMaxDays    = 90
	defaultEstimateTTLSeconds  = 600
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress         string
	AllowedOrigins      []string
	DatabaseDriver      string
	DatabaseDSN         string
	LogLevel            string
	LogFile             string
	SessionSigningKey   string
	SessionIssuer       string
	SessionCookieName   string
	SessionTTL          time.Duration
	ShareLinkBcryptCost int
	ShareLinkMaxDays    int
	RedisURL            string
	EstimateCacheTTL    time.Duration
	TemplatePath        string
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
	configViper.SetDefault("http.allowed_origins", []string{})
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.file", "")
	configViper.SetDefault("session.signing_secret", "")
	configViper.SetDefault("session.issuer", defaultSessionIssuer)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("session.ttl_minutes", defaultSessionTTLMinutes)
	configViper.SetDefault("sharelink.bcrypt_cost", defaultShareLinkBcryptCost)
	configViper.SetDefault("sharelink.max_days", defaultShareLinkMaxDays)
	configViper.SetDefault("cache.redis_url", "")
	configViper.SetDefault("cache.estimate_ttl_seconds", defaultEstimateTTLSeconds)
	configViper.SetDefault("proposal.template_path", "")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:         configViper.GetString("http.address"),
		AllowedOrigins:      splitList(configViper.GetStringSlice("http.allowed_origins")),
		DatabaseDriver:      strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabaseDSN:         configViper.GetString("database.dsn"),
		LogLevel:            configViper.GetString("log.level"),
		LogFile:             strings.TrimSpace(configViper.GetString("log.file")),
		SessionSigningKey:   configViper.GetString("session.signing_secret"),
		SessionIssuer:       configViper.GetString("session.issuer"),
		SessionCookieName:   configViper.GetString("session.cookie_name"),
		SessionTTL:          time.Duration(configViper.GetInt("session.ttl_minutes")) * time.Minute,
		ShareLinkBcryptCost: configViper.GetInt("sharelink.bcrypt_cost"),
		ShareLinkMaxDays:    configViper.GetInt("sharelink.max_days"),
		RedisURL:            strings.TrimSpace(configViper.GetString("cache.redis_url")),
		EstimateCacheTTL:    time.Duration(configViper.GetInt("cache.estimate_ttl_seconds")) * time.Second,
		TemplatePath:        strings.TrimSpace(configViper.GetString("proposal.template_path")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningKey) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.DatabaseDriver != "sqlite" && c.DatabaseDriver != "postgres" {
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.DatabaseDriver)
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session.ttl_minutes must be positive")
	}
	if c.ShareLinkMaxDays <= 0 {
		return fmt.Errorf("sharelink.max_days must be positive")
	}
	return nil
}

// splitList accepts both repeated values and a single comma separated env value.
func splitList(values []string) []string {
	var result []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	return result
}
