package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                  = "LETTUCE"
	defaultHTTPAddress         = "0.0.0.0:8080"
	defaultDatabaseDriver      = "sqlite"
	defaultDatabasePath        = "lettuce.db"
	defaultLogLevel            = "info"
	defaultCookieName          = "app_session"
	defaultSessionIssuer       = "lettuce-auth"
	defaultGridWidth           = 35
	defaultGridHeight          = 25
	defaultDropSchedule        = "0 0 14 * * *"
	defaultPlayerCountSchedule = "0 */5 * * * *"
	defaultDebounceWindow      = 15 * time.Second
	defaultNotifierQueueSize   = 256
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress         string
	TAuthSigningKey     string
	TAuthCookieName     string
	TAuthIssuer         string
	DatabaseDriver      string
	DatabasePath        string
	DatabaseDSN         string
	LogLevel            string
	GridWidth           int
	GridHeight          int
	DropSchedule        string
	PlayerCountSchedule string
	WebhookURL          string
	PreviewBaseURL      string
	DebounceWindow      time.Duration
	NotifierQueueSize   int
	OTelEndpoint        string
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
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("tauth.cookie_name", defaultCookieName)
	configViper.SetDefault("tauth.issuer", defaultSessionIssuer)
	configViper.SetDefault("grid.width", defaultGridWidth)
	configViper.SetDefault("grid.height", defaultGridHeight)
	configViper.SetDefault("schedule.drop", defaultDropSchedule)
	configViper.SetDefault("schedule.player_count", defaultPlayerCountSchedule)
	configViper.SetDefault("notifier.webhook_url", "")
	configViper.SetDefault("notifier.preview_base_url", "")
	configViper.SetDefault("notifier.debounce_window", defaultDebounceWindow)
	configViper.SetDefault("notifier.queue_size", defaultNotifierQueueSize)
	configViper.SetDefault("otel.endpoint", "")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:         configViper.GetString("http.address"),
		TAuthSigningKey:     configViper.GetString("tauth.signing_secret"),
		TAuthCookieName:     configViper.GetString("tauth.cookie_name"),
		TAuthIssuer:         configViper.GetString("tauth.issuer"),
		DatabaseDriver:      strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:        configViper.GetString("database.path"),
		DatabaseDSN:         configViper.GetString("database.dsn"),
		LogLevel:            configViper.GetString("log.level"),
		GridWidth:           configViper.GetInt("grid.width"),
		GridHeight:          configViper.GetInt("grid.height"),
		DropSchedule:        configViper.GetString("schedule.drop"),
		PlayerCountSchedule: configViper.GetString("schedule.player_count"),
		WebhookURL:          configViper.GetString("notifier.webhook_url"),
		PreviewBaseURL:      strings.TrimRight(configViper.GetString("notifier.preview_base_url"), "/"),
		DebounceWindow:      configViper.GetDuration("notifier.debounce_window"),
		NotifierQueueSize:   configViper.GetInt("notifier.queue_size"),
		OTelEndpoint:        configViper.GetString("otel.endpoint"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.TAuthSigningKey) == "" {
		return fmt.Errorf("tauth.signing_secret is required")
	}
	if strings.TrimSpace(c.TAuthCookieName) == "" {
		return fmt.Errorf("tauth.cookie_name is required")
	}
	switch c.DatabaseDriver {
	case "sqlite":
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case "postgres":
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported database.driver %q", c.DatabaseDriver)
	}
	if c.GridWidth <= 0 || c.GridHeight <= 0 {
		return fmt.Errorf("grid dimensions must be positive, got %dx%d", c.GridWidth, c.GridHeight)
	}
	if strings.TrimSpace(c.DropSchedule) == "" {
		return fmt.Errorf("schedule.drop is required")
	}
	if c.DebounceWindow <= 0 {
		return fmt.Errorf("notifier.debounce_window must be positive")
	}
	if c.NotifierQueueSize <= 0 {
		return fmt.Errorf("notifier.queue_size must be positive")
	}
	return nil
}
