// Package config loads process configuration from config.yaml with
// SLACK_PROXY_* environment overrides.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	AppEnv   string         `mapstructure:"app_env"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Slack    SlackConfig    `mapstructure:"slack"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type SlackConfig struct {
	BaseURL string `mapstructure:"base_url"`

	// BotToken authenticates upstream calls. Leave empty to forward the
	// caller's bearer token instead.
	BotToken string `mapstructure:"bot_token"`

	// WorkspaceID pins the deployment to one workspace. Leave empty to
	// resolve the workspace per request via auth.test.
	WorkspaceID string `mapstructure:"workspace_id"`

	SigningSecret       string        `mapstructure:"signing_secret"`
	SignatureTolerance  time.Duration `mapstructure:"signature_tolerance"`
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxRateLimitRetries int           `mapstructure:"max_rate_limit_retries"`
}

type SyncConfig struct {
	LockStaleAfter time.Duration `mapstructure:"lock_stale_after"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_env", "local")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("database.dsn", "memory://")
	v.SetDefault("slack.base_url", "https://slack.com/api")
	v.SetDefault("slack.signature_tolerance", "5m")
	v.SetDefault("slack.timeout", "10s")
	v.SetDefault("slack.max_rate_limit_retries", 5)
	v.SetDefault("sync.lock_stale_after", "10m")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Load reads the config file at path when it exists. A missing file is
// fine: defaults plus environment variables carry a full configuration.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("SLACK_PROXY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
