package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/ecclesia-org/ecclesia/internal/logging"
)

const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Config holds all application configuration
type Config struct {
	Environment string `mapstructure:"environment"`
	DatabaseURL string `mapstructure:"database_url"`
	RedisURL    string `mapstructure:"redis_url"`
	Port        string `mapstructure:"port"`
	PublicURL   string `mapstructure:"public_url"`

	// TrustedProxies lists the addresses or CIDR ranges allowed to set
	// X-Forwarded-For. Empty means the TCP peer is always the client.
	TrustedProxies []string `mapstructure:"trusted_proxies"`

	Session     SessionConfig     `mapstructure:"session"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Audit       AuditConfig       `mapstructure:"audit"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Log         LogConfig         `mapstructure:"log"`
	SMTP        SMTPConfig        `mapstructure:"smtp"`
	Activation  ActivationConfig  `mapstructure:"activation"`
}

type SessionConfig struct {
	AbsoluteTimeout time.Duration `mapstructure:"absolute_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	CookieName      string        `mapstructure:"cookie_name"`
	// CookieMode is auto, relaxed or strict. auto picks relaxed for
	// development hosts and strict everywhere else.
	CookieMode string   `mapstructure:"cookie_mode"`
	DevHosts   []string `mapstructure:"dev_hosts"`
}

type RateLimitConfig struct {
	LoginMaxAttempts int           `mapstructure:"login_max_attempts"`
	LoginWindow      time.Duration `mapstructure:"login_window"`
}

type AuditConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
}

type MaintenanceConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type ActivationConfig struct {
	Secret   string        `mapstructure:"secret"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// App holds the global config instance
var App Config

// IsProduction reports whether verbose errors and relaxed cookies must be off
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, EnvProduction)
}

// IsDevelopment reports whether the process runs on a developer machine
func (c Config) IsDevelopment() bool {
	return c.Environment == "" || strings.EqualFold(c.Environment, EnvDevelopment)
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(path string) error {
	// .env is a local convenience; absence is normal in containers
	if err := godotenv.Load(); err == nil {
		logging.Info().Msg("loaded .env file")
	}

	v := viper.New()

	v.SetDefault("environment", EnvDevelopment)
	v.SetDefault("port", "8080")
	v.SetDefault("trusted_proxies", []string{})
	v.SetDefault("session.absolute_timeout", 1800*time.Second)
	v.SetDefault("session.idle_timeout", 900*time.Second)
	v.SetDefault("session.cookie_name", "ecclesia_session")
	v.SetDefault("session.cookie_mode", "auto")
	v.SetDefault("session.dev_hosts", []string{"localhost", "127.0.0.1", "::1", ".ngrok-free.app", ".ngrok.io", ".trycloudflare.com"})
	v.SetDefault("rate_limit.login_max_attempts", 5)
	v.SetDefault("rate_limit.login_window", 300*time.Second)
	v.SetDefault("audit.retention_days", 90)
	v.SetDefault("maintenance.interval", time.Hour)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("activation.token_ttl", 7*24*time.Hour)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.SetConfigName("dev.config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("ecclesia")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	_ = v.BindEnv("environment", "APP_ENV")
	_ = v.BindEnv("database_url", "DATABASE_URL")
	_ = v.BindEnv("redis_url", "REDIS_URL")
	_ = v.BindEnv("port", "PORT")
	_ = v.BindEnv("public_url", "PUBLIC_URL")
	_ = v.BindEnv("trusted_proxies", "TRUSTED_PROXIES")

	_ = v.BindEnv("smtp.host", "SMTP_HOST")
	_ = v.BindEnv("smtp.port", "SMTP_PORT")
	_ = v.BindEnv("smtp.username", "SMTP_USERNAME")
	_ = v.BindEnv("smtp.password", "SMTP_PASSWORD")
	_ = v.BindEnv("smtp.from", "SMTP_FROM")
	_ = v.BindEnv("activation.secret", "ACTIVATION_SECRET")
	_ = v.BindEnv("log.level", "LOG_LEVEL")
	_ = v.BindEnv("log.format", "LOG_FORMAT")

	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logging.Info().Msg("no config file found, using defaults and environment variables")
		} else {
			return err
		}
	} else {
		logging.Info().Str("file", v.ConfigFileUsed()).Msg("loaded config file")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return err
	}
	App = cfg
	return nil
}
