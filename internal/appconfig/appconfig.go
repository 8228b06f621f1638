// Package appconfig loads the process configuration of the authgate server.
//
// Values are layered: Default, then an optional YAML file, then AUTHGATE_*
// environment variables. A variable that is not set leaves the lower layers
// untouched.
package appconfig

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/MrEthical07/authgate"
	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "AUTHGATE_"

// PathEnv names the variable consulted when no -config flag is given.
const PathEnv = EnvPrefix + "CONFIG"

type Config struct {
	Server  ServerConfig  `yaml:"server" envPrefix:"SERVER_"`
	Storage StorageConfig `yaml:"storage" envPrefix:"STORAGE_"`
	Redis   RedisConfig   `yaml:"redis" envPrefix:"REDIS_"`
	Mail    MailConfig    `yaml:"mail" envPrefix:"MAIL_"`
	Auth    AuthConfig    `yaml:"auth" envPrefix:"AUTH_"`
	Log     LogConfig     `yaml:"log" envPrefix:"LOG_"`
	Sweeper SweeperConfig `yaml:"sweeper" envPrefix:"SWEEPER_"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR"`
	Prefix          string        `yaml:"prefix" env:"PREFIX"`
	TrustProxy      bool          `yaml:"trust_proxy" env:"TRUST_PROXY"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	Metrics         bool          `yaml:"metrics" env:"METRICS"`
}

// StorageConfig selects the backends. Sessions may live in Redis while the
// rest stays in Driver.
type StorageConfig struct {
	Driver         string `yaml:"driver" env:"DRIVER"`
	Sessions       string `yaml:"sessions" env:"SESSIONS"`
	DSN            string `yaml:"dsn" env:"DSN"`
	MigrateOnStart bool   `yaml:"migrate_on_start" env:"MIGRATE_ON_START"`
}

// RedisConfig is optional. An empty Addr disables rate limiting.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	Prefix   string `yaml:"prefix" env:"PREFIX"`
}

type MailConfig struct {
	// Provider is resend, log or none. none runs one-time tokens in test mode.
	Provider     string `yaml:"provider" env:"PROVIDER"`
	ResendAPIKey string `yaml:"-" env:"RESEND_API_KEY"`
	ResendURL    string `yaml:"resend_url" env:"RESEND_URL"`
	From         string `yaml:"from" env:"FROM"`
	LinkBaseURL  string `yaml:"link_base_url" env:"LINK_BASE_URL"`
}

type AuthConfig struct {
	Production    bool          `yaml:"production" env:"PRODUCTION"`
	Disabled      bool          `yaml:"disabled" env:"DISABLED"`
	AccessSecret  string        `yaml:"-" env:"ACCESS_SECRET"`
	RefreshSecret string        `yaml:"-" env:"REFRESH_SECRET"`
	AccessTTL     time.Duration `yaml:"access_ttl" env:"ACCESS_TTL"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl" env:"REFRESH_TTL"`
	PasswordCost  int           `yaml:"password_cost" env:"PASSWORD_COST"`
	ExposeTokens  bool          `yaml:"expose_tokens" env:"EXPOSE_TOKENS"`
	TOTPIssuer    string        `yaml:"totp_issuer" env:"TOTP_ISSUER"`
	Audit         bool          `yaml:"audit" env:"AUDIT"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	// Format is json or text. Empty picks json in production.
	Format string `yaml:"format" env:"FORMAT"`
}

type SweeperConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	Schedule string `yaml:"schedule" env:"SCHEDULE"`
}

// Default returns the configuration of a local development server.
func Default() Config {
	engine := authgate.DefaultConfig()
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			Prefix:          "/v1",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			Metrics:         true,
		},
		Storage: StorageConfig{
			Driver:         "memory",
			MigrateOnStart: true,
		},
		Redis: RedisConfig{
			Prefix: "authgate",
		},
		Mail: MailConfig{
			Provider:    "log",
			LinkBaseURL: engine.OneTime.BaseURL,
		},
		Auth: AuthConfig{
			AccessTTL:    engine.Token.AccessTTL,
			RefreshTTL:   engine.Token.RefreshTTL,
			PasswordCost: engine.Password.HighCost,
			TOTPIssuer:   engine.TOTP.Issuer,
		},
		Log: LogConfig{
			Level: "info",
		},
		Sweeper: SweeperConfig{
			Enabled:  true,
			Schedule: "@every 1h",
		},
	}
}

// Load layers path (if not empty) and the process environment over Default.
func Load(path string) (Config, error) {
	return load(path, env.Options{Prefix: EnvPrefix})
}

// LoadEnviron is Load with an explicit environment instead of os.Environ.
func LoadEnviron(path string, environ map[string]string) (Config, error) {
	return load(path, env.Options{Prefix: EnvPrefix, Environment: environ})
}

func load(path string, opts env.Options) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the process-level settings. Engine settings are checked by
// Engine.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			return errors.New("storage.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}

	switch c.Storage.Sessions {
	case "", c.Storage.Driver:
	case "redis":
		if c.Redis.Addr == "" {
			return errors.New("redis.addr is required when sessions are stored in redis")
		}
	default:
		return fmt.Errorf("unknown storage.sessions %q", c.Storage.Sessions)
	}

	switch c.Mail.Provider {
	case "log", "none":
	case "resend":
		if c.Mail.ResendAPIKey == "" || c.Mail.From == "" {
			return errors.New("mail.from and AUTHGATE_MAIL_RESEND_API_KEY are required for resend")
		}
	default:
		return fmt.Errorf("unknown mail.provider %q", c.Mail.Provider)
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("unknown log.format %q", c.Log.Format)
	}

	if c.Auth.Production && c.Auth.Disabled {
		return errors.New("auth.disabled is not allowed in production")
	}
	return nil
}

// Engine derives the engine configuration and validates it.
func (c Config) Engine() (authgate.Config, error) {
	cfg := authgate.DefaultConfig()

	cfg.Security.ProductionMode = c.Auth.Production
	if c.Auth.AccessSecret != "" {
		cfg.Token.AccessKey = []byte(c.Auth.AccessSecret)
	}
	if c.Auth.RefreshSecret != "" {
		cfg.Token.RefreshKey = []byte(c.Auth.RefreshSecret)
	}
	cfg.Token.AccessTTL = c.Auth.AccessTTL
	cfg.Token.RefreshTTL = c.Auth.RefreshTTL
	cfg.Password.HighCost = c.Auth.PasswordCost
	cfg.TOTP.Issuer = c.Auth.TOTPIssuer

	cfg.OneTime.BaseURL = c.Mail.LinkBaseURL
	cfg.OneTime.TestMode = c.Mail.Provider == "none"
	cfg.OneTime.ExposeTokens = c.Auth.ExposeTokens

	cfg.Audit.Enabled = c.Auth.Audit
	if c.Redis.Prefix != "" {
		cfg.RateLimit.KeySpace = c.Redis.Prefix + ":rl"
	}

	if err := cfg.Validate(); err != nil {
		return authgate.Config{}, fmt.Errorf("engine config: %w", err)
	}
	return cfg, nil
}

// Logger builds the process logger.
func (c Config) Logger() *logrus.Logger {
	log := logrus.New()
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	format := c.Log.Format
	if format == "" && c.Auth.Production {
		format = "json"
	}
	if format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}
