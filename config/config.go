package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	DefaultPerPage = 10
	MaxPerPage     = 50
)

type Config struct {
	Env            string `env:"ENVIRONMENT" envDefault:"development"`
	ServerPort     int    `env:"SERVER_PORT" envDefault:"8080"`
	BasicAuthCreds string `env:"BASIC_AUTH_CREDS"`
	DatabasePath   string `env:"DATABASE_PATH" envDefault:"hubdeck.sqlite"`

	GitHub struct {
		BaseURL           string  `env:"BASE_URL" envDefault:"https://api.github.com"`
		Token             string  `env:"TOKEN"`
		PerPage           int     `env:"PER_PAGE" envDefault:"10"`
		RequestsPerSecond float64 `env:"REQUESTS_PER_SECOND" envDefault:"5"`
		TimeoutSecs       int     `env:"TIMEOUT_SECS" envDefault:"20"`
	} `envPrefix:"GITHUB_"`

	Poll struct {
		IntervalSecs int `env:"INTERVAL_SECS" envDefault:"60"`
		Concurrency  int `env:"CONCURRENCY" envDefault:"5"`
		ItemTTLHours int `env:"ITEM_TTL_HOURS" envDefault:"720"`
	} `envPrefix:"POLL_"`

	Mailgun struct {
		Domain      string `env:"DOMAIN"`
		APIKey      string `env:"API_KEY"`
		SenderFrom  string `env:"SENDER_FROM" envDefault:"hubdeck <noreply@hubdeck.dev>"`
		Recipient   string `env:"RECIPIENT"`
		TimeoutSecs int    `env:"TIMEOUT_SECS" envDefault:"10"`
	} `envPrefix:"MAILGUN_"`

	log   *zap.Logger
	creds map[string]string
}

func NewConfig(lc fx.Lifecycle, log *zap.Logger) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	cfg.log = log

	creds, err := cfg.parseCreds()
	switch {
	case err == nil:
	case cfg.BasicAuthCreds == "" && cfg.IsDevelopment():
		log.Sugar().Infof("%s (credentials will be set to default in development env)", err)
		creds = map[string]string{"admin": "password"}
	case cfg.BasicAuthCreds == "":
		log.Sugar().Warn(err)
	default:
		return nil, err
	}
	cfg.creds = creds

	return cfg, nil
}

// Load reads the environment without resolving credentials.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, cfg.Validate()
}

func (cfg *Config) Validate() error {
	if cfg.GitHub.BaseURL == "" {
		return errors.New("GITHUB_BASE_URL must not be empty")
	}
	if cfg.Poll.IntervalSecs <= 0 {
		return fmt.Errorf("POLL_INTERVAL_SECS must be positive: %d", cfg.Poll.IntervalSecs)
	}
	if cfg.Poll.Concurrency <= 0 {
		return fmt.Errorf("POLL_CONCURRENCY must be positive: %d", cfg.Poll.Concurrency)
	}
	cfg.GitHub.BaseURL = strings.TrimRight(cfg.GitHub.BaseURL, "/")
	cfg.GitHub.PerPage = ClampPerPage(cfg.GitHub.PerPage)
	return nil
}

func (cfg *Config) IsDevelopment() bool {
	return cfg.Env == "development"
}

func (cfg *Config) GetCreds() map[string]string {
	return cfg.creds
}

func (cfg *Config) PollInterval() time.Duration {
	return time.Duration(cfg.Poll.IntervalSecs) * time.Second
}

func (cfg *Config) RequestTimeout() time.Duration {
	return time.Duration(cfg.GitHub.TimeoutSecs) * time.Second
}

func (cfg *Config) ItemTTL() time.Duration {
	return time.Duration(cfg.Poll.ItemTTLHours) * time.Hour
}

// ClampPerPage bounds a page size to [1, MaxPerPage], substituting the
// default for unset values.
func ClampPerPage(perPage int) int {
	if perPage <= 0 {
		return DefaultPerPage
	}
	return min(perPage, MaxPerPage)
}

func (cfg *Config) parseCreds() (map[string]string, error) {
	if cfg.BasicAuthCreds == "" {
		return nil, errors.New("BASIC_AUTH_CREDS envvar must be populated")
	}

	creds := strings.Split(cfg.BasicAuthCreds, ",")
	result := make(map[string]string)
	for _, cred := range creds {
		userPass := strings.Split(cred, ":")
		if len(userPass) != 2 {
			return nil, fmt.Errorf("failed to parse '%s', each credential should be delimited by a colon -- user1:pass1,user2:pass2", cred)
		}

		user, pass := userPass[0], userPass[1]
		result[strings.Trim(user, " ")] = strings.Trim(pass, " ")
	}

	return result, nil
}
