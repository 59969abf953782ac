package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config aggregates every setting the service reads from the environment.
type Config struct {
	Server ServerConfig
	Genie  GenieConfig
	Poll   PollConfig
	Log    LogConfig
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Port string `env:"PORT" envDefault:"8080"`
	// Addr is derived from Port.
	Addr string `env:"-"`
}

// GenieConfig locates the Genie space and the credentials to reach it.
type GenieConfig struct {
	Host          string        `env:"DATABRICKS_HOST"`
	SpaceID       string        `env:"SPACE_ID"`
	WarehouseID   string        `env:"SQL_WAREHOUSE_ID"`
	Token         string        `env:"DATABRICKS_TOKEN"`
	ClientID      string        `env:"DATABRICKS_CLIENT_ID"`
	ClientSecret  string        `env:"DATABRICKS_CLIENT_SECRET"`
	HTTPTimeout   time.Duration `env:"GENIE_HTTP_TIMEOUT" envDefault:"0s"`
	ResultCache   int           `env:"GENIE_RESULT_CACHE_SIZE" envDefault:"256"`
	SpaceCacheTTL time.Duration `env:"GENIE_SPACE_CACHE_TTL" envDefault:"5m"`
}

// PollConfig bounds how long a turn is polled and how transient failures are retried.
type PollConfig struct {
	Interval          time.Duration `env:"GENIE_POLL_INTERVAL" envDefault:"2s"`
	MaxAttempts       int           `env:"GENIE_POLL_MAX_ATTEMPTS" envDefault:"30"`
	RetryAttempts     int           `env:"GENIE_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInitialDelay time.Duration `env:"GENIE_RETRY_INITIAL_DELAY" envDefault:"500ms"`
	RetryMaxDelay     time.Duration `env:"GENIE_RETRY_MAX_DELAY" envDefault:"5s"`
}

// LogConfig selects the zerolog level and output format.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"console"`
}

// Load parses the environment. Call godotenv.Load first to honour a .env file.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	addr, err := listenAddr(cfg.Server.Port)
	if err != nil {
		return nil, err
	}
	cfg.Server.Addr = addr

	cfg.Genie.Host = strings.TrimSpace(cfg.Genie.Host)
	cfg.Genie.SpaceID = strings.TrimSpace(cfg.Genie.SpaceID)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// HasCredentials reports whether a token or a client id/secret pair is configured.
func (c GenieConfig) HasCredentials() bool {
	if strings.TrimSpace(c.Token) != "" {
		return true
	}
	return strings.TrimSpace(c.ClientID) != "" && strings.TrimSpace(c.ClientSecret) != ""
}

func (c *Config) validate() error {
	var errs []error
	if c.Genie.Host == "" {
		errs = append(errs, errors.New("DATABRICKS_HOST is required"))
	}
	if c.Genie.SpaceID == "" {
		errs = append(errs, errors.New("SPACE_ID is required"))
	}
	if c.Genie.HTTPTimeout < 0 {
		errs = append(errs, fmt.Errorf("GENIE_HTTP_TIMEOUT must not be negative, got %s", c.Genie.HTTPTimeout))
	}
	if c.Poll.Interval < 0 {
		errs = append(errs, fmt.Errorf("GENIE_POLL_INTERVAL must not be negative, got %s", c.Poll.Interval))
	}
	if c.Poll.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("GENIE_POLL_MAX_ATTEMPTS must be at least 1, got %d", c.Poll.MaxAttempts))
	}
	if c.Poll.RetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("GENIE_RETRY_ATTEMPTS must be at least 1, got %d", c.Poll.RetryAttempts))
	}
	return errors.Join(errs...)
}

// listenAddr accepts "8080", ":8080" or "127.0.0.1:8080".
func listenAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8080"
	}
	if strings.Contains(port, ":") {
		return port, nil
	}
	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}
	return ":" + port, nil
}
