package config

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/BradyMeighan/WhoopGPT/internal/errors"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for WhoopGPT.
type Config struct {
	// WHOOP developer application credentials.
	ClientID     string `env:"WHOOP_CLIENT_ID"`
	ClientSecret string `env:"WHOOP_CLIENT_SECRET"`
	RedirectURI  string `env:"WHOOP_REDIRECT_URI"`

	// EncryptionKey is the passphrase the credential cipher key is derived from.
	EncryptionKey string `env:"ENCRYPTION_KEY"`

	// SessionSecret signs session cookies. When empty a random key is
	// generated at startup and sessions do not survive a restart.
	SessionSecret string `env:"SESSION_SECRET"`

	Port int `env:"PORT" envDefault:"3000"`

	// BaseURL is the public URL of this server, used for auth_url in
	// challenges and in the OpenAPI document. Defaults to
	// http://localhost:PORT.
	BaseURL string `env:"BASE_URL"`

	// Environment controls log format and the cookie Secure flag.
	// NODE_ENV is honored when ENVIRONMENT is unset.
	Environment string `env:"ENVIRONMENT"`
	NodeEnv     string `env:"NODE_ENV"`

	// LogLevel overrides the environment's default log level.
	LogLevel string `env:"LOG_LEVEL"`

	// StatePath, when set, keeps handles and sessions in a bbolt file.
	StatePath string `env:"STATE_PATH"`

	HTTPTimeout time.Duration `env:"WHOOP_HTTP_TIMEOUT" envDefault:"30s"`

	EnableMCP bool `env:"ENABLE_MCP" envDefault:"true"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. It holds the client secret and the
// encryption key.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Environment == "" {
		cfg.Environment = cfg.NodeEnv
	}

	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:" + strconv.Itoa(cfg.Port)
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return cfg, nil
}

func (c *Config) validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"WHOOP_CLIENT_ID", c.ClientID},
		{"WHOOP_CLIENT_SECRET", c.ClientSecret},
		{"WHOOP_REDIRECT_URI", c.RedirectURI},
		{"ENCRYPTION_KEY", c.EncryptionKey},
	}

	for _, r := range required {
		if r.value == "" {
			return &apperrors.ConfigError{Var: r.name}
		}
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}

	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("WHOOP_HTTP_TIMEOUT must be positive")
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// ListenAddr returns the address the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return ":" + strconv.Itoa(c.Port)
}

// AuthURL returns the public URL of the /auth endpoint.
func (c *Config) AuthURL() string {
	return c.BaseURL + "/auth"
}
