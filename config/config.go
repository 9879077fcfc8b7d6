// Package config loads server configuration from the environment.
// Optional .env files are read first; real environment variables win.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

const (
	BackendSQLite = "sqlite"
	BackendRemote = "remote"
)

// DefaultEnvFiles are tried in order; missing files are skipped.
var DefaultEnvFiles = []string{".env", ".env.local"}

type RemoteStoreOptions struct {
	URL      string        `env:"REMOTE_STORE_URL"`
	RetryMax int           `env:"REMOTE_STORE_RETRY_MAX" envDefault:"3"`
	Timeout  time.Duration `env:"REMOTE_STORE_TIMEOUT" envDefault:"10s"`
}

type LogOptions struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"console"`
}

type Configuration struct {
	Port         int    `env:"PORT" envDefault:"8080"`
	DBPath       string `env:"DB_PATH" envDefault:"workflow.db"`
	StoreBackend string `env:"STORE_BACKEND" envDefault:"sqlite"`
	RemoteStore  RemoteStoreOptions
	Log          LogOptions

	AuthzPolicyPath string `env:"AUTHZ_POLICY_PATH"`
	CompanyName     string `env:"COMPANY_NAME" envDefault:"Warp HR"`

	DocumentTimeout      time.Duration `env:"DOCUMENT_TIMEOUT" envDefault:"10s"`
	RegenerationInterval time.Duration `env:"REGENERATION_INTERVAL" envDefault:"15m"`
	DirectoryCacheTTL    time.Duration `env:"DIRECTORY_CACHE_TTL" envDefault:"5m"`

	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173,http://localhost:3000"`
	SeedDemo    bool     `env:"SEED_DEMO" envDefault:"false"`
}

// LoadEnv loads the env files that exist and returns how many were read.
func LoadEnv(envFiles []string) (int, error) {
	existing := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

// Load reads DefaultEnvFiles and parses the environment.
func Load() (*Configuration, error) {
	return LoadFrom(DefaultEnvFiles)
}

func LoadFrom(envFiles []string) (*Configuration, error) {
	if _, err := LoadEnv(envFiles); err != nil {
		return nil, errors.Wrap(err, "load env files")
	}
	c := &Configuration{}
	if err := env.Parse(c); err != nil {
		return nil, errors.Wrap(err, "parse environment")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate normalizes enum-like fields and rejects inconsistent settings.
func (c *Configuration) Validate() error {
	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	switch c.StoreBackend {
	case BackendSQLite:
	case BackendRemote:
		if c.RemoteStore.URL == "" {
			return errors.New("STORE_BACKEND=remote requires REMOTE_STORE_URL")
		}
	default:
		return errors.Newf("invalid STORE_BACKEND=%q (expected sqlite|remote)", c.StoreBackend)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.Newf("invalid PORT=%d", c.Port)
	}
	if c.RemoteStore.RetryMax < 0 {
		return errors.Newf("REMOTE_STORE_RETRY_MAX must be non-negative, got %d", c.RemoteStore.RetryMax)
	}
	if c.DocumentTimeout <= 0 {
		return errors.New("DOCUMENT_TIMEOUT must be positive")
	}
	c.Log.Format = strings.ToLower(c.Log.Format)
	return nil
}
