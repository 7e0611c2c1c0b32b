package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config represents the broker's full runtime configuration.
type Config struct {
	App       App       `yaml:"app"`
	Auth0     Auth0     `yaml:"auth0"`
	Broker    Broker    `yaml:"broker"`
	Logging   Logging   `yaml:"logging"`
	Audit     Audit     `yaml:"audit"`
	RateLimit RateLimit `yaml:"rate_limit"`
}

type App struct {
	Env string `yaml:"env" env:"APP_ENV" env-default:"dev"`
}

// Auth0 configures the optional JWT-based PrincipalResolver. When Domain is
// empty the header-based reference resolver is used instead.
type Auth0 struct {
	Audience string `yaml:"audience" env:"AUTH0_AUDIENCE"`
	Domain   string `yaml:"domain" env:"AUTH0_DOMAIN"`
}

// Broker holds the bind address, CORS policy, heartbeat interval, and queue
// capacity tunables.
type Broker struct {
	BindAddr          string        `yaml:"bind_addr" env:"BIND_ADDR" env-default:":8080"`
	CORSOrigins       string        `yaml:"cors_origins" env:"CORS_ALLOWED_ORIGINS" env-default:"*"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL" env-default:"25s"`
	QueueCapacity     int           `yaml:"queue_capacity" env:"QUEUE_CAPACITY" env-default:"256"`
	ServiceTokens     string        `yaml:"service_tokens" env:"SERVICE_TOKENS"`
	AllowTestPublish  bool          `yaml:"allow_test_publish" env:"ALLOW_TEST_PUBLISH" env-default:"false"`
}

type Logging struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

// Audit configures the optional Postgres-backed publish audit sink. When
// DatabaseURL is empty a no-op sink is used.
type Audit struct {
	DatabaseURL string `yaml:"database_url" env:"AUDIT_DATABASE_URL"`
}

// RateLimit configures the per-service publish token bucket.
type RateLimit struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"PUBLISH_RATE_LIMIT_RPS" env-default:"50"`
	Burst             int     `yaml:"burst" env:"PUBLISH_RATE_LIMIT_BURST" env-default:"100"`
}

// ServiceTokenMap parses Broker.ServiceTokens ("token:service,token2:service2")
// into a token->service lookup for the default ServiceAuthenticator.
func (c *Config) ServiceTokenMap() map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(c.Broker.ServiceTokens, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		out[parts[0]] = parts[1]
	}
	return out
}

// AllowedOrigins splits Broker.CORSOrigins into the list form Echo's CORS
// middleware expects.
func (c *Config) AllowedOrigins() []string {
	if strings.TrimSpace(c.Broker.CORSOrigins) == "*" {
		return []string{"*"}
	}
	var out []string
	for _, o := range strings.Split(c.Broker.CORSOrigins, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Load loads configuration from YAML files based on APP_ENV, then overlays
// environment variables (which always take precedence).
func Load() (*Config, error) {
	cfg := &Config{}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}

	configDir := os.Getenv("CONFIG_DIR")
	if configDir == "" {
		configDir = "config"
	}

	sharedPath := filepath.Join(configDir, "shared.yml")
	if _, err := os.Stat(sharedPath); err == nil {
		if err := cleanenv.ReadConfig(sharedPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to read shared config: %w", err)
		}
	}

	envPath := filepath.Join(configDir, fmt.Sprintf("%s.yml", env))
	if _, err := os.Stat(envPath); err == nil {
		if err := cleanenv.ReadConfig(envPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s config: %w", env, err)
		}
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment variables: %w", err)
	}

	return cfg, nil
}
