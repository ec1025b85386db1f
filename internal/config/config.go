package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"CAIRN_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"CAIRN_DB_MAX_CONNS" default:"8"`

	ResolverBatchSize int `envconfig:"RESOLVER_BATCH_SIZE" default:"20"`
	ResolverWorkers   int `envconfig:"RESOLVER_WORKERS" default:"4"`
	MembershipRetries int `envconfig:"MEMBERSHIP_RETRIES" default:"3"`

	OpenAIAPIKey      string        `envconfig:"OPENAI_API_KEY" default:""`
	ClassifierModel   string        `envconfig:"CLASSIFIER_MODEL" default:"gpt-5-mini"`
	FusionModel       string        `envconfig:"FUSION_MODEL" default:"gpt-5-mini"`
	ClassifierTimeout time.Duration `envconfig:"CLASSIFIER_TIMEOUT" default:"45s"`
	// MaxClassifierCalls caps external classifier calls per process; 0 means unlimited.
	MaxClassifierCalls int `envconfig:"MAX_CLASSIFIER_CALLS" default:"0"`

	APIToken           string `envconfig:"API_TOKEN" default:""`
	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("CAIRN_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("CAIRN_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("CAIRN_DB_MIN_CONNS (%d) cannot exceed CAIRN_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.ResolverBatchSize < 1 {
		return fmt.Errorf("RESOLVER_BATCH_SIZE must be >= 1")
	}
	if c.ResolverWorkers < 1 {
		return fmt.Errorf("RESOLVER_WORKERS must be >= 1")
	}
	if c.MembershipRetries < 0 {
		return fmt.Errorf("MEMBERSHIP_RETRIES must be >= 0")
	}
	if c.ClassifierTimeout < time.Second {
		return fmt.Errorf("CLASSIFIER_TIMEOUT must be >= 1s")
	}
	if c.MaxClassifierCalls < 0 {
		return fmt.Errorf("MAX_CLASSIFIER_CALLS must be >= 0")
	}
	return nil
}

func (c *Config) CORSAllowedOriginsList() []string {
	if c == nil {
		return nil
	}

	parts := strings.Split(c.CORSAllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		if _, exists := seen[origin]; exists {
			continue
		}
		seen[origin] = struct{}{}
		origins = append(origins, origin)
	}
	return origins
}
