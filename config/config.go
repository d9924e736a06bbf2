// Package config loads service configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env       string          `yaml:"env" env:"COREAPI_ENV" env-default:"local"`
	HTTP      HTTPConfig      `yaml:"http"`
	Storage   StorageConfig   `yaml:"storage"`
	JWT       JWTConfig       `yaml:"jwt"`
	Inference InferenceConfig `yaml:"inference"`
	Cache     CacheConfig     `yaml:"cache"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr" env:"COREAPI_HTTP_ADDR" env-default:":8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env-default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env-default:"120s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env-default:"20s"`
}

type StorageConfig struct {
	SQLitePath    string `yaml:"sqlite_path" env:"COREAPI_SQLITE_PATH" env-default:"data/coreapi.db"`
	TokenPath     string `yaml:"token_path" env:"COREAPI_TOKEN_PATH" env-default:"data/tokens"`
	MongoURI      string `yaml:"mongo_uri" env:"COREAPI_MONGO_URI" env-default:"mongodb://localhost:27017"`
	MongoDatabase string `yaml:"mongo_database" env:"COREAPI_MONGO_DB" env-default:"coreapi"`
}

type JWTConfig struct {
	Secret     string        `yaml:"secret" env:"COREAPI_JWT_SECRET" env-required:"true"`
	Issuer     string        `yaml:"issuer" env-default:"coreapi"`
	AccessTTL  time.Duration `yaml:"access_ttl" env-default:"15m"`
	RefreshTTL time.Duration `yaml:"refresh_ttl" env-default:"720h"`
}

type InferenceConfig struct {
	BaseURL         string        `yaml:"base_url" env:"COREAPI_INFERENCE_URL" env-default:"http://localhost:8000"`
	ExchangeTimeout time.Duration `yaml:"exchange_timeout" env-default:"30s"`
	HandshakeTTL    time.Duration `yaml:"handshake_ttl" env-default:"30s"`
}

type CacheConfig struct {
	SummaryCapacity int           `yaml:"summary_capacity" env-default:"1000"`
	SummaryTTL      time.Duration `yaml:"summary_ttl" env-default:"30m"`
}

// Load reads the YAML file at path, then applies environment overrides.
// An empty path skips the file and reads the environment alone.
func Load(path string) (*Config, error) {
	var cfg Config

	if path == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("config: read environment: %w", err)
		}
		return &cfg, nil
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return &cfg, nil
}
