package config

import (
	"fmt"
	"os"
	"valorant-rank/internal/domain"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Flags are the command-line overrides parsed in cmd/server.
type Flags struct {
	EnvFile         string
	LogLevel        string
	CredentialsFile string
}

type RegionCredentials struct {
	Username string `env:"USERNAME" yaml:"username"`
	Password string `env:"PASSWORD" yaml:"password"`
}

type Config struct {
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	AdminToken string `env:"ADMIN_TOKEN"`

	StoreBackend string `env:"STORE_BACKEND" envDefault:"json"`
	StorePath    string `env:"STORE_PATH" envDefault:"runtime/valorant.json"`
	DBPath       string `env:"DB_PATH" envDefault:"valorant.db"`
	RedisURL     string `env:"REDIS_URL"`

	HDevAPIKey                string `env:"HDEV_API_KEY"`
	HDevBaseURL               string `env:"HDEV_BASE_URL" envDefault:"https://api.henrikdev.xyz"`
	ResolverRequestsPerMinute int    `env:"RESOLVER_REQUESTS_PER_MINUTE" envDefault:"30"` // 0 disables pacing

	CredentialsFile string `env:"RIOT_CREDENTIALS_FILE"`

	NA RegionCredentials `envPrefix:"RIOT_NA_"`
	EU RegionCredentials `envPrefix:"RIOT_EU_"`
	AP RegionCredentials `envPrefix:"RIOT_AP_"`
	KO RegionCredentials `envPrefix:"RIOT_KO_"`
}

const (
	StoreJSON   = "json"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

type credentialsFile struct {
	Regions map[string]RegionCredentials `yaml:"regions"`
}

func Load(flags Flags, logger zerolog.Logger) (*Config, error) {
	envFile := flags.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		logger.Debug().Str("path", envFile).Msg(".env file not found, using environment variables or defaults")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if flags.LogLevel != "" {
		cfg.LogLevel = flags.LogLevel
	}
	if flags.CredentialsFile != "" {
		cfg.CredentialsFile = flags.CredentialsFile
	}

	if cfg.CredentialsFile != "" {
		if err := cfg.mergeCredentialsFile(cfg.CredentialsFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	configured := []string{}
	for _, r := range domain.Regions {
		if !cfg.regionCredentials(r).empty() {
			configured = append(configured, r.String())
		}
	}

	logger.Info().
		Str("server_port", cfg.ServerPort).
		Str("log_level", cfg.LogLevel).
		Str("store_backend", cfg.StoreBackend).
		Strs("regions", configured).
		Int("resolver_rpm", cfg.ResolverRequestsPerMinute).
		Msg("configuration loaded")

	return cfg, nil
}

// mergeCredentialsFile fills regions the environment left empty.
func (c *Config) mergeCredentialsFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading credentials file: %w", err)
	}

	var file credentialsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing credentials file: %w", err)
	}

	for key, creds := range file.Regions {
		region, err := domain.ParseRegion(key)
		if err != nil {
			return fmt.Errorf("credentials file: %w", err)
		}
		target := c.regionCredentials(region)
		if target.empty() {
			*target = creds
		}
	}
	return nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case StoreJSON, StoreSQLite:
	case StoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("%w: REDIS_URL is required for the redis store", domain.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown STORE_BACKEND %q", domain.ErrConfiguration, c.StoreBackend)
	}
	if c.ResolverRequestsPerMinute < 0 {
		return fmt.Errorf("%w: RESOLVER_REQUESTS_PER_MINUTE must not be negative", domain.ErrConfiguration)
	}
	return nil
}

func (c *Config) regionCredentials(r domain.Region) *RegionCredentials {
	switch r {
	case domain.RegionNA:
		return &c.NA
	case domain.RegionEU:
		return &c.EU
	case domain.RegionAP:
		return &c.AP
	case domain.RegionKO:
		return &c.KO
	}
	return nil
}

func (rc *RegionCredentials) empty() bool {
	return rc == nil || rc.Username == "" || rc.Password == ""
}

// Credentials returns the service account for a region, or a configuration error
// when none is set.
func (c *Config) Credentials(r domain.Region) (domain.Credentials, error) {
	rc := c.regionCredentials(r)
	if rc == nil {
		return domain.Credentials{}, fmt.Errorf("%w: unknown region %q", domain.ErrInvalidArgument, r)
	}
	if rc.empty() {
		return domain.Credentials{}, fmt.Errorf("%w: username or password is missing for region %s", domain.ErrConfiguration, r)
	}
	return domain.Credentials{Username: rc.Username, Password: rc.Password}, nil
}
