package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Registry RegistryConfig `yaml:"registry"`
	Fusion   FusionConfig   `yaml:"fusion"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	MinIO    MinIOConfig    `yaml:"minio"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
	// APIKeys maps an API key to the user recorded as user_source on events.
	// An empty map disables authentication.
	APIKeys     map[string]string `yaml:"api_keys"`
	MetricsPort int               `yaml:"metrics_port"`
}

type RegistryConfig struct {
	Path        string        `yaml:"path"`
	BackupDir   string        `yaml:"backup_dir"`
	LockTimeout time.Duration `yaml:"lock_timeout"`
}

type FusionConfig struct {
	VarianceK           float64 `yaml:"variance_k"`
	ReevaluateThreshold float64 `yaml:"reevaluate_threshold"`
	EraMismatchPenalty  float64 `yaml:"era_mismatch_penalty"`
	ReevaluationLimit   int     `yaml:"reevaluation_limit"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

// Enabled reports whether a database host is configured.
func (d DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
	// ProposalWorkers is the number of goroutines handling cluster proposals.
	ProposalWorkers int `yaml:"proposal_workers"`
}

type MinIOConfig struct {
	Endpoint    string `yaml:"endpoint"`
	AccessKey   string `yaml:"access_key"`
	SecretKey   string `yaml:"secret_key"`
	Bucket      string `yaml:"bucket"`
	UseSSL      bool   `yaml:"use_ssl"`
	KeepBackups int    `yaml:"keep_backups"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Fusion.VarianceK <= 0 {
		return fmt.Errorf("fusion.variance_k must be positive, got %v", c.Fusion.VarianceK)
	}
	if c.Fusion.ReevaluateThreshold <= 0 || c.Fusion.ReevaluateThreshold >= 1 {
		return fmt.Errorf("fusion.reevaluate_threshold must be in (0,1), got %v", c.Fusion.ReevaluateThreshold)
	}
	if c.Fusion.EraMismatchPenalty <= 0 || c.Fusion.EraMismatchPenalty > 1 {
		return fmt.Errorf("fusion.era_mismatch_penalty must be in (0,1], got %v", c.Fusion.EraMismatchPenalty)
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 8082
	}
	if cfg.Registry.Path == "" {
		cfg.Registry.Path = "data/identities.json"
	}
	if cfg.Registry.BackupDir == "" {
		cfg.Registry.BackupDir = "data/backups"
	}
	if cfg.Registry.LockTimeout == 0 {
		cfg.Registry.LockTimeout = 10 * time.Second
	}
	if cfg.Fusion.VarianceK == 0 {
		cfg.Fusion.VarianceK = 1.5
	}
	if cfg.Fusion.ReevaluateThreshold == 0 {
		cfg.Fusion.ReevaluateThreshold = 0.10
	}
	if cfg.Fusion.EraMismatchPenalty == 0 {
		cfg.Fusion.EraMismatchPenalty = 0.85
	}
	if cfg.Fusion.ReevaluationLimit == 0 {
		cfg.Fusion.ReevaluationLimit = 50
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.NATS.ProposalWorkers == 0 {
		cfg.NATS.ProposalWorkers = 2
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "facereg"
	}
	if cfg.MinIO.KeepBackups == 0 {
		cfg.MinIO.KeepBackups = 200
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("IDREG_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	// IDREG_API_KEYS is a comma-separated list of key=user pairs.
	if v := os.Getenv("IDREG_API_KEYS"); v != "" {
		cfg.Server.APIKeys = make(map[string]string)
		for _, pair := range strings.Split(v, ",") {
			key, user, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if ok && key != "" {
				cfg.Server.APIKeys[key] = user
			}
		}
	}
	if v := os.Getenv("IDREG_REGISTRY_PATH"); v != "" {
		cfg.Registry.Path = v
	}
	if v := os.Getenv("IDREG_BACKUP_DIR"); v != "" {
		cfg.Registry.BackupDir = v
	}
	if v := os.Getenv("IDREG_LOCK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Registry.LockTimeout = d
		}
	}
	if v := os.Getenv("IDREG_VARIANCE_K"); v != "" {
		if k, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Fusion.VarianceK = k
		}
	}
	if v := os.Getenv("IDREG_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("IDREG_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("IDREG_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("IDREG_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("IDREG_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("IDREG_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("IDREG_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("IDREG_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("IDREG_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("IDREG_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("IDREG_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
