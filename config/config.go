package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Evaluator  EvaluatorConfig  `yaml:"evaluator"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RequestIPHeader string  `yaml:"request_ip_header"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// EvaluatorConfig holds the adherence evaluation loop configuration.
type EvaluatorConfig struct {
	Enabled             bool          `yaml:"enabled"`
	IntervalSeconds     int           `yaml:"interval_seconds"`
	Interval            time.Duration `yaml:"-"` // Ignored by YAML parser
	GracePeriodSeconds  int           `yaml:"grace_period_seconds"`
	GracePeriod         time.Duration `yaml:"-"`
	BatchSize           int           `yaml:"batch_size"`
	StoreTimeoutSeconds int           `yaml:"store_timeout_seconds"`
	StoreTimeout        time.Duration `yaml:"-"`
	MaxConsecutiveErrs  int           `yaml:"max_consecutive_errors"`
}

// WorkerPoolConfig holds the configuration for the evaluator worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if cfg.Evaluator.IntervalSeconds <= 0 {
		cfg.Evaluator.IntervalSeconds = 60
	}
	cfg.Evaluator.Interval = time.Duration(cfg.Evaluator.IntervalSeconds) * time.Second

	if cfg.Evaluator.GracePeriodSeconds <= 0 {
		cfg.Evaluator.GracePeriodSeconds = 900 // 15 minutes
	}
	cfg.Evaluator.GracePeriod = time.Duration(cfg.Evaluator.GracePeriodSeconds) * time.Second

	if cfg.Evaluator.BatchSize <= 0 {
		cfg.Evaluator.BatchSize = 100
	}

	if cfg.Evaluator.StoreTimeoutSeconds <= 0 {
		cfg.Evaluator.StoreTimeoutSeconds = 5
	}
	cfg.Evaluator.StoreTimeout = time.Duration(cfg.Evaluator.StoreTimeoutSeconds) * time.Second

	if cfg.Evaluator.MaxConsecutiveErrs <= 0 {
		cfg.Evaluator.MaxConsecutiveErrs = 5
	}

	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 60
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	return &cfg, nil
}
