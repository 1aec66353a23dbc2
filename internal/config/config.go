// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads stepchain configuration from a YAML file and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tombee/stepchain/internal/log"
	"github.com/tombee/stepchain/internal/tracing"
	stepchainerrors "github.com/tombee/stepchain/pkg/errors"
)

var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// Store types.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config represents the complete stepchain configuration.
type Config struct {
	Log           LogConfig           `yaml:"log"`
	Server        ServerConfig        `yaml:"server"`
	Store         StoreConfig         `yaml:"store"`
	Model         ModelConfig         `yaml:"model"`
	Execution     ExecutionConfig     `yaml:"execution"`
	Catalog       CatalogConfig       `yaml:"catalog"`
	Plans         PlansConfig         `yaml:"plans"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	// Environment: LOG_LEVEL
	// Default: info
	Level string `yaml:"level"`

	// Format sets the output format (json, text).
	// Environment: LOG_FORMAT
	// Default: json
	Format string `yaml:"format"`

	// AddSource adds source file and line information to logs.
	// Environment: LOG_SOURCE
	AddSource bool `yaml:"add_source"`
}

// LoggerConfig converts the section into a log.Config writing to stderr.
func (c LogConfig) LoggerConfig() *log.Config {
	cfg := log.DefaultConfig()
	cfg.Level = c.Level
	cfg.Format = log.Format(c.Format)
	cfg.AddSource = c.AddSource
	return cfg
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	// Addr is the listen address.
	// Environment: STEPCHAIN_ADDR
	// Default: :8080
	Addr string `yaml:"addr"`

	// ShutdownTimeout bounds graceful shutdown, including draining runs.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig selects and configures persistence.
type StoreConfig struct {
	// Type is memory, sqlite or postgres.
	// Environment: STEPCHAIN_STORE
	// Default: sqlite
	Type string `yaml:"type"`

	// SQLitePath is the database file for type sqlite.
	// Environment: STEPCHAIN_SQLITE_PATH
	// Default: $XDG_DATA_HOME/stepchain/stepchain.db
	SQLitePath string `yaml:"sqlite_path"`

	// PostgresURL is the connection URL for type postgres.
	// Environment: STEPCHAIN_POSTGRES_URL
	PostgresURL string `yaml:"postgres_url"`

	// SeedModels upserts the default model catalog at startup.
	// Default: true
	SeedModels bool `yaml:"seed_models"`
}

// ModelConfig configures the model backend.
type ModelConfig struct {
	// BaseURL is the OpenAI-compatible endpoint.
	// Environment: STEPCHAIN_MODEL_BASE_URL
	// Default: https://api.openai.com
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates model calls.
	// Environment: STEPCHAIN_API_KEY, then OPENAI_API_KEY
	APIKey string `yaml:"api_key"`

	// Timeout bounds each model call.
	// Default: 60s
	Timeout time.Duration `yaml:"timeout"`

	// RequestsPerSecond limits outbound calls. Zero disables limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// Burst is the rate limiter bucket size.
	Burst int `yaml:"burst"`

	// UserAgent is sent with every call.
	// Default: stepchain/<version>
	UserAgent string `yaml:"user_agent"`

	// DefaultTemperature applies to step calls.
	// Default: 0.7
	DefaultTemperature float64 `yaml:"default_temperature"`

	// DefaultMaxTokens applies to step calls.
	// Default: 2000
	DefaultMaxTokens int `yaml:"default_max_tokens"`
}

// ExecutionConfig tunes run execution.
type ExecutionConfig struct {
	// BackoffBase is the retry backoff base; attempt n waits base * 2^(n+1).
	// Environment: STEPCHAIN_BACKOFF_BASE
	// Default: 1s
	BackoffBase time.Duration `yaml:"backoff_base"`

	// MaxConcurrentRuns bounds runs executing at once.
	// Environment: STEPCHAIN_MAX_CONCURRENT_RUNS
	// Default: 10
	MaxConcurrentRuns int `yaml:"max_concurrent_runs"`

	// SummaryThreshold is the character count above which summary context
	// is condensed.
	// Default: 500
	SummaryThreshold int `yaml:"summary_threshold"`

	// ProgressBuffer is the progress queue and subscriber buffer size.
	// Default: 256
	ProgressBuffer int `yaml:"progress_buffer"`
}

// CatalogConfig configures the model catalog cache.
type CatalogConfig struct {
	// TTL is how long the model list is cached.
	// Default: 60s
	TTL time.Duration `yaml:"ttl"`
}

// PlansConfig configures file-backed plans.
type PlansConfig struct {
	// Dir is a directory of plan documents served alongside stored plans.
	// Environment: STEPCHAIN_PLANS_DIR
	Dir string `yaml:"dir"`

	// Watch reloads Dir when files change.
	Watch bool `yaml:"watch"`
}

// ObservabilityConfig configures tracing and metrics.
type ObservabilityConfig struct {
	Tracing tracing.Config `yaml:"tracing"`

	// MetricsEnabled serves Prometheus metrics at /metrics.
	// Default: true
	MetricsEnabled bool `yaml:"metrics_enabled"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Type:       StoreSQLite,
			SQLitePath: filepath.Join(DataDir(), "stepchain.db"),
			SeedModels: true,
		},
		Model: ModelConfig{
			BaseURL:            "https://api.openai.com",
			Timeout:            60 * time.Second,
			UserAgent:          "stepchain/1.0",
			DefaultTemperature: 0.7,
			DefaultMaxTokens:   2000,
		},
		Execution: ExecutionConfig{
			BackoffBase:       time.Second,
			MaxConcurrentRuns: 10,
			SummaryThreshold:  500,
			ProgressBuffer:    256,
		},
		Catalog: CatalogConfig{
			TTL: 60 * time.Second,
		},
		Observability: ObservabilityConfig{
			Tracing: tracing.Config{
				Exporter:    tracing.ExporterNone,
				ServiceName: "stepchain",
			},
			MetricsEnabled: true,
		},
	}
}

// Load loads configuration from environment variables and optionally from a
// YAML file. Environment variables take precedence over the file. If
// configPath is empty, only environment variables are used.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &stepchainerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	// Fill zero values left by minimal files.
	cfg.applyDefaults()

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &stepchainerrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

// applyDefaults fills in zero values with defaults.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}
	if c.Server.Addr == "" {
		c.Server.Addr = defaults.Server.Addr
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = defaults.Server.ShutdownTimeout
	}
	if c.Store.Type == "" {
		c.Store.Type = defaults.Store.Type
	}
	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = defaults.Store.SQLitePath
	}
	if c.Model.BaseURL == "" {
		c.Model.BaseURL = defaults.Model.BaseURL
	}
	if c.Model.Timeout == 0 {
		c.Model.Timeout = defaults.Model.Timeout
	}
	if c.Model.UserAgent == "" {
		c.Model.UserAgent = defaults.Model.UserAgent
	}
	if c.Model.DefaultMaxTokens == 0 {
		c.Model.DefaultMaxTokens = defaults.Model.DefaultMaxTokens
	}
	if c.Execution.BackoffBase == 0 {
		c.Execution.BackoffBase = defaults.Execution.BackoffBase
	}
	if c.Execution.MaxConcurrentRuns == 0 {
		c.Execution.MaxConcurrentRuns = defaults.Execution.MaxConcurrentRuns
	}
	if c.Execution.SummaryThreshold == 0 {
		c.Execution.SummaryThreshold = defaults.Execution.SummaryThreshold
	}
	if c.Execution.ProgressBuffer == 0 {
		c.Execution.ProgressBuffer = defaults.Execution.ProgressBuffer
	}
	if c.Catalog.TTL == 0 {
		c.Catalog.TTL = defaults.Catalog.TTL
	}
	if c.Observability.Tracing.Exporter == "" {
		c.Observability.Tracing.Exporter = defaults.Observability.Tracing.Exporter
	}
	if c.Observability.Tracing.ServiceName == "" {
		c.Observability.Tracing.ServiceName = defaults.Observability.Tracing.ServiceName
	}
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// loadFromEnv loads configuration from environment variables.
func (c *Config) loadFromEnv() {
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("STEPCHAIN_LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_SOURCE"); val != "" {
		c.Log.AddSource = val == "1" || strings.ToLower(val) == "true"
	}

	if val := os.Getenv("STEPCHAIN_ADDR"); val != "" {
		c.Server.Addr = val
	}

	if val := os.Getenv("STEPCHAIN_STORE"); val != "" {
		c.Store.Type = strings.ToLower(val)
	}
	if val := os.Getenv("STEPCHAIN_SQLITE_PATH"); val != "" {
		c.Store.SQLitePath = val
	}
	if val := os.Getenv("STEPCHAIN_POSTGRES_URL"); val != "" {
		c.Store.PostgresURL = val
	}

	if val := os.Getenv("STEPCHAIN_MODEL_BASE_URL"); val != "" {
		c.Model.BaseURL = val
	}
	if val := os.Getenv("OPENAI_API_KEY"); val != "" && c.Model.APIKey == "" {
		c.Model.APIKey = val
	}
	if val := os.Getenv("STEPCHAIN_API_KEY"); val != "" {
		c.Model.APIKey = val
	}

	if val := os.Getenv("STEPCHAIN_BACKOFF_BASE"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Execution.BackoffBase = duration
		}
	}
	if val := os.Getenv("STEPCHAIN_MAX_CONCURRENT_RUNS"); val != "" {
		if runs, err := strconv.Atoi(val); err == nil {
			c.Execution.MaxConcurrentRuns = runs
		}
	}

	if val := os.Getenv("STEPCHAIN_PLANS_DIR"); val != "" {
		c.Plans.Dir = val
	}

	if val := os.Getenv("STEPCHAIN_TRACING_EXPORTER"); val != "" {
		c.Observability.Tracing.Exporter = strings.ToLower(val)
	}
	if val := os.Getenv("STEPCHAIN_TRACING_ENDPOINT"); val != "" {
		c.Observability.Tracing.Endpoint = val
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	if c.Server.Addr == "" {
		errs = append(errs, "server.addr is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("server.shutdown_timeout must be positive, got %v", c.Server.ShutdownTimeout))
	}

	switch c.Store.Type {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, "store.sqlite_path is required for sqlite store")
		}
	case StorePostgres:
		if c.Store.PostgresURL == "" {
			errs = append(errs, "store.postgres_url is required for postgres store")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.type must be one of [memory, sqlite, postgres], got %q", c.Store.Type))
	}

	if c.Model.BaseURL == "" {
		errs = append(errs, "model.base_url is required")
	}
	if c.Model.Timeout <= 0 {
		errs = append(errs, fmt.Sprintf("model.timeout must be positive, got %v", c.Model.Timeout))
	}
	if c.Model.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Sprintf("model.requests_per_second must be >= 0, got %v", c.Model.RequestsPerSecond))
	}
	if c.Model.Burst < 0 {
		errs = append(errs, fmt.Sprintf("model.burst must be >= 0, got %d", c.Model.Burst))
	}
	if c.Model.DefaultTemperature < 0 || c.Model.DefaultTemperature > 2 {
		errs = append(errs, fmt.Sprintf("model.default_temperature must be between 0 and 2, got %v", c.Model.DefaultTemperature))
	}
	if c.Model.DefaultMaxTokens <= 0 {
		errs = append(errs, fmt.Sprintf("model.default_max_tokens must be positive, got %d", c.Model.DefaultMaxTokens))
	}

	if c.Execution.BackoffBase < 0 {
		errs = append(errs, fmt.Sprintf("execution.backoff_base must be >= 0, got %v", c.Execution.BackoffBase))
	}
	if c.Execution.MaxConcurrentRuns < 1 {
		errs = append(errs, fmt.Sprintf("execution.max_concurrent_runs must be at least 1, got %d", c.Execution.MaxConcurrentRuns))
	}
	if c.Execution.SummaryThreshold < 0 {
		errs = append(errs, fmt.Sprintf("execution.summary_threshold must be >= 0, got %d", c.Execution.SummaryThreshold))
	}
	if c.Execution.ProgressBuffer < 1 {
		errs = append(errs, fmt.Sprintf("execution.progress_buffer must be at least 1, got %d", c.Execution.ProgressBuffer))
	}

	if c.Catalog.TTL <= 0 {
		errs = append(errs, fmt.Sprintf("catalog.ttl must be positive, got %v", c.Catalog.TTL))
	}

	if c.Plans.Watch && c.Plans.Dir == "" {
		errs = append(errs, "plans.watch requires plans.dir")
	}

	if err := c.Observability.Tracing.Validate(); err != nil {
		errs = append(errs, "observability.tracing: "+err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}
