package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-sentry/internal/models"
)

// Config captures the settings required to boot the sentry engine.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Store       StoreConfig       `yaml:"store"`
	Checks      ChecksConfig      `yaml:"checks"`
	Incidents   IncidentsConfig   `yaml:"incidents"`
	Remediation RemediationConfig `yaml:"remediation"`
	Rightsizing RightsizingConfig `yaml:"rightsizing"`
	Logging     LoggingConfig     `yaml:"logging"`
	Cache       CacheConfig       `yaml:"cache"`
}

// ServerConfig controls the metrics listener and shutdown behaviour.
type ServerConfig struct {
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// PipelineConfig configures access to the monitored inference pipeline.
type PipelineConfig struct {
	BaseURL          string        `yaml:"baseURL"`
	InferPath        string        `yaml:"inferPath"`
	GoldenPath       string        `yaml:"goldenPath"`
	ResourcePath     string        `yaml:"resourcePath"`
	DistributionPath string        `yaml:"distributionPath"`
	AdminPath        string        `yaml:"adminPath"`
	Timeout          time.Duration `yaml:"timeout"`
}

// StoreConfig controls the embedded Badger store.
type StoreConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"inMemory"`
	Seed     bool   `yaml:"seed"`
}

// ChecksConfig tunes health check evaluation.
type ChecksConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	DefaultInterval time.Duration `yaml:"defaultInterval"`
	SchedulerPoll   time.Duration `yaml:"schedulerPoll"`
	DriftWindow     time.Duration `yaml:"driftWindow"`
	DriftMinSamples int           `yaml:"driftMinSamples"`
}

// IncidentsConfig tunes incident creation and escalation.
type IncidentsConfig struct {
	RetryLimit    int               `yaml:"retryLimit"`
	SummaryWindow time.Duration     `yaml:"summaryWindow"`
	Grading       map[string]string `yaml:"grading"`
}

// SeverityFor resolves the graded severity for a check type, falling back to
// medium when the policy map has no entry.
func (c IncidentsConfig) SeverityFor(t models.CheckType) models.Severity {
	if raw, ok := c.Grading[string(t)]; ok {
		if sev, err := models.ParseSeverity(raw); err == nil {
			return sev
		}
	}
	return models.SeverityMedium
}

// RemediationConfig tunes strategy execution.
type RemediationConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	RollbackVersion string        `yaml:"rollbackVersion"`
	ScaleReplicas   int           `yaml:"scaleReplicas"`
}

// RightsizingConfig tunes the cost analysis engine.
type RightsizingConfig struct {
	CatalogPath    string        `yaml:"catalogPath"`
	Lookback       time.Duration `yaml:"lookback"`
	IdleCPU        float64       `yaml:"idleCPU"`
	LowCPU         float64       `yaml:"lowCPU"`
	HighCPU        float64       `yaml:"highCPU"`
	LowMemory      float64       `yaml:"lowMemory"`
	SafetyCeiling  float64       `yaml:"safetyCeiling"`
	HoursPerMonth  float64       `yaml:"hoursPerMonth"`
	MinSamples     int           `yaml:"minSamples"`
	MinWindow      time.Duration `yaml:"minWindow"`
	ReportCacheTTL time.Duration `yaml:"reportCacheTTL"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// CacheConfig controls valkey-backed caching of analysis reports.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("SENTRY_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Pipeline: PipelineConfig{
			InferPath:        "/api/v1/infer",
			GoldenPath:       "/api/v1/golden",
			ResourcePath:     "/api/v1/resources",
			DistributionPath: "/api/v1/distributions",
			AdminPath:        "/api/v1/admin",
			Timeout:          5 * time.Second,
		},
		Store: StoreConfig{
			Path: "data/sentry",
			Seed: true,
		},
		Checks: ChecksConfig{
			Timeout:         10 * time.Second,
			DefaultInterval: 30 * time.Second,
			SchedulerPoll:   5 * time.Second,
			DriftWindow:     time.Hour,
			DriftMinSamples: 10,
		},
		Incidents: IncidentsConfig{
			RetryLimit:    3,
			SummaryWindow: 24 * time.Hour,
			Grading: map[string]string{
				string(models.CheckTypeCorrectness): string(models.SeverityCritical),
				string(models.CheckTypeLatency):     string(models.SeverityHigh),
				string(models.CheckTypeDrift):       string(models.SeverityMedium),
				string(models.CheckTypeResource):    string(models.SeverityMedium),
			},
		},
		Remediation: RemediationConfig{
			Timeout:         30 * time.Second,
			RollbackVersion: "previous",
			ScaleReplicas:   3,
		},
		Rightsizing: RightsizingConfig{
			CatalogPath:    "",
			Lookback:       24 * time.Hour,
			IdleCPU:        10,
			LowCPU:         30,
			HighCPU:        80,
			LowMemory:      40,
			SafetyCeiling:  80,
			HoursPerMonth:  720,
			MinSamples:     20,
			MinWindow:      6 * time.Hour,
			ReportCacheTTL: 5 * time.Minute,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SENTRY_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("SENTRY_PIPELINE_BASE_URL"); v != "" {
		cfg.Pipeline.BaseURL = v
	}
	if v := os.Getenv("SENTRY_PIPELINE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Pipeline.Timeout = d
		}
	}
	if v := os.Getenv("SENTRY_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("SENTRY_STORE_IN_MEMORY"); v != "" {
		cfg.Store.InMemory = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("SENTRY_CHECK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Checks.Timeout = d
		}
	}
	if v := os.Getenv("SENTRY_RETRY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Incidents.RetryLimit = n
		}
	}
	if v := os.Getenv("SENTRY_REMEDIATION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Remediation.Timeout = d
		}
	}
	if v := os.Getenv("SENTRY_RIGHTSIZING_LOOKBACK"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Rightsizing.Lookback = d
		}
	}
	if v := os.Getenv("SENTRY_CATALOG_PATH"); v != "" {
		cfg.Rightsizing.CatalogPath = v
	}
	if v := os.Getenv("SENTRY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SENTRY_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("SENTRY_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("SENTRY_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("SENTRY_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("SENTRY_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("SENTRY_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
}
