// Package config loads the codeintel core configuration: a single Config
// struct with a DefaultConfig() constructor, YAML on disk, and environment
// overrides layered on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// CacheStrategy enumerates the cache service's tier strategy.
type CacheStrategy string

const (
	CacheMemory CacheStrategy = "memory"
	CacheRemote CacheStrategy = "remote"
	CacheHybrid CacheStrategy = "hybrid"
)

// CacheMemoryConfig tunes the in-process LRU tier.
type CacheMemoryConfig struct {
	MaxEntries int `yaml:"max_entries"`
	TTLSeconds int `yaml:"ttl_seconds"`
}

// CacheRemoteConfig tunes the optional remote tier.
type CacheRemoteConfig struct {
	Host       string `yaml:"host"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// CacheConfig is the cache.* config block.
type CacheConfig struct {
	Strategy CacheStrategy     `yaml:"strategy"`
	Memory   CacheMemoryConfig `yaml:"memory"`
	Remote   CacheRemoteConfig `yaml:"remote"`
}

// DatabaseConfig is the database.* config block.
type DatabaseConfig struct {
	Path                string `yaml:"path"`
	MaxConnections      int    `yaml:"max_connections"`
	BusyTimeoutMS       int    `yaml:"busy_timeout_ms"`
	EnableWAL           bool   `yaml:"enable_wal"`
	EnableForeignKeys   bool   `yaml:"enable_foreign_keys"`
}

// MonitoringConfig is the monitoring.* config block.
type MonitoringConfig struct {
	Enabled           bool `yaml:"enabled"`
	MetricsIntervalMS int  `yaml:"metrics_interval_ms"`
}

// LearningConfig is the learning.* config block.
type LearningConfig struct {
	EnabledComponents      []string `yaml:"enabled_components"`
	MaxLearningTimeMS      int      `yaml:"max_learning_time_ms"`
	MaxPipelineTimeMS      int      `yaml:"max_pipeline_time_ms"`
	MaxConcurrentOps       int      `yaml:"max_concurrent_operations"`
}

// FeedbackConfig is the feedback.* config block.
type FeedbackConfig struct {
	MinToLearn          int     `yaml:"min_to_learn"`
	WeakThreshold       float64 `yaml:"weak_threshold"`
	StrongThreshold     float64 `yaml:"strong_threshold"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

// EvolutionConfig is the evolution.* config block.
type EvolutionConfig struct {
	MinOccurrences  int     `yaml:"min_occurrences"`
	MinConfidence   float64 `yaml:"min_confidence"`
	MaxPatternAgeDays int   `yaml:"max_pattern_age_days"`
}

// TeamConfig is the team.* config block.
type TeamConfig struct {
	MinValidators     int     `yaml:"min_validators"`
	MinApprovalScore  float64 `yaml:"min_approval_score"`
	AdoptionThreshold int     `yaml:"adoption_threshold"`
}

// LoggingConfig controls debug verbosity.
type LoggingConfig struct {
	Debug bool `yaml:"debug"`
}

// Config holds all codeintel core configuration.
type Config struct {
	Cache      CacheConfig      `yaml:"cache"`
	Database   DatabaseConfig   `yaml:"database"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Learning   LearningConfig   `yaml:"learning"`
	Feedback   FeedbackConfig   `yaml:"feedback"`
	Evolution  EvolutionConfig  `yaml:"evolution"`
	Team       TeamConfig       `yaml:"team"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// DefaultConfig returns the configuration matching the spec's stated defaults.
func DefaultConfig() *Config {
	return &Config{
		Cache: CacheConfig{
			Strategy: CacheMemory,
			Memory: CacheMemoryConfig{
				MaxEntries: 1000,
				TTLSeconds: 300,
			},
			Remote: CacheRemoteConfig{
				TTLSeconds: 300,
			},
		},
		Database: DatabaseConfig{
			Path:              "data/codeintel.db",
			MaxConnections:    10,
			BusyTimeoutMS:     5000,
			EnableWAL:         true,
			EnableForeignKeys: true,
		},
		Monitoring: MonitoringConfig{
			Enabled:           true,
			MetricsIntervalMS: 60000,
		},
		Learning: LearningConfig{
			EnabledComponents: []string{"feedback", "evolution", "team"},
			MaxLearningTimeMS: 30000,
			MaxPipelineTimeMS: 120000,
			MaxConcurrentOps:  3,
		},
		Feedback: FeedbackConfig{
			MinToLearn:          5,
			WeakThreshold:       0.3,
			StrongThreshold:     0.8,
			SimilarityThreshold: 0.7,
		},
		Evolution: EvolutionConfig{
			MinOccurrences:    3,
			MinConfidence:     0.6,
			MaxPatternAgeDays: 180,
		},
		Team: TeamConfig{
			MinValidators:     2,
			MinApprovalScore:  3.0,
			AdoptionThreshold: 3,
		},
		Logging: LoggingConfig{Debug: false},
	}
}

// Load reads YAML configuration from path, falling back to defaults when the
// file doesn't exist, then layers environment overrides on top.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML to path.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("CODEINTEL_DB"); path != "" {
		c.Database.Path = path
	}
	if host := os.Getenv("CODEINTEL_CACHE_REMOTE_HOST"); host != "" {
		c.Cache.Remote.Host = host
	}
	if os.Getenv("CODEINTEL_DEBUG") == "1" {
		c.Logging.Debug = true
	}
}

// MetricsInterval returns Monitoring.MetricsIntervalMS as a Duration.
func (c *Config) MetricsInterval() time.Duration {
	return time.Duration(c.Monitoring.MetricsIntervalMS) * time.Millisecond
}

// BusyTimeout returns Database.BusyTimeoutMS as a Duration.
func (c *Config) BusyTimeout() time.Duration {
	return time.Duration(c.Database.BusyTimeoutMS) * time.Millisecond
}

// Validate checks for internally-inconsistent configuration.
func (c *Config) Validate() error {
	if c.Database.MaxConnections <= 0 {
		return fmt.Errorf("config: database.max_connections must be positive")
	}
	if c.Cache.Memory.MaxEntries <= 0 {
		return fmt.Errorf("config: cache.memory.max_entries must be positive")
	}
	if c.Learning.MaxConcurrentOps <= 0 {
		return fmt.Errorf("config: learning.max_concurrent_operations must be positive")
	}
	switch c.Cache.Strategy {
	case CacheMemory, CacheRemote, CacheHybrid:
	default:
		return fmt.Errorf("config: unknown cache.strategy %q", c.Cache.Strategy)
	}
	return nil
}
