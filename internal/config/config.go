package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Recommend RecommendConfig `yaml:"recommend"`
	Observe   ObserveConfig   `yaml:"observe"`
	Sync      SyncConfig      `yaml:"sync"`
	Patterns  PatternsConfig  `yaml:"patterns"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig contains the device-local HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains pattern store settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// EmbeddingConfig contains embedding provider settings.
type EmbeddingConfig struct {
	// Provider is "local", "onnx", or "openai".
	Provider  string `yaml:"provider"`
	Dimension int    `yaml:"dimension"`
	// APIKey is read from OPENAI_API_KEY only; never stored in YAML.
	APIKey    string `yaml:"-"`
	Model     string `yaml:"model"`
	ModelPath string `yaml:"model_path"`
	CacheSize int64  `yaml:"cache_size"`
}

// RecommendConfig contains ranking and latency budgets for recommend().
type RecommendConfig struct {
	Timeout          Duration `yaml:"timeout"`
	EmbedBudget      Duration `yaml:"embed_budget"`
	VectorTopK       int      `yaml:"vector_top_k"`
	MaxResults       int      `yaml:"max_results"`
	SimilarityWeight float64  `yaml:"similarity_weight"`
	RecencyWeight    float64  `yaml:"recency_weight"`
	SuccessWeight    float64  `yaml:"success_weight"`
	TrendBoost       float64  `yaml:"trend_boost"`
}

// ObserveConfig contains observation pipeline settings.
type ObserveConfig struct {
	SimilarityThreshold float64  `yaml:"similarity_threshold"`
	ConsolidationDelay  Duration `yaml:"consolidation_delay"`
	PromotionSamples    uint64   `yaml:"promotion_samples"`
}

// SyncConfig contains aggregator sync settings.
type SyncConfig struct {
	AggregatorURL    string   `yaml:"aggregator_url"`
	DeviceID         string   `yaml:"device_id"`
	Interval         Duration `yaml:"interval"`
	Timeout          Duration `yaml:"timeout"`
	RetryAttempts    int      `yaml:"retry_attempts"`
	MinSuccessRate   float64  `yaml:"min_success_rate"`
	MinSampleCount   uint64   `yaml:"min_sample_count"`
	MaxDeltaBytes    int      `yaml:"max_delta_bytes"`
	MaxResponseBytes int      `yaml:"max_response_bytes"`
}

// PatternsConfig bounds the local pattern store.
type PatternsConfig struct {
	MaxPatterns int `yaml:"max_patterns"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("TVBRAIN_CONFIG_PATH", "config/tvbrain.yaml")

	// Missing file is not an error; defaults apply
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8090,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "data/tvbrain.db",
		},
		Embedding: EmbeddingConfig{
			Provider:  "local",
			Dimension: 384,
			Model:     "text-embedding-3-small",
			CacheSize: 10_000,
		},
		Recommend: RecommendConfig{
			Timeout:          Duration(15 * time.Millisecond),
			EmbedBudget:      Duration(10 * time.Millisecond),
			VectorTopK:       50,
			MaxResults:       20,
			SimilarityWeight: 0.5,
			RecencyWeight:    0.2,
			SuccessWeight:    0.3,
			TrendBoost:       0.1,
		},
		Observe: ObserveConfig{
			SimilarityThreshold: 0.85,
			ConsolidationDelay:  Duration(100 * time.Millisecond),
			PromotionSamples:    25,
		},
		Sync: SyncConfig{
			Interval:         Duration(10 * time.Minute),
			Timeout:          Duration(30 * time.Second),
			RetryAttempts:    3,
			MinSuccessRate:   0.7,
			MinSampleCount:   10,
			MaxDeltaBytes:    2048,
			MaxResponseBytes: 10240,
		},
		Patterns: PatternsConfig{
			MaxPatterns: 10_000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("TVBRAIN_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("TVBRAIN_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ShutdownTimeout = Duration(d)
		}
	}

	// Database
	if v := os.Getenv("TVBRAIN_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Embedding (OPENAI_API_KEY is industry convention)
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("TVBRAIN_EMBEDDING_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("TVBRAIN_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("TVBRAIN_EMBEDDING_MODEL_PATH"); v != "" {
		cfg.Embedding.ModelPath = v
	}

	// Recommend
	if v := os.Getenv("TVBRAIN_RECOMMEND_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Recommend.Timeout = Duration(d)
		}
	}

	// Sync
	if v := os.Getenv("TVBRAIN_AGGREGATOR_URL"); v != "" {
		cfg.Sync.AggregatorURL = v
	}
	if v := os.Getenv("TVBRAIN_DEVICE_ID"); v != "" {
		cfg.Sync.DeviceID = v
	}
	if v := os.Getenv("TVBRAIN_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.Interval = Duration(d)
		}
	}
	if v := os.Getenv("TVBRAIN_SYNC_RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.RetryAttempts = n
		}
	}

	// Patterns
	if v := os.Getenv("TVBRAIN_MAX_PATTERNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Patterns.MaxPatterns = n
		}
	}

	// Log
	if v := os.Getenv("TVBRAIN_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("TVBRAIN_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// validate checks configured values and fills generated defaults.
func (c *Config) validate() error {
	if c.Embedding.Dimension <= 0 {
		return errors.New("embedding.dimension must be > 0")
	}
	if c.Patterns.MaxPatterns <= 0 {
		return errors.New("patterns.max_patterns must be > 0")
	}
	if c.Recommend.VectorTopK <= 0 || c.Recommend.MaxResults <= 0 {
		return errors.New("recommend.vector_top_k and recommend.max_results must be > 0")
	}
	if c.Observe.SimilarityThreshold <= 0 || c.Observe.SimilarityThreshold > 1 {
		return errors.New("observe.similarity_threshold must be in (0, 1]")
	}
	if iv := time.Duration(c.Sync.Interval); iv < 5*time.Minute || iv > 15*time.Minute {
		return fmt.Errorf("sync.interval must be between 5m and 15m, got %s", iv)
	}
	if c.Sync.RetryAttempts < 3 || c.Sync.RetryAttempts > 5 {
		return fmt.Errorf("sync.retry_attempts must be between 3 and 5, got %d", c.Sync.RetryAttempts)
	}
	if c.Sync.MaxDeltaBytes <= 0 || c.Sync.MaxResponseBytes <= 0 {
		return errors.New("sync byte ceilings must be > 0")
	}
	if c.Embedding.Provider == "openai" && c.Embedding.APIKey == "" {
		return errors.New("OPENAI_API_KEY is required for the openai embedding provider")
	}
	if c.Sync.DeviceID == "" {
		c.Sync.DeviceID = uuid.NewString()
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
