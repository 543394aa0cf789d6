package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string           `toml:"environment"` // "development" or "production"
	Server      ServerConfig     `toml:"server"`
	Logging     LoggingConfig    `toml:"logging"`
	Productive  ProductiveConfig `toml:"productive"`
	Linear      LinearConfig     `toml:"linear"`
	Export      ExportConfig     `toml:"export"`
	Jobs        JobsConfig       `toml:"jobs"`
	Storage     StorageConfig    `toml:"storage"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for log lines (default: "15:04:05")
}

// ProductiveConfig configures the upstream Productive API client
type ProductiveConfig struct {
	BaseURL         string        `toml:"base_url"`          // API root, e.g. https://api.productive.io/api/v2
	AppURL          string        `toml:"app_url"`           // Web app root used to build task origin URLs
	RequestTimeout  time.Duration `toml:"request_timeout"`   // HTTP request timeout
	Cooldown        time.Duration `toml:"cooldown"`          // Global pause after any upstream error
	MaxAttempts     int           `toml:"max_attempts"`      // Attempts per page before the fetch fails
	PageDelay       time.Duration `toml:"page_delay"`        // Pause between successful page fetches
	TaskPageSize    int           `toml:"task_page_size"`    // Page size for the primary task list
	CommentPageSize int           `toml:"comment_page_size"` // Page size for per-task comment fetches
}

// LinearConfig configures the downstream Linear GraphQL client
type LinearConfig struct {
	APIURL           string        `toml:"api_url"`            // GraphQL endpoint
	RequestTimeout   time.Duration `toml:"request_timeout"`    // HTTP request timeout
	RateLimit        int           `toml:"rate_limit"`         // Outbound requests per second
	RateLimitBackoff time.Duration `toml:"rate_limit_backoff"` // Wait when a rate-limit reply carries no reset time
}

// ExportConfig controls the batch processor and the exported data shape
type ExportConfig struct {
	ReplicationConcurrency int           `toml:"replication_concurrency"` // Chunk width when importing into Linear
	EnrichmentConcurrency  int           `toml:"enrichment_concurrency"`  // Chunk width for read-only export passes
	ChunkDelay             time.Duration `toml:"chunk_delay"`             // Pause between chunks
	TestSampleSize         int           `toml:"test_sample_size"`        // Tasks kept in test mode
	Timezone               string        `toml:"timezone"`                // Timezone used for comment timestamps
}

// JobsConfig controls the in-memory job registry
type JobsConfig struct {
	Retention      time.Duration `toml:"retention"`       // Jobs older than this are swept
	SweepSchedule  string        `toml:"sweep_schedule"`  // Cron spec for the retention sweep
	StreamInterval time.Duration `toml:"stream_interval"` // Poll interval for progress streams
	StreamLinger   time.Duration `toml:"stream_linger"`   // How long a stream stays open after a terminal state
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration.
// An empty Path keeps the store in memory, which is the default since job
// results never outlive the process.
type BadgerConfig struct {
	Path string `toml:"path"`
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05",
		},
		Productive: ProductiveConfig{
			BaseURL:         "https://api.productive.io/api/v2",
			AppURL:          "https://app.productive.io",
			RequestTimeout:  30 * time.Second,
			Cooldown:        120 * time.Second,
			MaxAttempts:     5,
			PageDelay:       300 * time.Millisecond,
			TaskPageSize:    200,
			CommentPageSize: 50,
		},
		Linear: LinearConfig{
			APIURL:           "https://api.linear.app/graphql",
			RequestTimeout:   30 * time.Second,
			RateLimit:        5,
			RateLimitBackoff: 60 * time.Second,
		},
		Export: ExportConfig{
			ReplicationConcurrency: 5,
			EnrichmentConcurrency:  10,
			ChunkDelay:             300 * time.Millisecond,
			TestSampleSize:         3,
			Timezone:               "Europe/Berlin",
		},
		Jobs: JobsConfig{
			Retention:      24 * time.Hour,
			SweepSchedule:  "@every 10m",
			StreamInterval: 500 * time.Millisecond,
			StreamLinger:   time.Second,
		},
	}
}

// LoadFromFiles loads configuration with priority: defaults -> file1 -> file2 -> ... -> .env -> env
// Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	// A missing .env is normal outside local development
	_ = godotenv.Load()

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies TASKFERRY_* environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("TASKFERRY_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("TASKFERRY_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("TASKFERRY_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Logging configuration
	if level := os.Getenv("TASKFERRY_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("TASKFERRY_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Productive configuration
	if baseURL := os.Getenv("TASKFERRY_PRODUCTIVE_BASE_URL"); baseURL != "" {
		config.Productive.BaseURL = baseURL
	}
	if appURL := os.Getenv("TASKFERRY_PRODUCTIVE_APP_URL"); appURL != "" {
		config.Productive.AppURL = appURL
	}
	if cooldown := os.Getenv("TASKFERRY_PRODUCTIVE_COOLDOWN"); cooldown != "" {
		if d, err := time.ParseDuration(cooldown); err == nil {
			config.Productive.Cooldown = d
		}
	}

	// Linear configuration
	if apiURL := os.Getenv("TASKFERRY_LINEAR_API_URL"); apiURL != "" {
		config.Linear.APIURL = apiURL
	}
	if rateLimit := os.Getenv("TASKFERRY_LINEAR_RATE_LIMIT"); rateLimit != "" {
		if rl, err := strconv.Atoi(rateLimit); err == nil && rl > 0 {
			config.Linear.RateLimit = rl
		}
	}

	// Export configuration
	if tz := os.Getenv("TASKFERRY_EXPORT_TIMEZONE"); tz != "" {
		config.Export.Timezone = tz
	}

	// Storage configuration
	if badgerPath := os.Getenv("TASKFERRY_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// Location resolves the export timezone, falling back to UTC when the name is unknown
func (c *ExportConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		GetLogger().Warn().
			Err(err).
			Str("timezone", c.Timezone).
			Msg("Unknown export timezone, timestamps will be rendered in UTC")
		return time.UTC
	}
	return loc
}
