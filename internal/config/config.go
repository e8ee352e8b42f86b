package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// DefaultGoogleBooksURL is the public Google Books API root
	DefaultGoogleBooksURL = "https://www.googleapis.com/books/v1"
	// DefaultNotes is written when a row carries no review
	DefaultNotes = "No notes provided"
)

// Config holds all configuration for one import invocation
type Config struct {
	// Backend catalog service
	Backend struct {
		BaseURL      string        `yaml:"base_url"`
		RefreshToken string        `yaml:"refresh_token"`
		Timeout      time.Duration `yaml:"timeout"`
	} `yaml:"backend"`

	// Google Books lookups
	GoogleBooks struct {
		BaseURL   string        `yaml:"base_url"`
		APIKey    string        `yaml:"api_key"`
		RateLimit time.Duration `yaml:"rate_limit"`
		Burst     int           `yaml:"burst"`
		Timeout   time.Duration `yaml:"timeout"`
	} `yaml:"google_books"`

	// Logging configuration
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	// Application settings
	App struct {
		Debug          bool          `yaml:"debug"`
		SkipStatuses   []string      `yaml:"skip_statuses"`
		RetryAttempts  int           `yaml:"retry_attempts"`
		RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
		DefaultNotes   string        `yaml:"default_notes"`
	} `yaml:"app"`

	// Object storage for uploaded CSV files
	Storage struct {
		Driver      string `yaml:"driver"`
		Region      string `yaml:"region"`
		Endpoint    string `yaml:"endpoint"`
		AccessKey   string `yaml:"access_key"`
		SecretKey   string `yaml:"secret_key"`
		DownloadDir string `yaml:"download_dir"`
		LocalRoot   string `yaml:"local_root"`
		KeepFiles   bool   `yaml:"keep_files"`
	} `yaml:"storage"`

	// Optional journal of import outcomes
	Journal struct {
		Driver string `yaml:"driver"`
		Path   string `yaml:"path"`
		DSN    string `yaml:"dsn"`
	} `yaml:"journal"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.Backend.Timeout = 30 * time.Second
	cfg.GoogleBooks.BaseURL = DefaultGoogleBooksURL
	cfg.GoogleBooks.RateLimit = 200 * time.Millisecond
	cfg.GoogleBooks.Burst = 5
	cfg.GoogleBooks.Timeout = 15 * time.Second
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.App.SkipStatuses = []string{"did-not-finish"}
	cfg.App.RetryAttempts = 3
	cfg.App.RetryBaseDelay = 2 * time.Second
	cfg.App.DefaultNotes = DefaultNotes
	cfg.Storage.Driver = "s3"
	cfg.Storage.DownloadDir = os.TempDir()
	return cfg
}

// Load builds the configuration for one invocation.
// Priority: 1) environment variables, 2) config file, 3) defaults.
// A .env file in the working directory is loaded first for local runs;
// it never overrides variables already present in the environment.
func Load(configFile string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if configFile != "" {
		fileCfg, err := LoadFromFile(configFile)
		if err != nil {
			return nil, err
		}
		mergeConfigs(cfg, fileCfg)
	}

	loadFromEnv(cfg)
	cfg.Backend.BaseURL = strings.TrimSuffix(cfg.Backend.BaseURL, "/")
	cfg.GoogleBooks.BaseURL = strings.TrimSuffix(cfg.GoogleBooks.BaseURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	var missing []string

	if c.Backend.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}
	if c.Backend.RefreshToken == "" {
		missing = append(missing, "REFRESH_TOKEN")
	}
	if c.Storage.Driver == "local" && c.Storage.LocalRoot == "" {
		missing = append(missing, "STORAGE_LOCAL_ROOT")
	}

	if len(missing) > 0 {
		return &ConfigError{
			Field: strings.Join(missing, ", "),
			Msg:   "required configuration values are missing",
		}
	}

	switch c.Storage.Driver {
	case "s3", "local":
	default:
		return &ConfigError{Field: "storage.driver", Msg: fmt.Sprintf("unsupported driver %q", c.Storage.Driver)}
	}
	switch c.Journal.Driver {
	case "", "sqlite", "sqlite3":
	case "postgres", "postgresql", "mysql", "mariadb":
		if c.Journal.DSN == "" {
			return &ConfigError{Field: "JOURNAL_DSN", Msg: "is required for the " + c.Journal.Driver + " journal"}
		}
	default:
		return &ConfigError{Field: "journal.driver", Msg: fmt.Sprintf("unsupported driver %q", c.Journal.Driver)}
	}
	if c.App.RetryAttempts < 1 {
		return &ConfigError{Field: "app.retry_attempts", Msg: "must be at least 1"}
	}

	return nil
}

// JournalEnabled reports whether run outcomes are recorded
func (c *Config) JournalEnabled() bool {
	return c.Journal.Path != "" || c.Journal.DSN != ""
}

// LogLevel returns the effective log level; debug mode always wins
func (c *Config) LogLevel() string {
	if c.App.Debug {
		return "debug"
	}
	return c.Logging.Level
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Field + " " + e.Msg
}

// loadFromEnv overlays environment variables on cfg
func loadFromEnv(cfg *Config) {
	if v := os.Getenv("BASE_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("REFRESH_TOKEN"); v != "" {
		cfg.Backend.RefreshToken = v
	}
	cfg.Backend.Timeout = getDurationFromEnv("BACKEND_TIMEOUT", cfg.Backend.Timeout)

	if v := os.Getenv("GOOGLE_BOOKS_URL"); v != "" {
		cfg.GoogleBooks.BaseURL = v
	}
	if v := os.Getenv("GOOGLE_BOOKS_API_KEY"); v != "" {
		cfg.GoogleBooks.APIKey = v
	}
	cfg.GoogleBooks.RateLimit = getDurationFromEnv("GOOGLE_BOOKS_RATE_LIMIT", cfg.GoogleBooks.RateLimit)
	cfg.GoogleBooks.Timeout = getDurationFromEnv("GOOGLE_BOOKS_TIMEOUT", cfg.GoogleBooks.Timeout)

	// The lambda historically treated any non-empty DEBUG value as enabled.
	if v, set := os.LookupEnv("DEBUG"); set {
		cfg.App.Debug = parseLooseBool(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("SKIP_STATUSES"); v != "" {
		cfg.App.SkipStatuses = splitList(v)
	}
	cfg.App.RetryAttempts = getIntFromEnv("RETRY_ATTEMPTS", cfg.App.RetryAttempts)
	cfg.App.RetryBaseDelay = getDurationFromEnv("RETRY_BASE_DELAY", cfg.App.RetryBaseDelay)

	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Storage.Region = v
	}
	if v := os.Getenv("S3_ENDPOINT"); v != "" {
		cfg.Storage.Endpoint = v
	}
	if v := os.Getenv("S3_ACCESS_KEY"); v != "" {
		cfg.Storage.AccessKey = v
	}
	if v := os.Getenv("S3_SECRET_KEY"); v != "" {
		cfg.Storage.SecretKey = v
	}
	if v := os.Getenv("DOWNLOAD_DIR"); v != "" {
		cfg.Storage.DownloadDir = v
	}
	if v := os.Getenv("STORAGE_LOCAL_ROOT"); v != "" {
		cfg.Storage.LocalRoot = v
	}
	if v, set := os.LookupEnv("KEEP_FILES"); set {
		cfg.Storage.KeepFiles = parseLooseBool(v)
	}

	if v := os.Getenv("JOURNAL_DRIVER"); v != "" {
		cfg.Journal.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}
	if v := os.Getenv("JOURNAL_DSN"); v != "" {
		cfg.Journal.DSN = v
	}
}

// mergeConfigs copies every non-zero value of src into dst
func mergeConfigs(dst, src *Config) {
	if src.Backend.BaseURL != "" {
		dst.Backend.BaseURL = src.Backend.BaseURL
	}
	if src.Backend.RefreshToken != "" {
		dst.Backend.RefreshToken = src.Backend.RefreshToken
	}
	if src.Backend.Timeout > 0 {
		dst.Backend.Timeout = src.Backend.Timeout
	}

	if src.GoogleBooks.BaseURL != "" {
		dst.GoogleBooks.BaseURL = src.GoogleBooks.BaseURL
	}
	if src.GoogleBooks.APIKey != "" {
		dst.GoogleBooks.APIKey = src.GoogleBooks.APIKey
	}
	if src.GoogleBooks.RateLimit > 0 {
		dst.GoogleBooks.RateLimit = src.GoogleBooks.RateLimit
	}
	if src.GoogleBooks.Burst > 0 {
		dst.GoogleBooks.Burst = src.GoogleBooks.Burst
	}
	if src.GoogleBooks.Timeout > 0 {
		dst.GoogleBooks.Timeout = src.GoogleBooks.Timeout
	}

	if src.Logging.Level != "" {
		dst.Logging.Level = src.Logging.Level
	}
	if src.Logging.Format != "" {
		dst.Logging.Format = src.Logging.Format
	}

	if src.App.Debug {
		dst.App.Debug = true
	}
	if len(src.App.SkipStatuses) > 0 {
		dst.App.SkipStatuses = src.App.SkipStatuses
	}
	if src.App.RetryAttempts > 0 {
		dst.App.RetryAttempts = src.App.RetryAttempts
	}
	if src.App.RetryBaseDelay > 0 {
		dst.App.RetryBaseDelay = src.App.RetryBaseDelay
	}
	if src.App.DefaultNotes != "" {
		dst.App.DefaultNotes = src.App.DefaultNotes
	}

	if src.Storage.Driver != "" {
		dst.Storage.Driver = strings.ToLower(src.Storage.Driver)
	}
	if src.Storage.Region != "" {
		dst.Storage.Region = src.Storage.Region
	}
	if src.Storage.Endpoint != "" {
		dst.Storage.Endpoint = src.Storage.Endpoint
	}
	if src.Storage.AccessKey != "" {
		dst.Storage.AccessKey = src.Storage.AccessKey
	}
	if src.Storage.SecretKey != "" {
		dst.Storage.SecretKey = src.Storage.SecretKey
	}
	if src.Storage.DownloadDir != "" {
		dst.Storage.DownloadDir = src.Storage.DownloadDir
	}
	if src.Storage.LocalRoot != "" {
		dst.Storage.LocalRoot = src.Storage.LocalRoot
	}
	if src.Storage.KeepFiles {
		dst.Storage.KeepFiles = true
	}

	if src.Journal.Driver != "" {
		dst.Journal.Driver = strings.ToLower(src.Journal.Driver)
	}
	if src.Journal.Path != "" {
		dst.Journal.Path = src.Journal.Path
	}
	if src.Journal.DSN != "" {
		dst.Journal.DSN = src.Journal.DSN
	}
}

func parseLooseBool(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return true
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getIntFromEnv(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		i, err := strconv.Atoi(value)
		if err != nil {
			return fallback
		}
		return i
	}
	return fallback
}

func getDurationFromEnv(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fallback
		}
		return d
	}
	return fallback
}
