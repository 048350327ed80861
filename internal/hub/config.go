package hub

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"agent-console/internal/client"
	"agent-console/internal/kv"
)

const envPrefix = "AGENT_CONSOLE_"

type Config struct {
	API struct {
		BaseURL string        `yaml:"base_url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"api"`
	Polling struct {
		Interval     time.Duration `yaml:"interval"`
		MaxRetries   int           `yaml:"max_retries"`
		RetryInitial time.Duration `yaml:"retry_initial"`
		RetryMax     time.Duration `yaml:"retry_max"`
	} `yaml:"polling"`
	Storage struct {
		Driver string `yaml:"driver"`
		Path   string `yaml:"path"`
	} `yaml:"storage"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		File   string `yaml:"file"`
	} `yaml:"logging"`
	Metrics struct {
		Enabled  bool   `yaml:"enabled"`
		Endpoint string `yaml:"endpoint"`
		Insecure bool   `yaml:"insecure"`
	} `yaml:"metrics"`
	Sync struct {
		RollbackOnContinueFailure bool `yaml:"rollback_on_continue_failure"`
	} `yaml:"sync"`
	DataDir string `yaml:"data_dir"`
}

func DefaultConfig() Config {
	cfg := Config{}
	cfg.API.BaseURL = client.DefaultBaseURL
	cfg.API.Timeout = 30 * time.Second
	cfg.Polling.Interval = 2 * time.Second
	cfg.Polling.MaxRetries = 3
	cfg.Polling.RetryInitial = 250 * time.Millisecond
	cfg.Polling.RetryMax = 2 * time.Second
	cfg.Storage.Driver = kv.DriverFile
	cfg.Storage.Path = ""
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	cfg.Metrics.Enabled = false
	cfg.Metrics.Insecure = true
	cfg.Sync.RollbackOnContinueFailure = false
	cfg.DataDir = defaultDataDir()
	return cfg
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".agent-console"
	}
	return filepath.Join(home, ".agent-console")
}

// StoragePath resolves where the key-value store lives.
func (c Config) StoragePath() string {
	if c.Storage.Path != "" {
		return c.Storage.Path
	}
	if c.Storage.Driver == kv.DriverSQLite {
		return filepath.Join(c.DataDir, "state.db")
	}
	return filepath.Join(c.DataDir, "state")
}

func (c Config) LogPath() string {
	if c.Logging.File != "" {
		return c.Logging.File
	}
	return filepath.Join(c.DataDir, "agent-console.log")
}

// LoadConfig layers defaults, an optional YAML file, a .env file and
// AGENT_CONSOLE_* environment variables. An empty path looks for
// config.yaml in the data directory and skips it when missing.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = filepath.Join(cfg.DataDir, "config.yaml")
	}
	if err := cfg.mergeFile(path); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return cfg, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("failed to load .env: %w", err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.API.BaseURL = getEnv("API_URL", c.API.BaseURL)
	c.API.Timeout = getEnvDuration("API_TIMEOUT", c.API.Timeout)
	c.Polling.Interval = getEnvDuration("POLL_INTERVAL", c.Polling.Interval)
	c.Polling.MaxRetries = getEnvInt("POLL_MAX_RETRIES", c.Polling.MaxRetries)
	c.Polling.RetryInitial = getEnvDuration("POLL_RETRY_INITIAL", c.Polling.RetryInitial)
	c.Polling.RetryMax = getEnvDuration("POLL_RETRY_MAX", c.Polling.RetryMax)
	c.Storage.Driver = getEnv("STORAGE_DRIVER", c.Storage.Driver)
	c.Storage.Path = getEnv("STORAGE_PATH", c.Storage.Path)
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)
	c.Logging.File = getEnv("LOG_FILE", c.Logging.File)
	c.Metrics.Enabled = getEnvBool("METRICS_ENABLED", c.Metrics.Enabled)
	c.Metrics.Endpoint = getEnv("METRICS_ENDPOINT", c.Metrics.Endpoint)
	c.Metrics.Insecure = getEnvBool("METRICS_INSECURE", c.Metrics.Insecure)
	c.Sync.RollbackOnContinueFailure = getEnvBool("ROLLBACK_ON_CONTINUE_FAILURE", c.Sync.RollbackOnContinueFailure)
	c.DataDir = getEnv("DATA_DIR", c.DataDir)
}

func (c Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api.base_url must be an absolute URL, got %q", c.API.BaseURL)
	}
	if c.Polling.Interval <= 0 {
		return errors.New("polling.interval must be > 0")
	}
	if c.Polling.MaxRetries < 0 {
		return errors.New("polling.max_retries must be >= 0")
	}
	switch c.Storage.Driver {
	case kv.DriverFile, kv.DriverSQLite, kv.DriverMemory:
	default:
		return fmt.Errorf("storage.driver must be file, sqlite or memory, got %q", c.Storage.Driver)
	}
	if c.DataDir == "" && c.Storage.Path == "" && c.Storage.Driver != kv.DriverMemory {
		return errors.New("data_dir cannot be empty")
	}
	if c.Metrics.Enabled && c.Metrics.Endpoint == "" {
		return errors.New("metrics.endpoint is required when metrics are enabled")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(envPrefix + key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
