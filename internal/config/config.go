package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override, e.g.
// MUSICTRANSFER_TRANSFER_RETRY_COUNT or MUSICTRANSFER_PATH_CACHE.
const EnvPrefix = "MUSICTRANSFER"

var validate = validator.New()

// Paths holds the four destination roots.
type Paths struct {
	Song  string `yaml:"song" envconfig:"SONG" validate:"required"`
	MV    string `yaml:"mv" envconfig:"MV" validate:"required"`
	Lyric string `yaml:"lyric" envconfig:"LYRIC" validate:"required"`
	Cache string `yaml:"cache" envconfig:"CACHE" validate:"required"`
}

// Transfer is the retry and timeout policy shared by every download kind.
type Transfer struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout" envconfig:"CONNECT_TIMEOUT" validate:"gt=0"`
	ReadTimeout    time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout   time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" validate:"gt=0"`
	RetryCount     int           `yaml:"retry_count" envconfig:"RETRY_COUNT" validate:"gte=0,lte=10"`
	RetryDelay     time.Duration `yaml:"retry_delay" envconfig:"RETRY_DELAY" validate:"gte=0"`
	// RateLimit caps each transfer in bytes per second; 0 means unlimited.
	RateLimit int `yaml:"rate_limit" envconfig:"RATE_LIMIT" validate:"gte=0"`
}

// Config contains the program configuration
type Config struct {
	Paths          Paths    `yaml:"paths" envconfig:"PATH"`
	Transfer       Transfer `yaml:"transfer" envconfig:"TRANSFER"`
	LookupURL      string   `yaml:"lookup_url" envconfig:"LOOKUP_URL" validate:"required,url"`
	LookupMethod   string   `yaml:"lookup_method" envconfig:"LOOKUP_METHOD" validate:"required"`
	UserAgent      string   `yaml:"user_agent" envconfig:"USER_AGENT"`
	ParallelJobs   int      `yaml:"parallel_jobs" envconfig:"PARALLEL_JOBS" validate:"gte=1,lte=10"`
	TagFiles       bool     `yaml:"tag_files" envconfig:"TAG_FILES"`
	LyricsFallback bool     `yaml:"lyrics_fallback" envconfig:"LYRICS_FALLBACK"`
	Verbose        bool     `yaml:"verbose" envconfig:"VERBOSE"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	root := filepath.Join(homeDir(), "Music", "musictransfer")
	return Config{
		Paths: Paths{
			Song:  filepath.Join(root, "song"),
			MV:    filepath.Join(root, "mv"),
			Lyric: filepath.Join(root, "lyric"),
			Cache: filepath.Join(root, "cache"),
		},
		Transfer:     DefaultTransfer(),
		LookupURL:    "http://tingapi.ting.baidu.com/v1/restserver/ting",
		LookupMethod: "baidu.ting.song.getInfos",
		UserAgent:    "musictransfer/1.0",
		ParallelJobs: 4,
	}
}

// DefaultTransfer returns the retry policy every transfer kind uses unless
// configured otherwise: 3 retries, 1s apart, 60s per timeout.
func DefaultTransfer() Transfer {
	return Transfer{
		ConnectTimeout: 60 * time.Second,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   60 * time.Second,
		RetryCount:     3,
		RetryDelay:     time.Second,
	}
}

// Load resolves the configuration: defaults, then the YAML file, then the
// environment (a .env file in the working directory is honoured).
func Load(path string) (Config, error) {
	cfg, err := LoadConfigFile(path)
	if err != nil {
		return cfg, err
	}

	// A missing .env is the normal case.
	_ = godotenv.Load()

	if err := ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with MUSICTRANSFER_* variables that are set.
func ApplyEnv(cfg *Config) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}
	cfg.expandPaths()
	return nil
}

// LoadConfigFile loads configuration from a YAML file.
// If path is empty, searches standard locations. Returns defaults if no file found.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = FindConfigFile()
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.expandPaths()
	return cfg, nil
}

func (c *Config) expandPaths() {
	c.Paths.Song = ExpandHome(c.Paths.Song)
	c.Paths.MV = ExpandHome(c.Paths.MV)
	c.Paths.Lyric = ExpandHome(c.Paths.Lyric)
	c.Paths.Cache = ExpandHome(c.Paths.Cache)
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() string {
	home := homeDir()
	locations := []string{
		"./musictransfer.yaml",
		"./musictransfer.yml",
		filepath.Join(home, ".config", "musictransfer", "config.yaml"),
		filepath.Join(home, ".config", "musictransfer", "config.yml"),
		filepath.Join(home, ".musictransfer.yaml"),
		filepath.Join(home, ".musictransfer.yml"),
	}

	for _, path := range locations {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// SaveConfigFile saves the current configuration to a YAML file
func SaveConfigFile(cfg Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetDefaultConfigPath returns the default config file path
func GetDefaultConfigPath() string {
	return filepath.Join(homeDir(), ".config", "musictransfer", "config.yaml")
}

// GetDefaultLogPath returns the default log directory path
func GetDefaultLogPath() string {
	return filepath.Join(homeDir(), ".local", "share", "musictransfer", "logs")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.Getenv("HOME")
	}
	return home
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if !strings.HasPrefix(c.LookupURL, "http://") && !strings.HasPrefix(c.LookupURL, "https://") {
		return fmt.Errorf("lookup_url must start with http:// or https://")
	}

	return nil
}
