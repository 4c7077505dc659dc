// Package config provides configuration loading and structs for the nakama server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug   bool          `yaml:"debug" env:"NAKAMA_DEBUG"`
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Search  SearchConfig  `yaml:"search"`
	LLM     LLMConfig     `yaml:"llm"`
	Booklet BookletConfig `yaml:"booklet"`
	Cache   CacheConfig   `yaml:"cache"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Drive   DriveConfig   `yaml:"drive"`
	Events  EventsConfig  `yaml:"events"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host" env:"NAKAMA_HOST"`
	Port           int           `yaml:"port" env:"NAKAMA_PORT"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
}

// StorageConfig selects and configures the profile store.
type StorageConfig struct {
	// Driver is "sqlite" or "mongo".
	Driver        string `yaml:"driver" env:"NAKAMA_STORAGE_DRIVER"`
	DatabasePath  string `yaml:"database_path" env:"NAKAMA_DATABASE_PATH"`
	MongoURI      string `yaml:"mongo_uri" env:"NAKAMA_MONGO_URI"`
	MongoDatabase string `yaml:"mongo_database" env:"NAKAMA_MONGO_DATABASE"`
	Collection    string `yaml:"collection"`
}

// SearchConfig holds matching settings.
type SearchConfig struct {
	// Mode is "substring" or "exact".
	Mode string `yaml:"mode"`
	// Sources is "all", "keywords_first", "keywords" or "raw".
	Sources string `yaml:"sources"`
	// RegionExpansion enables region synonym expansion of birthplace terms; defaults to true.
	RegionExpansion *bool `yaml:"region_expansion"`
	// RegionTablePath is an optional YAML file merged over the built-in region table.
	RegionTablePath string `yaml:"region_table_path"`
	// StorePrefilter narrows candidates with store-level array-contains queries on the
	// keyword fields before matching in memory.
	StorePrefilter bool `yaml:"store_prefilter"`
}

// RegionExpansionOrDefault returns whether region expansion is enabled; defaults to true when unset.
func (s *SearchConfig) RegionExpansionOrDefault() bool {
	if s.RegionExpansion != nil {
		return *s.RegionExpansion
	}
	return true
}

// LLMConfig configures the generative-text client.
type LLMConfig struct {
	// Provider is "none", "anthropic" or "openai" (any OpenAI-compatible endpoint).
	Provider          string        `yaml:"provider" env:"NAKAMA_LLM_PROVIDER"`
	Model             string        `yaml:"model" env:"NAKAMA_LLM_MODEL"`
	APIKey            string        `yaml:"api_key" env:"NAKAMA_LLM_API_KEY"`
	BaseURL           string        `yaml:"base_url" env:"NAKAMA_LLM_BASE_URL"`
	MaxTokens         int           `yaml:"max_tokens"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

// BookletConfig holds booklet generation settings.
type BookletConfig struct {
	Timeout  time.Duration `yaml:"timeout"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// BookletTimeout returns the booklet generation timeout, capped at three quarters of the
// server request timeout so a slow model still leaves time to answer with the fallback text.
func (c *Config) BookletTimeout() time.Duration {
	timeout := c.Booklet.Timeout
	if limit := c.Server.RequestTimeout * 3 / 4; limit > 0 && (timeout == 0 || timeout > limit) {
		return limit
	}
	return timeout
}

// CacheConfig configures the optional Redis cache for generated booklets.
type CacheConfig struct {
	RedisAddr     string `yaml:"redis_addr" env:"NAKAMA_REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" env:"NAKAMA_REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"NAKAMA_REDIS_DB"`
}

// IngestConfig holds settings for self-introduction ingestion.
type IngestConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	// TargetFileNames restricts ingestion to these base names; empty accepts every file.
	TargetFileNames []string `yaml:"target_file_names"`
	Recursive       *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (i *IngestConfig) RecursiveOrDefault() bool {
	if i.Recursive != nil {
		return *i.Recursive
	}
	return true
}

// DriveConfig configures downloads of uploaded files from Google Drive.
type DriveConfig struct {
	CredentialsFile   string  `yaml:"credentials_file" env:"NAKAMA_DRIVE_CREDENTIALS"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// EventsConfig configures the upload notification consumer.
type EventsConfig struct {
	AMQPURI  string `yaml:"amqp_uri" env:"NAKAMA_AMQP_URI"`
	Queue    string `yaml:"queue" env:"NAKAMA_AMQP_QUEUE"`
	Prefetch int    `yaml:"prefetch"`
}

// Load reads and parses the config file at path, loads .env files, applies environment
// overrides and defaults, and expands paths.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	configDir := filepath.Dir(path)
	loadDotEnv(filepath.Join(configDir, ".env"))
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	ApplyDefaults(&cfg)
	expandPaths(&cfg, configDir)
	return &cfg, nil
}

// Default returns a config built from defaults and the environment only.
// Relative paths are resolved against the working directory.
func Default() (*Config, error) {
	var cfg Config
	loadDotEnv()
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	ApplyDefaults(&cfg)
	if cwd, err := os.Getwd(); err == nil {
		expandPaths(&cfg, cwd)
	}
	return &cfg, nil
}

// loadDotEnv loads .env files without overriding variables already set.
// With no arguments it loads .env from the working directory. Missing files are ignored.
func loadDotEnv(paths ...string) {
	if len(paths) == 0 {
		_ = godotenv.Load()
		return
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func expandPaths(cfg *Config, configDir string) {
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	if cfg.Search.RegionTablePath != "" {
		cfg.Search.RegionTablePath = expandPath(cfg.Search.RegionTablePath, configDir)
	}
	if cfg.Drive.CredentialsFile != "" {
		cfg.Drive.CredentialsFile = expandPath(cfg.Drive.CredentialsFile, configDir)
	}
	for i := range cfg.Ingest.Directories {
		cfg.Ingest.Directories[i] = expandPath(cfg.Ingest.Directories[i], configDir)
	}
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
