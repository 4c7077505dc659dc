package config

import "time"

// DefaultTargetFileName is the self-introduction file name ingested by default.
const DefaultTargetFileName = "自己紹介.pdf"

// LLM defaults shared with the clients.
const (
	DefaultAnthropicModel = "claude-sonnet-4-5"
	DefaultOpenAIModel    = "gpt-4o-mini"
	DefaultOpenAIBaseURL  = "https://api.openai.com/v1"
	DefaultLLMMaxTokens   = 2048
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5000
	}
	if cfg.Server.AllowedOrigins == nil {
		cfg.Server.AllowedOrigins = []string{"*"}
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = 20 << 20
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/nakama/data/profiles.db"
	}
	if cfg.Storage.MongoDatabase == "" {
		cfg.Storage.MongoDatabase = "nakama"
	}
	if cfg.Storage.Collection == "" {
		cfg.Storage.Collection = "profiles"
	}
	if cfg.Search.Mode == "" {
		cfg.Search.Mode = "substring"
	}
	if cfg.Search.Sources == "" {
		cfg.Search.Sources = "all"
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "none"
	}
	if cfg.LLM.Model == "" {
		switch cfg.LLM.Provider {
		case "anthropic":
			cfg.LLM.Model = DefaultAnthropicModel
		case "openai":
			cfg.LLM.Model = DefaultOpenAIModel
		}
	}
	if cfg.LLM.BaseURL == "" && cfg.LLM.Provider == "openai" {
		cfg.LLM.BaseURL = DefaultOpenAIBaseURL
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = DefaultLLMMaxTokens
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 120 * time.Second
	}
	if cfg.LLM.RequestsPerSecond == 0 {
		cfg.LLM.RequestsPerSecond = 1
	}
	if cfg.LLM.Burst == 0 {
		cfg.LLM.Burst = 2
	}
	if cfg.Booklet.Timeout == 0 {
		cfg.Booklet.Timeout = 45 * time.Second
	}
	if cfg.Booklet.CacheTTL == 0 {
		cfg.Booklet.CacheTTL = 24 * time.Hour
	}
	if cfg.Ingest.Extensions == nil {
		cfg.Ingest.Extensions = []string{".pdf", ".docx", ".odt", ".rtf", ".xlsx", ".txt", ".md"}
	}
	if cfg.Ingest.TargetFileNames == nil {
		cfg.Ingest.TargetFileNames = []string{DefaultTargetFileName}
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Ingest.Directories) > 0 && cfg.Ingest.Recursive == nil {
		t := true
		cfg.Ingest.Recursive = &t
	}
	if cfg.Drive.RequestsPerSecond == 0 {
		cfg.Drive.RequestsPerSecond = 8
	}
	if cfg.Drive.Burst == 0 {
		cfg.Drive.Burst = 10
	}
	if cfg.Events.Queue == "" {
		cfg.Events.Queue = "nakama-drive-uploads"
	}
	if cfg.Events.Prefetch == 0 {
		cfg.Events.Prefetch = 10
	}
}
