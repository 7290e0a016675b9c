package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Supported values for Config.LLMProvider.
const (
	ProviderDeepSeek = "deepseek"
	ProviderOpenAI   = "openai"
	ProviderGoogle   = "google"
)

// Supported values for SessionStoreConfig.Driver.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Environment variables read once at startup by ApplyEnv.
const (
	EnvProvider      = "AGENTDESK_LLM_PROVIDER"
	EnvAPIKey        = "AGENTDESK_API_KEY"
	EnvAPIURL        = "AGENTDESK_API_URL"
	EnvModel         = "AGENTDESK_MODEL"
	EnvLogLevel      = "AGENTDESK_LOG_LEVEL"
	EnvStoreDriver   = "AGENTDESK_SESSION_STORE"
	EnvRedisAddr     = "AGENTDESK_REDIS_ADDR"
	EnvRedisPassword = "AGENTDESK_REDIS_PASSWORD"
	EnvRedisDB       = "AGENTDESK_REDIS_DB"
)

// Config represents the application configuration
type Config struct {
	LLMProvider  string             `json:"llm_provider"`
	Providers    ProvidersConfig    `json:"providers"`
	Retry        RetryConfig        `json:"retry"`
	Workflow     WorkflowConfig     `json:"workflow"`
	SessionStore SessionStoreConfig `json:"session_store"`
	CatalogFile  string             `json:"catalog_file,omitempty"`
	LogLevel     string             `json:"log_level"`
	LogFormat    string             `json:"log_format"`
	LogFile      string             `json:"log_file,omitempty"`
}

// ProvidersConfig holds one settings block per provider family.
type ProvidersConfig struct {
	DeepSeek ProviderSettings `json:"deepseek"`
	OpenAI   ProviderSettings `json:"openai"`
	Google   ProviderSettings `json:"google"`
}

// ProviderSettings holds the API configuration of a single provider.
type ProviderSettings struct {
	APIKey            string  `json:"api_key"`
	APIURL            string  `json:"api_url,omitempty"`
	Model             string  `json:"model"`
	Temperature       float64 `json:"temperature"`
	MaxTokens         int     `json:"max_tokens"`
	APITimeoutSeconds int     `json:"api_timeout_seconds"`
}

// RetryConfig controls the rate-limit retry policy of the LLM service.
type RetryConfig struct {
	MaxRetries int `json:"max_retries"`
	BackoffMS  int `json:"backoff_ms"`
}

// WorkflowConfig controls the group workflow.
type WorkflowConfig struct {
	PMAgentID     string `json:"pm_agent_id"`
	DraftDelayMS  int    `json:"draft_delay_ms"`
	ReviseDelayMS int    `json:"revise_delay_ms"`
}

// SessionStoreConfig selects the session store backend.
type SessionStoreConfig struct {
	Driver        string `json:"driver"`
	RedisAddr     string `json:"redis_addr,omitempty"`
	RedisPassword string `json:"redis_password,omitempty"`
	RedisDB       int    `json:"redis_db,omitempty"`
}

// Default returns a configuration with default values
func Default() Config {
	return Config{
		LLMProvider: ProviderDeepSeek,
		Providers: ProvidersConfig{
			DeepSeek: ProviderSettings{
				APIURL:            "https://api.deepseek.com",
				Model:             "deepseek-chat",
				Temperature:       1.0,
				APITimeoutSeconds: 120,
			},
			OpenAI: ProviderSettings{
				APIURL:            "https://api.openai.com/v1",
				Model:             "gpt-4o-mini",
				Temperature:       0.7,
				APITimeoutSeconds: 60,
			},
			Google: ProviderSettings{
				Model:             "gemini-2.5-flash",
				APITimeoutSeconds: 60,
			},
		},
		Retry: RetryConfig{
			MaxRetries: 2,
			BackoffMS:  5000,
		},
		Workflow: WorkflowConfig{
			PMAgentID:     "agent-general",
			DraftDelayMS:  800,
			ReviseDelayMS: 1000,
		},
		SessionStore: SessionStoreConfig{
			Driver: StoreMemory,
		},
		LogLevel:  "info",
		LogFormat: "json",
	}
}

// Load loads configuration from the specified path
// If the file doesn't exist, creates one with default values
func Load(configPath string) (Config, error) {
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return Config{}, fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			if err := Save(configPath, cfg); err != nil {
				return Config{}, fmt.Errorf("failed to create default config: %w", err)
			}
			return cfg, nil
		}
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	// Unmarshal over the defaults so missing keys keep their default value.
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// Save saves the configuration to the specified path
func Save(configPath string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// ApplyEnv layers environment overrides on top of cfg. The API key, URL and
// model variables apply to the selected provider.
func ApplyEnv(cfg Config, getenv func(string) string) Config {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := strings.TrimSpace(getenv(EnvProvider)); v != "" {
		cfg.LLMProvider = strings.ToLower(v)
	}

	if settings := cfg.Provider(); settings != nil {
		if v := strings.TrimSpace(getenv(EnvAPIKey)); v != "" {
			settings.APIKey = v
		}
		if v := strings.TrimSpace(getenv(EnvAPIURL)); v != "" {
			settings.APIURL = v
		}
		if v := strings.TrimSpace(getenv(EnvModel)); v != "" {
			settings.Model = v
		}
	}

	if v := strings.TrimSpace(getenv(EnvLogLevel)); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(getenv(EnvStoreDriver)); v != "" {
		cfg.SessionStore.Driver = strings.ToLower(v)
	}
	if v := strings.TrimSpace(getenv(EnvRedisAddr)); v != "" {
		cfg.SessionStore.RedisAddr = v
	}
	if v := getenv(EnvRedisPassword); v != "" {
		cfg.SessionStore.RedisPassword = v
	}
	if v := strings.TrimSpace(getenv(EnvRedisDB)); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.SessionStore.RedisDB = db
		}
	}

	return cfg
}

// EnvWithDotEnv returns a lookup that prefers getenv and falls back to the
// KEY=VALUE pairs of the .env file at path. A missing file is not an error.
func EnvWithDotEnv(path string, getenv func(string) string) (func(string) string, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if strings.TrimSpace(path) == "" {
		return getenv, nil
	}
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return getenv, nil
		}
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}
	return func(key string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return values[key]
	}, nil
}

// Provider returns a pointer to the settings block of the selected provider,
// or nil when LLMProvider is not a known provider.
func (c *Config) Provider() *ProviderSettings {
	switch c.LLMProvider {
	case ProviderDeepSeek:
		return &c.Providers.DeepSeek
	case ProviderOpenAI:
		return &c.Providers.OpenAI
	case ProviderGoogle:
		return &c.Providers.Google
	default:
		return nil
	}
}

// HasAPIKey reports whether the selected provider has a credential. A missing
// key is a valid configuration; calls fail with a configuration error.
func (c Config) HasAPIKey() bool {
	settings := c.Provider()
	return settings != nil && strings.TrimSpace(settings.APIKey) != ""
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	settings := c.Provider()
	if settings == nil {
		return fmt.Errorf("unsupported LLM provider: %s", c.LLMProvider)
	}

	if settings.Temperature < 0 || settings.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got: %f", settings.Temperature)
	}

	if settings.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must not be negative, got: %d", settings.MaxTokens)
	}

	if settings.APITimeoutSeconds <= 0 {
		return fmt.Errorf("api_timeout_seconds must be positive, got: %d", settings.APITimeoutSeconds)
	}

	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative, got: %d", c.Retry.MaxRetries)
	}
	if c.Retry.BackoffMS < 0 {
		return fmt.Errorf("retry.backoff_ms must not be negative, got: %d", c.Retry.BackoffMS)
	}

	if strings.TrimSpace(c.Workflow.PMAgentID) == "" {
		return fmt.Errorf("workflow.pm_agent_id is required")
	}
	if c.Workflow.DraftDelayMS < 0 || c.Workflow.ReviseDelayMS < 0 {
		return fmt.Errorf("workflow delays must not be negative")
	}

	switch c.SessionStore.Driver {
	case StoreMemory:
	case StoreRedis:
		if strings.TrimSpace(c.SessionStore.RedisAddr) == "" {
			return fmt.Errorf("session_store.redis_addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("unsupported session store driver: %s", c.SessionStore.Driver)
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".agentdesk/config.json"
	}
	return filepath.Join(homeDir, ".agentdesk", "config.json")
}
