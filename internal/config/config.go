package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration for the Relay dispatcher.
// It is loaded from ~/.relay/config.yaml and can be overridden by environment variables.
type Config struct {
	LLM       LLMConfig       `mapstructure:"llm" yaml:"llm"`
	SmartAuto SmartAutoConfig `mapstructure:"smart_auto" yaml:"smart_auto"`
	Defaults  RequestDefaults `mapstructure:"defaults" yaml:"defaults"`
	Knowledge KnowledgeConfig `mapstructure:"knowledge" yaml:"knowledge"`
	Gateway   GatewayConfig   `mapstructure:"gateway" yaml:"gateway"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// LLMConfig contains configuration for the two LLM backends Relay dispatches to.
type LLMConfig struct {
	// Local is the OpenAI-compatible local server (e.g. Ollama's /v1 shim)
	Local LocalProviderConfig `mapstructure:"local" yaml:"local"`
	// OpenRouter is the hosted multi-model cloud gateway
	OpenRouter OpenRouterConfig `mapstructure:"openrouter" yaml:"openrouter"`
}

// LocalProviderConfig configures the local OpenAI-compatible provider.
type LocalProviderConfig struct {
	// Enabled determines whether the local provider participates in dispatch
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// BaseURL is the API root, e.g. "http://localhost:11434/v1"
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	// TimeoutSec is the per-request timeout in seconds
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec"`
	// ProbeTimeoutSec is the short reachability-probe timeout in seconds
	ProbeTimeoutSec int `mapstructure:"probe_timeout_sec" yaml:"probe_timeout_sec"`
	// DefaultModel is the logical model used when nothing else is selected
	DefaultModel string `mapstructure:"default_model" yaml:"default_model"`
	// AutoFallback allows automatic requests that fail here to retry elsewhere
	AutoFallback bool `mapstructure:"auto_fallback" yaml:"auto_fallback"`
	// Models maps logical model names to the concrete names the server knows
	Models map[string]string `mapstructure:"models" yaml:"models"`
	// EnglishOnly lists logical models that only accept English prompts
	EnglishOnly []string `mapstructure:"english_only" yaml:"english_only"`
	// TranslatorModel is the logical name of the language-agnostic translator
	TranslatorModel string `mapstructure:"translator_model" yaml:"translator_model"`
}

// Timeout returns the per-request timeout as a duration.
func (c LocalProviderConfig) Timeout() time.Duration {
	if c.TimeoutSec <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.TimeoutSec) * time.Second
}

// ProbeTimeout returns the reachability-probe timeout as a duration.
func (c LocalProviderConfig) ProbeTimeout() time.Duration {
	if c.ProbeTimeoutSec <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.ProbeTimeoutSec) * time.Second
}

// RequiresEnglish reports whether the given logical model accepts English input only.
func (c LocalProviderConfig) RequiresEnglish(logical string) bool {
	for _, name := range c.EnglishOnly {
		if name == logical {
			return true
		}
	}
	return false
}

// OpenRouterConfig configures the OpenRouter cloud provider.
type OpenRouterConfig struct {
	// Enabled determines whether the cloud provider participates in dispatch
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// BaseURL is the API root, e.g. "https://openrouter.ai/api/v1"
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	// TimeoutSec is the per-request timeout in seconds
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec"`
	// APIKey is the bearer token; OPENROUTER_API_KEY is used when empty
	APIKey string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	// DefaultModel is the model used when nothing else is selected
	DefaultModel string `mapstructure:"default_model" yaml:"default_model"`
	// AutoFallback allows automatic requests that fail here to retry elsewhere
	AutoFallback bool `mapstructure:"auto_fallback" yaml:"auto_fallback"`
	// Models maps logical model names to namespaced OpenRouter names
	Models map[string]string `mapstructure:"models" yaml:"models"`
	// Referer is sent as the HTTP-Referer attribution header
	Referer string `mapstructure:"referer" yaml:"referer"`
	// AppTitle is sent as the X-Title attribution header
	AppTitle string `mapstructure:"app_title" yaml:"app_title"`
}

// Timeout returns the per-request timeout as a duration.
func (c OpenRouterConfig) Timeout() time.Duration {
	if c.TimeoutSec <= 0 {
		return 90 * time.Second
	}
	return time.Duration(c.TimeoutSec) * time.Second
}

// ResolveAPIKey returns the configured API key, falling back to the
// OPENROUTER_API_KEY environment variable.
func (c OpenRouterConfig) ResolveAPIKey() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	return os.Getenv("OPENROUTER_API_KEY")
}

// Credentialed reports whether an API key is available from any source.
func (c OpenRouterConfig) Credentialed() bool {
	return c.ResolveAPIKey() != ""
}

// SmartAutoConfig controls automatic model selection for requests that
// don't name a model explicitly.
type SmartAutoConfig struct {
	// Enabled turns category-based selection on; when off the default model is used
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// DefaultModel is the logical model for unmapped categories (and the off switch target)
	DefaultModel string `mapstructure:"default_model" yaml:"default_model"`
	// FallbackModel is the logical model tried on the local provider as a last resort
	FallbackModel string `mapstructure:"fallback_model" yaml:"fallback_model"`
	// CategoryModels maps task categories to logical model names
	CategoryModels map[string]string `mapstructure:"category_models" yaml:"category_models"`
}

// RequestDefaults holds sampling parameters applied when a request leaves them unset.
type RequestDefaults struct {
	// Temperature is the default sampling temperature
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`
	// MaxTokens is the default completion-length cap
	MaxTokens int `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// KnowledgeConfig contains configuration for the question/answer store.
type KnowledgeConfig struct {
	// Enabled determines whether dispatch consults the store before calling a provider
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// DBPath is the path to the SQLite knowledge database
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
	// MinRating is the average rating a stored answer needs to be served
	MinRating float64 `mapstructure:"min_rating" yaml:"min_rating"`
	// MaxResults caps how many candidates a lookup returns
	MaxResults int `mapstructure:"max_results" yaml:"max_results"`
}

// GatewayConfig contains configuration for the HTTP/WebSocket serving surface.
type GatewayConfig struct {
	// Host is the listen address
	Host string `mapstructure:"host" yaml:"host"`
	// Port is the listen port
	Port int `mapstructure:"port" yaml:"port"`
	// AuthTokenHash is the bcrypt hash of the bearer token; empty disables auth
	AuthTokenHash string `mapstructure:"auth_token_hash" yaml:"auth_token_hash,omitempty"`
	// EventHistory is how many past events new /events subscribers receive
	EventHistory int `mapstructure:"event_history" yaml:"event_history"`
}

// Addr returns the host:port listen address.
func (c GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoggingConfig contains configuration for application logging.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error")
	Level string `mapstructure:"level" yaml:"level"`
	// File is the path to the log file
	File string `mapstructure:"file" yaml:"file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	relayDir := filepath.Join(homeDir, ".relay")

	return &Config{
		LLM: LLMConfig{
			Local: LocalProviderConfig{
				Enabled:         true,
				BaseURL:         "http://localhost:11434/v1",
				TimeoutSec:      120,
				ProbeTimeoutSec: 2,
				DefaultModel:    "chat",
				AutoFallback:    true,
				Models: map[string]string{
					"chat":       "llama3.2",
					"code":       "qwen2.5-coder:7b",
					"reasoning":  "deepseek-r1:8b",
					"translator": "qwen2.5:3b",
				},
				EnglishOnly:     []string{"code", "reasoning"},
				TranslatorModel: "translator",
			},
			OpenRouter: OpenRouterConfig{
				Enabled:      true,
				BaseURL:      "https://openrouter.ai/api/v1",
				TimeoutSec:   90,
				APIKey:       "",
				DefaultModel: "deepseek/deepseek-chat",
				AutoFallback: true,
				Models: map[string]string{
					"chat":             "deepseek/deepseek-chat",
					"code":             "qwen/qwen-2.5-coder-32b-instruct",
					"reasoning":        "deepseek/deepseek-r1",
					"deepseek-r1:free": "deepseek/deepseek-r1:free",
					"deepseek-chat":    "deepseek/deepseek-chat",
				},
				Referer:  "https://github.com/normanking/relay",
				AppTitle: "Relay",
			},
		},
		SmartAuto: SmartAutoConfig{
			Enabled:       true,
			DefaultModel:  "chat",
			FallbackModel: "chat",
			CategoryModels: map[string]string{
				"code":        "code",
				"explanation": "reasoning",
				"reasoning":   "reasoning",
				"translation": "reasoning",
				"analysis":    "reasoning",
			},
		},
		Defaults: RequestDefaults{
			Temperature: 0.7,
			MaxTokens:   2048,
		},
		Knowledge: KnowledgeConfig{
			Enabled:    true,
			DBPath:     filepath.Join(relayDir, "knowledge.db"),
			MinRating:  4.0,
			MaxResults: 5,
		},
		Gateway: GatewayConfig{
			Host:          "127.0.0.1",
			Port:          8901,
			AuthTokenHash: "",
			EventHistory:  64,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(relayDir, "logs", "relay.log"),
		},
	}
}

// Load reads configuration from the default location (~/.relay/config.yaml)
// and merges with environment variables. If no config file exists, it creates
// one with default values.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	configPath := filepath.Join(homeDir, ".relay", "config.yaml")
	return LoadFromPath(configPath)
}

// LoadFromPath reads configuration from a specific file path and merges with
// environment variables. If the file doesn't exist, it creates one with default values.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := writeConfigFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Environment overrides, e.g. RELAY_LLM_OPENROUTER_API_KEY
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Knowledge.DBPath = expandPath(cfg.Knowledge.DBPath)
	cfg.Logging.File = expandPath(cfg.Logging.File)

	cfg.applyProviderDefaults()

	return &cfg, nil
}

// applyProviderDefaults fills in missing provider values with sensible defaults.
// This handles hand-edited configs that enable a provider but leave its
// connection details empty.
func (c *Config) applyProviderDefaults() {
	defaults := Default()

	if c.LLM.Local.Enabled {
		if c.LLM.Local.BaseURL == "" {
			c.LLM.Local.BaseURL = defaults.LLM.Local.BaseURL
		}
		if c.LLM.Local.DefaultModel == "" {
			c.LLM.Local.DefaultModel = defaults.LLM.Local.DefaultModel
		}
		if len(c.LLM.Local.Models) == 0 {
			c.LLM.Local.Models = defaults.LLM.Local.Models
		}
	}

	if c.LLM.OpenRouter.Enabled {
		if c.LLM.OpenRouter.BaseURL == "" {
			c.LLM.OpenRouter.BaseURL = defaults.LLM.OpenRouter.BaseURL
		}
		if c.LLM.OpenRouter.DefaultModel == "" {
			c.LLM.OpenRouter.DefaultModel = defaults.LLM.OpenRouter.DefaultModel
		}
		if c.LLM.OpenRouter.AppTitle == "" {
			c.LLM.OpenRouter.AppTitle = defaults.LLM.OpenRouter.AppTitle
		}
	}

	if c.SmartAuto.Enabled {
		if c.SmartAuto.DefaultModel == "" {
			c.SmartAuto.DefaultModel = defaults.SmartAuto.DefaultModel
		}
		if c.SmartAuto.FallbackModel == "" {
			c.SmartAuto.FallbackModel = defaults.SmartAuto.FallbackModel
		}
		if len(c.SmartAuto.CategoryModels) == 0 {
			c.SmartAuto.CategoryModels = defaults.SmartAuto.CategoryModels
		}
	}

	if c.Knowledge.MaxResults <= 0 {
		c.Knowledge.MaxResults = defaults.Knowledge.MaxResults
	}
	if c.Gateway.EventHistory <= 0 {
		c.Gateway.EventHistory = defaults.Gateway.EventHistory
	}
}

// Save writes the current configuration to the default config file location.
func (c *Config) Save() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	configPath := filepath.Join(homeDir, ".relay", "config.yaml")
	return c.SaveToPath(configPath)
}

// SaveToPath writes the current configuration to a specific file path.
func (c *Config) SaveToPath(path string) error {
	path = expandPath(path)

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return writeConfigFile(path, c)
}

// GetDataDir returns the Relay data directory path (~/.relay).
func (c *Config) GetDataDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".relay")
}

// GetConfigPath returns the full path to the config file.
func (c *Config) GetConfigPath() string {
	return filepath.Join(c.GetDataDir(), "config.yaml")
}

// EnsureDirectories creates all necessary directories for Relay operation.
// This includes the data directory, logs directory, and knowledge database directory.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.GetDataDir(),
		filepath.Dir(c.Logging.File),
		filepath.Dir(c.Knowledge.DBPath),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// Validate checks the configuration for common errors and inconsistencies.
func (c *Config) Validate() error {
	if !c.LLM.Local.Enabled && !c.LLM.OpenRouter.Enabled {
		return fmt.Errorf("at least one provider must be enabled")
	}

	if c.LLM.Local.Enabled {
		if c.LLM.Local.BaseURL == "" {
			return fmt.Errorf("llm.local.base_url cannot be empty when the local provider is enabled")
		}
		if len(c.LLM.Local.Models) == 0 {
			return fmt.Errorf("llm.local.models cannot be empty when the local provider is enabled")
		}
		if _, ok := c.LLM.Local.Models[c.LLM.Local.DefaultModel]; !ok {
			return fmt.Errorf("llm.local.default_model '%s' not found in llm.local.models", c.LLM.Local.DefaultModel)
		}
		for _, logical := range c.LLM.Local.EnglishOnly {
			if _, ok := c.LLM.Local.Models[logical]; !ok {
				return fmt.Errorf("llm.local.english_only entry '%s' not found in llm.local.models", logical)
			}
		}
		if len(c.LLM.Local.EnglishOnly) > 0 && c.LLM.Local.TranslatorModel != "" {
			if _, ok := c.LLM.Local.Models[c.LLM.Local.TranslatorModel]; !ok {
				return fmt.Errorf("llm.local.translator_model '%s' not found in llm.local.models", c.LLM.Local.TranslatorModel)
			}
		}
	}

	if c.LLM.OpenRouter.Enabled {
		if c.LLM.OpenRouter.BaseURL == "" {
			return fmt.Errorf("llm.openrouter.base_url cannot be empty when openrouter is enabled")
		}
		if c.LLM.OpenRouter.DefaultModel == "" {
			return fmt.Errorf("llm.openrouter.default_model cannot be empty when openrouter is enabled")
		}
	}

	if c.SmartAuto.Enabled && c.SmartAuto.DefaultModel == "" {
		return fmt.Errorf("smart_auto.default_model cannot be empty when smart_auto is enabled")
	}

	if c.Knowledge.MinRating < 0 || c.Knowledge.MinRating > 5 {
		return fmt.Errorf("knowledge.min_rating must be between 0 and 5")
	}

	if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port must be between 1 and 65535")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}

	return nil
}

// writeConfigFile writes a Config struct to a YAML file.
// Uses gopkg.in/yaml.v3 directly to ensure proper tag-based serialization.
func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// expandPath expands ~ to the user's home directory in a path string.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}
