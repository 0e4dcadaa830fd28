package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/MEKXH/farcode/internal/policy"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Provider names accepted in agent.provider.
const (
	ProviderOpenRouter = "open_router"
	ProviderGoogle     = "google"
	ProviderGroq       = "groq"
	ProviderOpenAI     = "openai"
	ProviderClaude     = "claude"
	ProviderOllama     = "ollama"
)

var knownProviders = []string{
	ProviderOpenRouter,
	ProviderGoogle,
	ProviderGroq,
	ProviderOpenAI,
	ProviderClaude,
	ProviderOllama,
}

// Config root configuration
type Config struct {
	Agent     AgentConfig     `mapstructure:"agent" json:"agent"`
	Providers ProvidersConfig `mapstructure:"providers" json:"providers"`
	Log       LogConfig       `mapstructure:"log" json:"log"`
	Shell     ShellConfig     `mapstructure:"shell" json:"shell"`
	Approval  ApprovalConfig  `mapstructure:"approval" json:"approval"`
	MCP       MCPConfig       `mapstructure:"mcp" json:"mcp"`
}

// AgentConfig agent parameters
type AgentConfig struct {
	Provider          string  `mapstructure:"provider" json:"provider"`
	Model             string  `mapstructure:"model" json:"model"`
	MaxTokens         int     `mapstructure:"max_tokens" json:"max_tokens"`
	Temperature       float64 `mapstructure:"temperature" json:"temperature"`
	MaxToolIterations int     `mapstructure:"max_tool_iterations" json:"max_tool_iterations"`
	HistoryLimit      int     `mapstructure:"history_limit" json:"history_limit"`
}

// ProvidersConfig LLM provider settings
type ProvidersConfig struct {
	OpenRouter ProviderConfig `mapstructure:"open_router" json:"open_router"`
	Google     ProviderConfig `mapstructure:"google" json:"google"`
	Groq       ProviderConfig `mapstructure:"groq" json:"groq"`
	OpenAI     ProviderConfig `mapstructure:"openai" json:"openai"`
	Claude     ProviderConfig `mapstructure:"claude" json:"claude"`
	Ollama     ProviderConfig `mapstructure:"ollama" json:"ollama"`
}

// ProviderConfig single provider settings
type ProviderConfig struct {
	APIKey  string `mapstructure:"api_key" json:"api_key"`
	BaseURL string `mapstructure:"base_url" json:"base_url"`
}

// LogConfig application logging settings
type LogConfig struct {
	Level string `mapstructure:"level" json:"level"`
	File  string `mapstructure:"file" json:"file"`
}

// ShellConfig holds command policy overrides. PolicyFile, when set, is a
// YAML or TOML file whose keys take precedence over the inline ones.
type ShellConfig struct {
	policy.Overrides `mapstructure:",squash"`
	PolicyFile       string `mapstructure:"policy_file" json:"policy_file"`
}

// ApprovalConfig approval gate settings
type ApprovalConfig struct {
	Mode          string   `mapstructure:"mode" json:"mode"`
	AutoApprove   []string `mapstructure:"auto_approve" json:"auto_approve"`
	PromptTimeout int      `mapstructure:"prompt_timeout" json:"prompt_timeout"` // seconds, 0 waits forever
}

// MCPConfig remote tool settings
type MCPConfig struct {
	SettingsPath   string `mapstructure:"settings_path" json:"settings_path"`
	ConnectTimeout int    `mapstructure:"connect_timeout" json:"connect_timeout"` // seconds
	Watch          bool   `mapstructure:"watch" json:"watch"`
}

// DefaultConfig returns config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Provider:          ProviderOpenRouter,
			Model:             "",
			MaxTokens:         8192,
			Temperature:       0.7,
			MaxToolIterations: 20,
			HistoryLimit:      50,
		},
		Providers: ProvidersConfig{},
		Log: LogConfig{
			Level: "info",
			File:  "",
		},
		Shell: ShellConfig{
			Overrides: policy.Overrides{
				AllowedCommands: []string{},
				DeniedCommands:  []string{},
				AllowedRoots:    []string{},
				ProtectedPaths:  []string{},
				TimeoutSeconds:  int(policy.DefaultTimeout / time.Second),
				MaxOutputBytes:  policy.DefaultMaxOutputBytes,
			},
		},
		Approval: ApprovalConfig{
			Mode:          "strict",
			AutoApprove:   []string{},
			PromptTimeout: 0,
		},
		MCP: MCPConfig{
			ConnectTimeout: 30,
			Watch:          false,
		},
	}
}

// ConfigDir returns the farcode config directory
func ConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		slog.Warn("failed to resolve home directory, using current directory as fallback", "error", err)
		homeDir = "."
	}
	return filepath.Join(homeDir, ".farcode")
}

// ConfigPath returns the config file path
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// StateDir holds the audit log and metrics.
func StateDir() string {
	return filepath.Join(ConfigDir(), "state")
}

// Load loads config from file or returns defaults
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := ConfigPath()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := Save(cfg); err != nil {
			return cfg, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, cfg.Validate()
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")
	v.SetEnvPrefix("FARCODE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return cfg, err
	}

	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.MatchName = func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		}
	}); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func normalizeKey(input string) string {
	input = strings.ReplaceAll(input, "_", "")
	input = strings.ReplaceAll(input, "-", "")
	return strings.ToLower(input)
}

// Save saves config to file
func Save(cfg *Config) error {
	configPath := ConfigPath()

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0600)
}

// Validate checks that the configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	a := &c.Agent

	provider := strings.ToLower(strings.TrimSpace(a.Provider))
	if provider == "" {
		provider = ProviderOpenRouter
	}
	if !slices.Contains(knownProviders, provider) {
		return fmt.Errorf("agent.provider must be one of %s; got %q", strings.Join(knownProviders, ", "), a.Provider)
	}
	a.Provider = provider

	if a.MaxToolIterations < 0 {
		return fmt.Errorf("agent.max_tool_iterations must not be negative, got %d", a.MaxToolIterations)
	}
	if a.MaxToolIterations == 0 {
		a.MaxToolIterations = 20
	}
	if a.HistoryLimit < 0 {
		return fmt.Errorf("agent.history_limit must not be negative, got %d", a.HistoryLimit)
	}

	if a.Temperature < 0 || a.Temperature > 2.0 {
		return fmt.Errorf("agent.temperature must be between 0 and 2.0, got %f", a.Temperature)
	}

	if a.MaxTokens <= 0 {
		return fmt.Errorf("agent.max_tokens must be > 0, got %d", a.MaxTokens)
	}

	level := strings.ToLower(strings.TrimSpace(c.Log.Level))
	if level == "" {
		c.Log.Level = "info"
	} else {
		validLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[level] {
			return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
		}
		c.Log.Level = level
	}

	if c.Shell.TimeoutSeconds < 0 {
		return fmt.Errorf("shell.timeout_seconds must not be negative, got %d", c.Shell.TimeoutSeconds)
	}
	if c.Shell.MaxOutputBytes < 0 {
		return fmt.Errorf("shell.max_output_bytes must not be negative, got %d", c.Shell.MaxOutputBytes)
	}

	mode := strings.ToLower(strings.TrimSpace(c.Approval.Mode))
	switch mode {
	case "":
		c.Approval.Mode = "strict"
	case "strict", "relaxed":
		c.Approval.Mode = mode
	default:
		return fmt.Errorf("approval.mode must be one of strict, relaxed; got %q", c.Approval.Mode)
	}
	if c.Approval.PromptTimeout < 0 {
		return fmt.Errorf("approval.prompt_timeout must not be negative, got %d", c.Approval.PromptTimeout)
	}

	if c.MCP.ConnectTimeout < 0 {
		return fmt.Errorf("mcp.connect_timeout must not be negative, got %d", c.MCP.ConnectTimeout)
	}
	if c.MCP.ConnectTimeout == 0 {
		c.MCP.ConnectTimeout = 30
	}

	return nil
}

// PolicyOverrides returns the inline shell overrides merged with the policy
// file, if one is configured.
func (c *Config) PolicyOverrides() (policy.Overrides, error) {
	overrides := c.Shell.Overrides
	path := strings.TrimSpace(c.Shell.PolicyFile)
	if path == "" {
		return overrides, nil
	}
	expanded, err := policy.ExpandHome(path)
	if err != nil {
		return overrides, err
	}
	fromFile, err := policy.LoadFile(expanded)
	if err != nil {
		return overrides, fmt.Errorf("load shell.policy_file: %w", err)
	}
	return overrides.Merge(fromFile), nil
}

// PromptTimeout is approval.prompt_timeout as a duration.
func (c *Config) PromptTimeout() time.Duration {
	return time.Duration(c.Approval.PromptTimeout) * time.Second
}

// ConnectTimeout is mcp.connect_timeout as a duration.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.MCP.ConnectTimeout) * time.Second
}
