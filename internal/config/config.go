// Package config loads refsmith configuration from a YAML file, with
// environment variables taking precedence for credentials.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all refsmith configuration.
type Config struct {
	// GitHub tracker access
	GitHub GitHubConfig `yaml:"github"`

	// LLM configuration (selection policy and research agent)
	LLM LLMConfig `yaml:"llm"`

	// Research sub-agent settings
	Research ResearchConfig `yaml:"research"`

	// Zotero library access
	Zotero ZoteroConfig `yaml:"zotero"`

	// Run history storage
	Store StoreConfig `yaml:"store"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// GitHubConfig configures the issue tracker client.
type GitHubConfig struct {
	Token   string `yaml:"token"`
	BaseURL string `yaml:"base_url"`
}

// LLMConfig configures the model clients.
type LLMConfig struct {
	Provider       string `yaml:"provider"` // openrouter, anthropic, gemini
	APIKey         string `yaml:"api_key"`
	SelectionModel string `yaml:"selection_model"`
	ResearchModel  string `yaml:"research_model"`
	Timeout        string `yaml:"timeout"`
}

// ResearchConfig configures the bounded research loop.
type ResearchConfig struct {
	MaxIterations int    `yaml:"max_iterations"`
	TavilyAPIKey  string `yaml:"tavily_api_key"`
	TavilyBaseURL string `yaml:"tavily_base_url"`
	MaxResults    int    `yaml:"max_results"`
	FetchPages    bool   `yaml:"fetch_pages"`
}

// ZoteroConfig configures the reference library. An empty APIKey or
// LibraryID disables syncing rather than failing the run.
type ZoteroConfig struct {
	APIKey      string `yaml:"api_key"`
	LibraryID   string `yaml:"library_id"`
	LibraryType string `yaml:"library_type"` // user or group
	Timeout     string `yaml:"timeout"`
}

// StoreConfig configures the local run-history database.
type StoreConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		GitHub: GitHubConfig{
			BaseURL: "https://api.github.com",
		},
		LLM: LLMConfig{
			Provider:       "openrouter",
			SelectionModel: "x-ai/grok-4-fast",
			ResearchModel:  "x-ai/grok-4-fast",
			Timeout:        "120s",
		},
		Research: ResearchConfig{
			MaxIterations: 8,
			TavilyBaseURL: "https://api.tavily.com",
			MaxResults:    5,
			FetchPages:    true,
		},
		Zotero: ZoteroConfig{
			LibraryType: "user",
			Timeout:     "30s",
		},
		Store: StoreConfig{
			Enabled:      true,
			DatabasePath: filepath.Join(home, ".refsmith", "runs.db"),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a YAML file. A missing file yields the
// defaults; environment variables override credentials either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		c.GitHub.Token = token
	}
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" && c.LLM.Provider == "openrouter" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && c.LLM.Provider == "anthropic" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && c.LLM.Provider == "gemini" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("TAVILY_API_KEY"); key != "" {
		c.Research.TavilyAPIKey = key
	}
	if key := os.Getenv("ZOTERO_API_KEY"); key != "" {
		c.Zotero.APIKey = key
	}
	if id := os.Getenv("ZOTERO_LIBRARY_ID"); id != "" {
		c.Zotero.LibraryID = id
	}
	if t := os.Getenv("ZOTERO_LIBRARY_TYPE"); t != "" {
		c.Zotero.LibraryType = t
	}
}

// GetLLMTimeout returns the model client timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetZoteroTimeout returns the Zotero client timeout as a duration.
func (c *Config) GetZoteroTimeout() time.Duration {
	d, err := time.ParseDuration(c.Zotero.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// ValidProviders lists all supported LLM providers.
var ValidProviders = []string{"openrouter", "anthropic", "gemini"}

// Validate checks that the configuration can drive a run.
func (c *Config) Validate() error {
	if c.GitHub.Token == "" {
		return fmt.Errorf("GitHub token not configured (set GITHUB_TOKEN)")
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set OPENROUTER_API_KEY, ANTHROPIC_API_KEY, or GEMINI_API_KEY)")
	}

	validProvider := false
	for _, p := range ValidProviders {
		if c.LLM.Provider == p {
			validProvider = true
			break
		}
	}
	if !validProvider {
		return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
	}

	if c.Research.MaxIterations <= 0 {
		return fmt.Errorf("research max_iterations must be positive, got %d", c.Research.MaxIterations)
	}
	return nil
}

// ZoteroEnabled reports whether library credentials are configured.
func (c *Config) ZoteroEnabled() bool {
	return c.Zotero.APIKey != "" && c.Zotero.LibraryID != ""
}
