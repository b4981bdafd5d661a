// Package config handles sundevil configuration loading.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // agent.timezone must resolve on hosts without zoneinfo

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order used when no
// explicit -config path is given.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "sundevil", "config.yaml"))
	}

	paths = append(paths, "/etc/sundevil/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all sundevil configuration.
type Config struct {
	Listen    ListenConfig   `yaml:"listen"`
	Reasoner  ReasonerConfig `yaml:"reasoner"`
	Search    SearchConfig   `yaml:"search"`
	Fetch     FetchConfig    `yaml:"fetch"`
	Agent     AgentConfig    `yaml:"agent"`
	Memory    MemoryConfig   `yaml:"memory"`
	MQTT      MQTTConfig     `yaml:"mqtt"`
	DataDir   string         `yaml:"data_dir"`
	LogLevel  string         `yaml:"log_level"`
	LogFormat string         `yaml:"log_format"` // text or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ReasonerConfig selects the model that drives the reasoning loop.
type ReasonerConfig struct {
	Provider    string          `yaml:"provider"` // ollama, anthropic, gemini
	Model       string          `yaml:"model"`
	Temperature float64         `yaml:"temperature"`
	TimeoutSec  int             `yaml:"timeout_sec"`
	OllamaURL   string          `yaml:"ollama_url"`
	Anthropic   AnthropicConfig `yaml:"anthropic"`
	Gemini      GeminiConfig    `yaml:"gemini"`
}

// Timeout returns the per-call reasoner timeout.
func (c ReasonerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey    string `yaml:"api_key"`
	MaxTokens int    `yaml:"max_tokens"`
}

// Configured reports whether an Anthropic API key is set.
func (c AnthropicConfig) Configured() bool { return c.APIKey != "" }

// GeminiConfig defines Google Gemini API settings.
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
}

// Configured reports whether a Gemini API key is set.
func (c GeminiConfig) Configured() bool { return c.APIKey != "" }

// SearchConfig defines the web search providers. Primary names the
// provider behind the search tool; the others remain selectable.
type SearchConfig struct {
	Primary     string        `yaml:"primary"`
	ToolName    string        `yaml:"tool_name"`
	ResultCount int           `yaml:"result_count"`
	TimeoutSec  int           `yaml:"timeout_sec"`
	Tavily      TavilyConfig  `yaml:"tavily"`
	Brave       BraveConfig   `yaml:"brave"`
	SearXNG     SearXNGConfig `yaml:"searxng"`
}

// Timeout returns the per-call search timeout.
func (c SearchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// TavilyConfig holds configuration for the Tavily search API.
type TavilyConfig struct {
	APIKey      string `yaml:"api_key"`
	SearchDepth string `yaml:"search_depth"` // basic or advanced
}

// Configured reports whether a Tavily API key is set.
func (c TavilyConfig) Configured() bool { return c.APIKey != "" }

// BraveConfig holds configuration for the Brave Search provider.
type BraveConfig struct {
	APIKey string `yaml:"api_key"`
}

// Configured reports whether a Brave API key is set.
func (c BraveConfig) Configured() bool { return c.APIKey != "" }

// SearXNGConfig holds configuration for the SearXNG provider.
type SearXNGConfig struct {
	URL string `yaml:"url"`
}

// Configured reports whether a SearXNG URL is set.
func (c SearXNGConfig) Configured() bool { return c.URL != "" }

// FetchConfig controls the web_fetch tool.
type FetchConfig struct {
	Enabled  bool `yaml:"enabled"`
	MaxChars int  `yaml:"max_chars"`
}

// AgentConfig tunes the reasoning loop and the prompt persona. Zero
// values fall back to the agent package defaults.
type AgentConfig struct {
	MaxCycles      int    `yaml:"max_cycles"`
	Persona        string `yaml:"persona"`
	Location       string `yaml:"location"`
	Timezone       string `yaml:"timezone"`
	FallbackAnswer string `yaml:"fallback_answer"`
}

// MemoryConfig selects the conversation memory backend.
type MemoryConfig struct {
	Backend string `yaml:"backend"` // memory or sqlite
	Window  int    `yaml:"window"`  // exchanges kept per conversation
	Path    string `yaml:"path"`    // sqlite database path (default: <data_dir>/memory.db)
}

// MQTTConfig enables the optional event bridge.
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // mqtt://host:1883 or mqtts://host:8883
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// Configured reports whether a broker is set.
func (c MQTTConfig) Configured() bool { return c.Broker != "" }

// Load reads configuration from a YAML file. A .env file next to the
// config file (or in the working directory) is loaded first so secrets
// can be referenced as ${VAR} without exporting them in the shell.
// Variables already present in the environment win over .env values.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env"); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv loads each existing file once, skipping missing ones.
func loadDotEnv(paths ...string) error {
	seen := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true

		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Default returns a configuration with every default applied, suitable
// for the ask subcommand when no config file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}

	if c.Reasoner.Provider == "" {
		switch {
		case c.Reasoner.Gemini.Configured():
			c.Reasoner.Provider = "gemini"
		case c.Reasoner.Anthropic.Configured():
			c.Reasoner.Provider = "anthropic"
		default:
			c.Reasoner.Provider = "ollama"
		}
	}
	if c.Reasoner.Model == "" {
		switch c.Reasoner.Provider {
		case "gemini":
			c.Reasoner.Model = "gemini-flash-lite-latest"
		case "anthropic":
			c.Reasoner.Model = "claude-3-5-haiku-latest"
		default:
			c.Reasoner.Model = "qwen3:4b"
		}
	}
	if c.Reasoner.OllamaURL == "" {
		c.Reasoner.OllamaURL = "http://localhost:11434"
	}
	if c.Reasoner.TimeoutSec == 0 {
		c.Reasoner.TimeoutSec = 120
	}
	if c.Reasoner.Anthropic.MaxTokens == 0 {
		c.Reasoner.Anthropic.MaxTokens = 1024
	}

	if c.Search.Primary == "" {
		switch {
		case c.Search.Tavily.Configured():
			c.Search.Primary = "tavily"
		case c.Search.Brave.Configured():
			c.Search.Primary = "brave"
		case c.Search.SearXNG.Configured():
			c.Search.Primary = "searxng"
		}
	}
	if c.Search.ToolName == "" {
		c.Search.ToolName = "web_search"
	}
	if c.Search.ResultCount == 0 {
		c.Search.ResultCount = 5
	}
	if c.Search.TimeoutSec == 0 {
		c.Search.TimeoutSec = 15
	}
	if c.Search.Tavily.SearchDepth == "" {
		c.Search.Tavily.SearchDepth = "basic"
	}

	if c.Agent.Timezone == "" {
		c.Agent.Timezone = "America/Phoenix"
	}

	if c.Memory.Backend == "" {
		c.Memory.Backend = "memory"
	}
	if c.Memory.Backend == "sqlite" && c.Memory.Path == "" {
		c.Memory.Path = filepath.Join(c.DataDir, "memory.db")
	}

	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "sundevil"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "sundevil-helper"
	}
}

// Validate checks the configuration for values that would only fail
// later, at request time.
func (c *Config) Validate() error {
	var errs []error

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}

	switch c.Reasoner.Provider {
	case "ollama":
	case "anthropic":
		if !c.Reasoner.Anthropic.Configured() {
			errs = append(errs, fmt.Errorf("reasoner.anthropic.api_key is required for provider anthropic"))
		}
	case "gemini":
		if !c.Reasoner.Gemini.Configured() {
			errs = append(errs, fmt.Errorf("reasoner.gemini.api_key is required for provider gemini"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown reasoner.provider %q (valid: ollama, anthropic, gemini)", c.Reasoner.Provider))
	}
	if c.Reasoner.Temperature < 0 || c.Reasoner.Temperature > 2 {
		errs = append(errs, fmt.Errorf("reasoner.temperature must be within [0, 2], got %v", c.Reasoner.Temperature))
	}

	switch c.Search.Primary {
	case "tavily", "brave", "searxng", "":
	default:
		errs = append(errs, fmt.Errorf("unknown search.primary %q (valid: tavily, brave, searxng)", c.Search.Primary))
	}
	if strings.ContainsAny(c.Search.ToolName, " \t\n[]") {
		errs = append(errs, fmt.Errorf("search.tool_name %q must not contain spaces or brackets", c.Search.ToolName))
	}

	if c.Agent.MaxCycles < 0 {
		errs = append(errs, fmt.Errorf("agent.max_cycles must not be negative"))
	}
	if _, err := time.LoadLocation(c.Agent.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("agent.timezone: %w", err))
	}

	switch c.Memory.Backend {
	case "memory", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unknown memory.backend %q (valid: memory, sqlite)", c.Memory.Backend))
	}
	if c.Memory.Window < 0 {
		errs = append(errs, fmt.Errorf("memory.window must not be negative"))
	}

	return errors.Join(errs...)
}
