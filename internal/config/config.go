// Package config handles ThinkSpace configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/thinkspace/config.yaml,
// /etc/thinkspace/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "thinkspace", "config.yaml"))
	}

	paths = append(paths, "/etc/thinkspace/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
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

// Config holds all ThinkSpace configuration.
type Config struct {
	Listen     ListenConfig     `yaml:"listen"`
	LLM        LLMConfig        `yaml:"llm"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Qdrant     QdrantConfig     `yaml:"qdrant"`
	Tavily     TavilyConfig     `yaml:"tavily"`
	Workspace  WorkspaceConfig  `yaml:"workspace"`
	ShellExec  ShellExecConfig  `yaml:"shell_exec"`
	Agent      AgentConfig      `yaml:"agent"`
	DataDir    string           `yaml:"data_dir"`
	AgentsFile string           `yaml:"agents_file"`
	LogLevel   string           `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "127.0.0.1")
	Port    int    `yaml:"port"`
}

// LLMConfig defines the chat-completion service connection.
type LLMConfig struct {
	// BaseURL is the OpenAI-compatible API root, without the
	// /chat/completions suffix (e.g., "https://api.minimax.io/v1").
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	// Temperature and MaxTokens are passed through to every request.
	// Zero values fall back to provider defaults.
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// EmbeddingsConfig defines embedding generation settings.
type EmbeddingsConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"` // OpenAI-compatible root (defaults to llm.base_url)
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"` // Default: text-embedding-3-small
}

// QdrantConfig defines the vector store connection.
type QdrantConfig struct {
	URL        string `yaml:"url"` // e.g., "http://localhost:6333"
	APIKey     string `yaml:"api_key"`
	Collection string `yaml:"collection"` // Default: "thinkspace_knowledge"
}

// TavilyConfig defines the web search provider.
type TavilyConfig struct {
	APIKey string `yaml:"api_key"`
}

// Configured reports whether a Tavily API key is set.
func (c TavilyConfig) Configured() bool {
	return c.APIKey != ""
}

// WorkspaceConfig defines the agent's workspace for file operations.
type WorkspaceConfig struct {
	// Path is the root directory for file operations.
	// All file tool paths are relative to this directory.
	// If empty, file tools are disabled.
	Path string `yaml:"path"`
}

// ShellExecConfig defines shell execution capabilities.
type ShellExecConfig struct {
	// Enabled allows shell command execution. Disabled by default for safety.
	Enabled bool `yaml:"enabled"`
	// WorkingDir sets the default working directory for commands.
	WorkingDir string `yaml:"working_dir"`
	// AllowedPrefixes limits commands to those starting with these prefixes.
	// Empty means all commands are allowed.
	AllowedPrefixes []string `yaml:"allowed_prefixes"`
	// DefaultTimeoutSec is the default timeout in seconds (default 30).
	DefaultTimeoutSec int `yaml:"default_timeout_sec"`
}

// AgentConfig defines conversation agent defaults.
type AgentConfig struct {
	// Mode selects the operating profile: "developer" or "student".
	// Student mode hard-disables terminal and batch-write tools and
	// narrows the writable path prefixes.
	Mode string `yaml:"mode"`
	// SafeMode blocks all filesystem-mutating and process-executing
	// tools regardless of mode.
	SafeMode bool `yaml:"safe_mode"`
	// MaxIterations caps the tool-calling loop per turn (default 30).
	MaxIterations int `yaml:"max_iterations"`
	// UserID scopes knowledge-store reads and writes.
	UserID   string `yaml:"user_id"`
	UserName string `yaml:"user_name"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Address: "127.0.0.1", Port: 8420},
		LLM: LLMConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		Embeddings: EmbeddingsConfig{
			Model: "text-embedding-3-small",
		},
		Qdrant: QdrantConfig{
			URL:        "http://localhost:6333",
			Collection: "thinkspace_knowledge",
		},
		Agent: AgentConfig{
			Mode:          "developer",
			MaxIterations: 30,
			UserID:        "default_user",
		},
	}
}
