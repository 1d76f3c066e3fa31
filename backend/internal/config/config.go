// Package config loads Mux's process-wide configuration from a JSONC file
// (comments and trailing commas allowed) plus a sibling secrets file that is
// never merged into the main struct so it can stay 0600-permissioned and
// excluded from debug dumps.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/titanous/json5"
)

// WorkspaceIdentity names a single agent workspace within a project.
type WorkspaceIdentity struct {
	Name   string `json:"name"`
	Branch string `json:"branch"`
}

// Project is one repository Mux manages workspaces for.
type Project struct {
	Path       string              `json:"path"`
	BaseBranch string              `json:"baseBranch"`
	Workspaces []WorkspaceIdentity `json:"workspaces,omitempty"`
}

// AIConfig holds provider selection and per-provider defaults. Every
// workspace uses DefaultProvider with Models[provider] (or DefaultModel when
// unset); there is no per-workspace model override. The mode is chosen per
// send.
type AIConfig struct {
	DefaultProvider string            `json:"defaultProvider"`
	DefaultModel    string            `json:"defaultModel"`
	WebSearch       string            `json:"webSearch,omitempty"`
	Models          map[string]string `json:"models,omitempty"`
}

// Config is the process-wide configuration, loaded once at startup.
type Config struct {
	Projects    []Project `json:"projects"`
	AI          AIConfig  `json:"ai"`
	Bind        string    `json:"bind"`
	BearerToken string    `json:"-"`

	path    string
	secrets Secrets
}

// Secrets holds provider API keys and other sensitive values. Loaded from a
// sibling file to Config's and never serialized alongside it.
type Secrets struct {
	AnthropicAPIKey string `json:"anthropicApiKey,omitempty"`
	OpenAIAPIKey    string `json:"openaiApiKey,omitempty"`
	BearerToken     string `json:"bearerToken,omitempty"`
}

// DefaultPath returns the default config file location,
// "~/.config/mux/config.jsonc".
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "mux", "config.jsonc"), nil
}

// Load reads and parses the config file at path, then loads the sibling
// secrets.json in the same directory if present.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg Config
	if err := json5.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.path = path

	secrets, err := loadSecrets(filepath.Join(filepath.Dir(path), "secrets.json"))
	if err != nil {
		return nil, err
	}
	if secrets != nil {
		cfg.BearerToken = secrets.BearerToken
		cfg.secrets = *secrets
	}
	return &cfg, nil
}

func loadSecrets(path string) (*Secrets, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading secrets %s: %w", path, err)
	}
	var s Secrets
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing secrets %s: %w", path, err)
	}
	return &s, nil
}

// Path returns the file path cfg was loaded from.
func (c *Config) Path() string { return c.path }

// AnthropicAPIKey returns the Anthropic API key loaded from secrets.json,
// if any.
func (c *Config) AnthropicAPIKey() string { return c.secrets.AnthropicAPIKey }

// OpenAIAPIKey returns the OpenAI API key loaded from secrets.json, if any.
func (c *Config) OpenAIAPIKey() string { return c.secrets.OpenAIAPIKey }

// ProjectForPath returns the Project containing path, if any.
func (c *Config) ProjectForPath(path string) (*Project, bool) {
	for i := range c.Projects {
		if c.Projects[i].Path == path {
			return &c.Projects[i], true
		}
	}
	return nil, false
}
