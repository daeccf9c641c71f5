// Package config loads the user configuration, the model registry, and
// API credentials. The config file lives at ~/.quill/config.json and may
// carry comments and trailing commas; missing files fall back to built-in
// defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
)

// Config is the user configuration.
type Config struct {
	// Model is the model ID to run, resolved against the registry.
	Model string `json:"model,omitempty"`

	// Stateless replays the full conversation every turn instead of
	// continuing a server-stored session.
	Stateless bool `json:"stateless,omitempty"`

	// Reasoning selects the effort level for models that support it:
	// "low", "medium", or "high".
	Reasoning string `json:"reasoning,omitempty"`

	// Instructions is appended to the generated system prompt.
	Instructions string `json:"instructions,omitempty"`

	Compaction *CompactionConfig `json:"compaction,omitempty"`
	Tools      *ToolsConfig      `json:"tools,omitempty"`
	Log        *LogConfig        `json:"log,omitempty"`
	Session    *SessionConfig    `json:"session,omitempty"`
}

// CompactionConfig controls automatic context compaction.
type CompactionConfig struct {
	// Disabled turns automatic compaction off.
	Disabled bool `json:"disabled,omitempty"`
	// Window overrides the model's context window in threshold math.
	Window int `json:"window,omitempty"`
}

// ToolsConfig controls the tool set offered to the model.
type ToolsConfig struct {
	// Disabled removes tools by name from the default set.
	Disabled []string `json:"disabled,omitempty"`
	// BashTimeoutSeconds overrides the bash tool's default command timeout.
	BashTimeoutSeconds int `json:"bashTimeoutSeconds,omitempty"`
}

// LogConfig controls structured log output.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `json:"level,omitempty"`
	// File receives log lines; empty disables file logging.
	File string `json:"file,omitempty"`
	// Stderr mirrors log lines to standard error.
	Stderr bool `json:"stderr,omitempty"`
}

// SessionConfig controls conversation persistence.
type SessionConfig struct {
	// Disabled turns session recording off.
	Disabled bool `json:"disabled,omitempty"`
	// Dir overrides the default sessions directory (~/.quill/sessions).
	Dir string `json:"dir,omitempty"`
}

// DefaultModel is used when neither config nor flags pick one.
const DefaultModel = "gpt-5.2-codex"

// Default returns the built-in configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Model:      DefaultModel,
		Compaction: &CompactionConfig{},
		Tools:      &ToolsConfig{},
		Log: &LogConfig{
			Level: "info",
			File:  filepath.Join(home, ".quill", "quill.log"),
		},
		Session: &SessionConfig{},
	}
}

// Load reads the config file at path, overlaying the built-in defaults.
// A missing file yields the defaults unchanged. QUILL_MODEL overrides the
// configured model.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if model := strings.TrimSpace(os.Getenv("QUILL_MODEL")); model != "" {
		cfg.Model = model
	}
	return cfg, nil
}

// Save writes the config as indented JSON, creating the directory first.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// DefaultPath returns the default config file path, ~/.quill/config.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".quill", "config.json"), nil
}
