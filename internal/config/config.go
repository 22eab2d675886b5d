package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models todome.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret       string `yaml:"jwt_secret"`
		AllowUserHeader bool   `yaml:"allow_user_header"`
	} `yaml:"auth"`
	Undo struct {
		TTLSeconds int `yaml:"ttl_seconds"`
	} `yaml:"undo"`
	Batch struct {
		MaxEntries int `yaml:"max_entries"`
	} `yaml:"batch"`
	Search struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"search"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig is one outbound event subscription. An empty Events list
// subscribes to everything.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with todome config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses, fills defaults, and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Undo.TTLSeconds <= 0 {
		return fmt.Errorf("config.undo.ttl_seconds must be positive")
	}
	if c.Batch.MaxEntries <= 0 {
		return fmt.Errorf("config.batch.max_entries must be positive")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = "/api/v1"
	}
	if c.Undo.TTLSeconds == 0 {
		c.Undo.TTLSeconds = 60
	}
	if c.Batch.MaxEntries == 0 {
		c.Batch.MaxEntries = 100
	}
}

// Default returns the built-in default Config.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default config template invalid: %v", err))
	}
	return cfg
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "todome.yml")
}

const defaultTemplate = `server:
  addr: ":8080"
  base_path: /api/v1

auth:
  # HS256 secret for bearer tokens; empty disables JWT auth.
  jwt_secret: ""
  # Accept a plain X-User-Id header instead of a token. Local use only.
  allow_user_header: false

undo:
  # Seconds before an undo token expires. Expiry is absolute from creation.
  ttl_seconds: 60

batch:
  # Upper bound on entries per batch call.
  max_entries: 100

search:
  enabled: true
  # Index location; defaults to <workspace>/search.bleve when empty.
  path: ""

# Outbound event deliveries. Example:
# webhooks:
#   - url: https://example.test/hook
#     secret: shared-secret
#     events: [task.completed, task.deleted]
#     timeout_seconds: 5
webhooks: []
`
