package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Config models shiftline.yml.
type Config struct {
	Database struct {
		Path          string `yaml:"path"`
		BusyTimeoutMS int    `yaml:"busy_timeout_ms"`
		MaxOpenConns  int    `yaml:"max_open_conns"`
	} `yaml:"database"`
	Session struct {
		MaxRetries int           `yaml:"max_retries"`
		BaseDelay  time.Duration `yaml:"base_delay"`
	} `yaml:"session"`
	Summary struct {
		Timezone         string `yaml:"timezone"`
		DescriptionLimit int    `yaml:"description_limit"`
	} `yaml:"summary"`
	Server struct {
		Addr      string `yaml:"addr"`
		BasePath  string `yaml:"base_path"`
		JWTSecret string `yaml:"jwt_secret"`
		// AllowGuardHeader trusts X-Guard-Id without credentials. Local use only.
		AllowGuardHeader bool `yaml:"allow_guard_header"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	RBAC struct {
		Roles map[string]RBACRole `yaml:"roles"`
	} `yaml:"rbac"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Active reports whether the hook should receive deliveries.
func (w WebhookConfig) Active() bool {
	return strings.TrimSpace(w.URL) != "" && (w.Enabled == nil || *w.Enabled)
}

var knownRoles = []string{"guard", "senior", "controller", "admin"}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Session.MaxRetries < 1 {
		return fmt.Errorf("config.session.max_retries must be >= 1")
	}
	if c.Session.BaseDelay < 0 {
		return fmt.Errorf("config.session.base_delay must not be negative")
	}
	if c.Summary.DescriptionLimit < 1 {
		return fmt.Errorf("config.summary.description_limit must be >= 1")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("config.summary.timezone: %w", err)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level must be one of debug, info, warn, error")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config.log.format must be text or json")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	for _, role := range knownRoles {
		if _, ok := c.RBAC.Roles[role]; !ok {
			return fmt.Errorf("config.rbac.roles must include %s", role)
		}
	}
	for roleID, role := range c.RBAC.Roles {
		if !isKnownRole(roleID) {
			return fmt.Errorf("config.rbac.roles contains unknown role %s", roleID)
		}
		for _, perm := range role.Permissions {
			if strings.TrimSpace(perm) == "" {
				return fmt.Errorf("role %s has empty permission id", roleID)
			}
		}
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

func isKnownRole(role string) bool {
	for _, r := range knownRoles {
		if r == role {
			return true
		}
	}
	return false
}

// Location resolves the timezone summaries are rendered in.
func (c *Config) Location() (*time.Location, error) {
	if c.Summary.Timezone == "" || c.Summary.Timezone == "UTC" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Summary.Timezone)
}

// Permissions returns the permissions granted to role.
func (c *Config) Permissions(role string) []string {
	return c.RBAC.Roles[role].Permissions
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "shiftline.yml")
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config template: %v", err))
	}
	return &cfg
}

// Load reads shiftline.yml from workspace, falling back to defaults when absent.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML overlays raw YAML on the defaults and validates the result.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `database:
  path: ""
  busy_timeout_ms: 5000
  max_open_conns: 8

session:
  max_retries: 3
  base_delay: 500ms

summary:
  timezone: UTC
  description_limit: 100

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  jwt_secret: ""
  allow_guard_header: false

log:
  level: info
  format: text

rbac:
  roles:
    guard:
      description: "Guard on duty at an assigned object"
      permissions: [shift.start, shift.end, shift.read, handover.create, handover.accept, handover.cancel, handover.read, event.write, event.read]
    senior:
      description: "Senior guard; receives handover reports"
      permissions: [shift.start, shift.end, shift.read, shift.read.any, handover.create, handover.accept, handover.cancel, handover.read, handover.read.any, event.write, event.read, report.read]
    controller:
      description: "Controller; oversees objects, never takes shifts over"
      permissions: [shift.read, shift.read.any, handover.read, handover.read.any, event.read, report.read, directory.read, audit.read]
    admin:
      description: "Administrator"
      permissions: [shift.start, shift.end, shift.end.any, shift.read, shift.read.any, shift.delete, shift.override, handover.create, handover.accept, handover.cancel, handover.reject, handover.override, handover.read, handover.read.any, event.write, event.write.any, event.read, report.read, directory.read, directory.write, apikey.manage, audit.read]

webhooks: []
`
