// Package config provides YAML-based configuration loading for Shellyard.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file used when --config is not given.
const DefaultPath = "shellyard.yaml"

// Config is the top-level Shellyard configuration, loaded from shellyard.yaml.
type Config struct {
	Gateway    GatewayConfig    `yaml:"gateway"`
	Automation AutomationConfig `yaml:"automation"`
	Personas   []PersonaConfig  `yaml:"personas"`
	Database   DatabaseConfig   `yaml:"database"`
	Hosts      []HostConfig     `yaml:"hosts"`
	Schedules  []ScheduleConfig `yaml:"schedules"`
	Dashboard  DashboardConfig  `yaml:"dashboard"`
	Bridge     BridgeConfig     `yaml:"bridge"`
	Log        LogConfig        `yaml:"log"`
}

// GatewayConfig selects the model server.
type GatewayConfig struct {
	Provider  string        `yaml:"provider"`
	BaseURL   string        `yaml:"base_url"`
	Model     string        `yaml:"model"`
	APIKey    string        `yaml:"api_key"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Timeout   time.Duration `yaml:"timeout"`
	OAuth     *OAuthConfig  `yaml:"oauth"`
}

// OAuthConfig enables client-credentials authentication to the gateway.
type OAuthConfig struct {
	TokenURL        string   `yaml:"token_url"`
	ClientID        string   `yaml:"client_id"`
	ClientSecretEnv string   `yaml:"client_secret_env"`
	Scopes          []string `yaml:"scopes"`
}

// AutomationConfig tunes the automation loop.
type AutomationConfig struct {
	AutoRun        *bool         `yaml:"auto_run"`
	Quiescence     time.Duration `yaml:"quiescence"`
	TickInterval   time.Duration `yaml:"tick_interval"`
	BasePrompt     string        `yaml:"base_prompt"`
	Instructions   string        `yaml:"instructions"`
	DefaultPersona string        `yaml:"default_persona"`
	ResumeLimit    int           `yaml:"resume_limit"` // messages reloaded on restart; 0 uses the runner default
}

// PersonaConfig is a persona seeded from configuration.
type PersonaConfig struct {
	ID      string `yaml:"id"`
	Title   string `yaml:"title"`
	Content string `yaml:"content"`
}

// DatabaseConfig holds connection settings for transcript storage.
type DatabaseConfig struct {
	Driver      string `yaml:"driver"`
	Path        string `yaml:"path"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	User        string `yaml:"user"`
	PasswordEnv string `yaml:"password_env"`
	Name        string `yaml:"name"`
}

// HostConfig is a named SSH target.
type HostConfig struct {
	Name                  string `yaml:"name"`
	Host                  string `yaml:"host"`
	Port                  int    `yaml:"port"`
	User                  string `yaml:"user"`
	PasswordEnv           string `yaml:"password_env"`
	IdentityFile          string `yaml:"identity_file"`
	KnownHosts            string `yaml:"known_hosts"`
	InsecureIgnoreHostKey bool   `yaml:"insecure_ignore_host_key"`
}

// ScheduleConfig sends a prompt to a host's session on a cron schedule.
type ScheduleConfig struct {
	Host   string `yaml:"host"`
	Cron   string `yaml:"cron"`
	Prompt string `yaml:"prompt"`
}

// DashboardConfig configures the HTTP API.
type DashboardConfig struct {
	Port int `yaml:"port"`
}

// BridgeConfig connects sessions to a chat platform.
type BridgeConfig struct {
	Platform    string            `yaml:"platform"`
	BotTokenEnv string            `yaml:"bot_token_env"`
	AppTokenEnv string            `yaml:"app_token_env"`
	Channels    map[string]string `yaml:"channels"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var defaultBaseURLs = map[string]string{
	"ollama":   "http://localhost:11434",
	"openai":   "https://api.openai.com/v1",
	"deepseek": "https://api.deepseek.com",
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Gateway.Provider == "" {
		c.Gateway.Provider = "ollama"
	}
	if c.Gateway.BaseURL == "" {
		c.Gateway.BaseURL = defaultBaseURLs[c.Gateway.Provider]
	}
	if c.Gateway.Timeout == 0 {
		c.Gateway.Timeout = 120 * time.Second
	}

	if c.Automation.AutoRun == nil {
		on := true
		c.Automation.AutoRun = &on
	}
	if c.Automation.Quiescence == 0 {
		c.Automation.Quiescence = 5 * time.Second
	}
	if c.Automation.TickInterval == 0 {
		c.Automation.TickInterval = time.Second
	}
	if c.Automation.DefaultPersona == "" {
		c.Automation.DefaultPersona = "1"
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			c.Database.Path = "shellyard.db"
		}
	case "mysql":
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
		if c.Database.Name == "" {
			c.Database.Name = "shellyard"
		}
	}

	for i := range c.Hosts {
		if c.Hosts[i].Port == 0 {
			c.Hosts[i].Port = 22
		}
	}

	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
	if c.Bridge.Platform != "" && c.Bridge.BotTokenEnv == "" {
		c.Bridge.BotTokenEnv = strings.ToUpper(c.Bridge.Platform) + "_BOT_TOKEN"
	}
	if c.Bridge.Platform == "slack" && c.Bridge.AppTokenEnv == "" {
		c.Bridge.AppTokenEnv = "SLACK_APP_TOKEN"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string

	if _, ok := defaultBaseURLs[c.Gateway.Provider]; !ok {
		errs = append(errs, fmt.Sprintf("gateway.provider %q must be ollama, openai or deepseek", c.Gateway.Provider))
	}
	if c.Gateway.OAuth != nil {
		if c.Gateway.OAuth.TokenURL == "" {
			errs = append(errs, "gateway.oauth.token_url is required")
		}
		if c.Gateway.OAuth.ClientID == "" {
			errs = append(errs, "gateway.oauth.client_id is required")
		}
	}
	if c.Automation.Quiescence < 0 {
		errs = append(errs, "automation.quiescence must be positive")
	}
	if c.Automation.TickInterval < 0 {
		errs = append(errs, "automation.tick_interval must be positive")
	}

	personaIDs := make(map[string]bool)
	for i, p := range c.Personas {
		if p.ID == "" {
			errs = append(errs, fmt.Sprintf("personas[%d].id is required", i))
			continue
		}
		if personaIDs[p.ID] {
			errs = append(errs, fmt.Sprintf("personas[%d].id %q is duplicated", i, p.ID))
		}
		personaIDs[p.ID] = true
		if p.Title == "" {
			errs = append(errs, fmt.Sprintf("personas[%d].title is required", i))
		}
	}
	if len(c.Personas) > 0 && !personaIDs[c.Automation.DefaultPersona] {
		errs = append(errs, fmt.Sprintf("automation.default_persona %q is not a configured persona", c.Automation.DefaultPersona))
	}

	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be sqlite or mysql", c.Database.Driver))
	}

	hostNames := make(map[string]bool)
	for i, h := range c.Hosts {
		if h.Name == "" {
			errs = append(errs, fmt.Sprintf("hosts[%d].name is required", i))
		} else if hostNames[h.Name] {
			errs = append(errs, fmt.Sprintf("hosts[%d].name %q is duplicated", i, h.Name))
		}
		hostNames[h.Name] = true
		if h.Host == "" {
			errs = append(errs, fmt.Sprintf("hosts[%d].host is required", i))
		}
		if h.User == "" {
			errs = append(errs, fmt.Sprintf("hosts[%d].user is required", i))
		}
	}

	for i, s := range c.Schedules {
		if !hostNames[s.Host] {
			errs = append(errs, fmt.Sprintf("schedules[%d].host %q is not a configured host", i, s.Host))
		}
		if s.Cron == "" {
			errs = append(errs, fmt.Sprintf("schedules[%d].cron is required", i))
		}
		if strings.TrimSpace(s.Prompt) == "" {
			errs = append(errs, fmt.Sprintf("schedules[%d].prompt is required", i))
		}
	}

	switch c.Bridge.Platform {
	case "", "slack", "discord":
	default:
		errs = append(errs, fmt.Sprintf("bridge.platform %q must be slack or discord", c.Bridge.Platform))
	}
	for ch, host := range c.Bridge.Channels {
		if !hostNames[host] {
			errs = append(errs, fmt.Sprintf("bridge.channels[%s] host %q is not a configured host", ch, host))
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level %q must be debug, info, warn or error", c.Log.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// AutoRunEnabled reports the configured auto-run default.
func (c *Config) AutoRunEnabled() bool {
	return c.Automation.AutoRun == nil || *c.Automation.AutoRun
}

// Host returns the host with the given name.
func (c *Config) Host(name string) (HostConfig, bool) {
	for _, h := range c.Hosts {
		if h.Name == name {
			return h, true
		}
	}
	return HostConfig{}, false
}

// ResolveAPIKey returns the inline API key or the value of api_key_env.
func (g GatewayConfig) ResolveAPIKey() string {
	if g.APIKey != "" {
		return g.APIKey
	}
	if g.APIKeyEnv != "" {
		return os.Getenv(g.APIKeyEnv)
	}
	return ""
}

// ResolvePassword returns the value of password_env, if set.
func (h HostConfig) ResolvePassword() string {
	if h.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(h.PasswordEnv)
}

// ResolvePassword returns the value of password_env, if set.
func (d DatabaseConfig) ResolvePassword() string {
	if d.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(d.PasswordEnv)
}

// ResolveClientSecret returns the value of client_secret_env, if set.
func (o OAuthConfig) ResolveClientSecret() string {
	if o.ClientSecretEnv == "" {
		return ""
	}
	return os.Getenv(o.ClientSecretEnv)
}
