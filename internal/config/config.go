// Package config handles coach configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/coach/config.yaml, /etc/coach/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "coach", "config.yaml"))
	}

	paths = append(paths, "/etc/coach/config.yaml")
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

// Config holds all coach configuration.
type Config struct {
	AppName    string           `yaml:"app_name"`
	BaseURL    string           `yaml:"base_url"`
	Listen     ListenConfig     `yaml:"listen"`
	Anthropic  AnthropicConfig  `yaml:"anthropic"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Twilio     TwilioConfig     `yaml:"twilio"`
	Strava     StravaConfig     `yaml:"strava"`
	Plan       PlanConfig       `yaml:"plan"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	DataDir    string           `yaml:"data_dir"`
	LogLevel   string           `yaml:"log_level"`
}

// ListenConfig defines the HTTP server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// EmbeddingsConfig selects the embedding backend for the knowledge base.
// An empty Provider disables retrieval entirely.
type EmbeddingsConfig struct {
	Provider string `yaml:"provider"` // openai, ollama, or empty
	APIKey   string `yaml:"api_key"`  // openai only
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"baseurl"` // ollama URL, or an OpenAI-compatible endpoint
}

// TwilioConfig holds WhatsApp delivery credentials. Outbound messages
// are skipped when AccountSID or AuthToken is empty.
type TwilioConfig struct {
	AccountSID     string `yaml:"account_sid"`
	AuthToken      string `yaml:"auth_token"`
	WhatsAppNumber string `yaml:"whatsapp_number"`
}

// StravaConfig holds OAuth application credentials.
type StravaConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURI  string `yaml:"redirect_uri"`
	// SyncInterval controls the background activity sync that asks for
	// workout feedback. Zero disables it.
	SyncInterval time.Duration `yaml:"sync_interval"`
}

// PlanConfig holds defaults applied to newly created users.
type PlanConfig struct {
	DeliveryDay    string `yaml:"delivery_day"`
	DeliveryHour   int    `yaml:"delivery_hour"`
	DeliveryMinute int    `yaml:"delivery_minute"`
	WeeksCount     int    `yaml:"weeks_count"`
	Timezone       string `yaml:"timezone"`
}

// WebhookConfig controls who may talk to the coach.
type WebhookConfig struct {
	// UserPhone is the only sender accepted. Empty accepts anyone.
	UserPhone string `yaml:"user_phone"`
	// RateLimit is messages per minute per sender; 0 = unlimited.
	RateLimit int `yaml:"rate_limit"`
	// HandleTimeout bounds one inbound message (agent loop + reply).
	HandleTimeout time.Duration `yaml:"handle_timeout"`
}

// Weekdays lists valid delivery days in cron order (Sunday first).
var Weekdays = []string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

// ParseWeekday converts an English day name to a [time.Weekday].
func ParseWeekday(s string) (time.Weekday, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, d := range Weekdays {
		if d == s {
			return time.Weekday(i), true
		}
	}
	return time.Sunday, false
}

// Load reads configuration from a YAML file. A .env file next to the
// config (or in the working directory) is loaded first so that ${VAR}
// references resolve; variables already in the environment win.
func Load(path string) (*Config, error) {
	loadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{Plan: PlanConfig{DeliveryHour: 7}}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()

	return cfg, nil
}

func loadDotEnv(paths ...string) {
	seen := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{Plan: PlanConfig{DeliveryHour: 7}}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.AppName == "" {
		c.AppName = "Entrenadora IA"
	}
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:3000"
	}
	if c.Listen.Port == 0 {
		c.Listen.Port = 3000
	}
	if c.Anthropic.Model == "" {
		c.Anthropic.Model = "claude-sonnet-4-20250514"
	}
	if c.Anthropic.MaxTokens == 0 {
		c.Anthropic.MaxTokens = 1024
	}
	if c.Plan.DeliveryDay == "" {
		c.Plan.DeliveryDay = "monday"
	}
	c.Plan.DeliveryDay = strings.ToLower(c.Plan.DeliveryDay)
	if c.Plan.WeeksCount == 0 {
		c.Plan.WeeksCount = 20
	}
	if c.Plan.Timezone == "" {
		c.Plan.Timezone = "America/Santiago"
	}
	if c.Webhook.HandleTimeout == 0 {
		c.Webhook.HandleTimeout = 2 * time.Minute
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
}

// Validate reports configuration errors that would make the service
// misbehave at runtime rather than fail fast.
func (c *Config) Validate() error {
	var errs []error
	if _, ok := ParseWeekday(c.Plan.DeliveryDay); !ok {
		errs = append(errs, fmt.Errorf("plan.delivery_day: unknown day %q", c.Plan.DeliveryDay))
	}
	if c.Plan.DeliveryHour < 0 || c.Plan.DeliveryHour > 23 {
		errs = append(errs, fmt.Errorf("plan.delivery_hour: %d out of range 0-23", c.Plan.DeliveryHour))
	}
	if c.Plan.DeliveryMinute < 0 || c.Plan.DeliveryMinute > 59 {
		errs = append(errs, fmt.Errorf("plan.delivery_minute: %d out of range 0-59", c.Plan.DeliveryMinute))
	}
	if c.Plan.WeeksCount < 1 {
		errs = append(errs, fmt.Errorf("plan.weeks_count: must be positive"))
	}
	if _, err := time.LoadLocation(c.Plan.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("plan.timezone: %w", err))
	}
	switch c.Embeddings.Provider {
	case "", "openai", "ollama":
	default:
		errs = append(errs, fmt.Errorf("embeddings.provider: unknown provider %q", c.Embeddings.Provider))
	}
	if c.Webhook.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("webhook.rate_limit: must not be negative"))
	}
	return errors.Join(errs...)
}

// DatabasePath returns the SQLite file holding all coach state.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "coach.db")
}
