// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Browser() BrowserConfig
	Agent() AgentConfig
	Navigation() NavigationConfig
	Governor() GovernorConfig
	FocusGroup() FocusGroupConfig
	Reports() ReportsConfig
	Server() ServerConfig

	SetNavigationMaxPages(int)
	SetFocusGroupConcurrency(int)
	SetReportsBackend(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	BrowserCfg    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	AgentCfg      AgentConfig      `mapstructure:"agent" yaml:"agent"`
	NavigationCfg NavigationConfig `mapstructure:"navigation" yaml:"navigation"`
	GovernorCfg   GovernorConfig   `mapstructure:"governor" yaml:"governor"`
	FocusGroupCfg FocusGroupConfig `mapstructure:"focus_group" yaml:"focus_group"`
	ReportsCfg    ReportsConfig    `mapstructure:"reports" yaml:"reports"`
	ServerCfg     ServerConfig     `mapstructure:"server" yaml:"server"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig         { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig     { return c.DatabaseCfg }
func (c *Config) Browser() BrowserConfig       { return c.BrowserCfg }
func (c *Config) Agent() AgentConfig           { return c.AgentCfg }
func (c *Config) Navigation() NavigationConfig { return c.NavigationCfg }
func (c *Config) Governor() GovernorConfig     { return c.GovernorCfg }
func (c *Config) FocusGroup() FocusGroupConfig { return c.FocusGroupCfg }
func (c *Config) Reports() ReportsConfig       { return c.ReportsCfg }
func (c *Config) Server() ServerConfig         { return c.ServerCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetNavigationMaxPages(n int)      { c.NavigationCfg.MaxPages = n }
func (c *Config) SetFocusGroupConcurrency(n int)   { c.FocusGroupCfg.Concurrency = n }
func (c *Config) SetReportsBackend(backend string) { c.ReportsCfg.Backend = backend }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// DatabaseConfig holds the database connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// BrowserConfig holds settings for the headless browser used to fetch pages.
type BrowserConfig struct {
	Headless        bool           `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	UserAgent       string         `mapstructure:"user_agent" yaml:"user_agent"`
	Args            []string       `mapstructure:"args" yaml:"args"`
	Viewport        map[string]int `mapstructure:"viewport" yaml:"viewport"`
	Screenshots     bool           `mapstructure:"screenshots" yaml:"screenshots"`
	ExecPath        string         `mapstructure:"exec_path" yaml:"exec_path"`
}

// AgentConfig groups the reasoning model settings.
type AgentConfig struct {
	LLM LLMRouterConfig `mapstructure:"llm" yaml:"llm"`
}

type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
)

// LLMRouterConfig selects the models used per tier. Models is keyed by an
// alias; the default model fields may name either an alias or a model.
type LLMRouterConfig struct {
	APIKey               string                    `mapstructure:"api_key" yaml:"-"`
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	Temperature          float32                   `mapstructure:"temperature" yaml:"temperature"`
	APITimeout           time.Duration             `mapstructure:"api_timeout" yaml:"api_timeout"`
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
}

type LLMModelConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	TopP        float32       `mapstructure:"top_p" yaml:"top_p"`
	TopK        int           `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// NavigationConfig tunes how a persona decides where to go next and when to leave.
type NavigationConfig struct {
	MaxPages              int      `mapstructure:"max_pages" yaml:"max_pages"`
	LowRelevanceThreshold float64  `mapstructure:"low_relevance_threshold" yaml:"low_relevance_threshold"`
	ConsecutiveLowLimit   int      `mapstructure:"consecutive_low_limit" yaml:"consecutive_low_limit"`
	ContextWindow         int      `mapstructure:"context_window" yaml:"context_window"`
	TopCandidates         int      `mapstructure:"top_candidates" yaml:"top_candidates"`
	SameSiteOnly          bool     `mapstructure:"same_site_only" yaml:"same_site_only"`
	Denylist              []string `mapstructure:"denylist" yaml:"denylist"`
}

// GovernorConfig bounds the call budget toward the reasoning provider.
type GovernorConfig struct {
	MaxInFlight    int           `mapstructure:"max_in_flight" yaml:"max_in_flight"`
	MinSpacing     time.Duration `mapstructure:"min_spacing" yaml:"min_spacing"`
	MaxAttempts    int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
	Jitter         float64       `mapstructure:"jitter" yaml:"jitter"`
	CallTimeout    time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
}

// FocusGroupConfig controls how persona sessions are scheduled.
type FocusGroupConfig struct {
	Concurrency    int           `mapstructure:"concurrency" yaml:"concurrency"`
	SessionTimeout time.Duration `mapstructure:"session_timeout" yaml:"session_timeout"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
	LooseGrace     time.Duration `mapstructure:"loose_grace" yaml:"loose_grace"`
	PersonaCount   int           `mapstructure:"persona_count" yaml:"persona_count"`
}

// ReportsConfig selects where finished reports are written.
type ReportsConfig struct {
	Backend  string `mapstructure:"backend" yaml:"backend"`
	Dir      string `mapstructure:"dir" yaml:"dir"`
	Compress bool   `mapstructure:"compress" yaml:"compress"`
}

// ServerConfig configures the HTTP status API.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DefaultDenylist names the administrative page types a visitor ignores.
var DefaultDenylist = []string{
	"login", "log-in", "signin", "sign-in", "logout", "register", "account",
	"terms", "tos", "privacy", "cookie", "cookies", "legal", "gdpr",
	"careers", "jobs", "press", "sitemap", "imprint", "accessibility",
}

// NewDefaultConfig builds a configuration populated only with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		// Defaults are static; failing here is a programming error.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// Logger
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "focusgroup")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// Browser
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.screenshots", false)
	v.SetDefault("browser.viewport", map[string]int{"width": 1920, "height": 1080})

	// Agent / LLM
	v.SetDefault("agent.llm.default_fast_model", "gemini-2.5-flash")
	v.SetDefault("agent.llm.default_powerful_model", "gemini-2.5-pro")
	v.SetDefault("agent.llm.temperature", 0.7)
	v.SetDefault("agent.llm.api_timeout", "120s")

	// Navigation
	v.SetDefault("navigation.max_pages", 5)
	v.SetDefault("navigation.low_relevance_threshold", 0.3)
	v.SetDefault("navigation.consecutive_low_limit", 2)
	v.SetDefault("navigation.context_window", 3)
	v.SetDefault("navigation.top_candidates", 5)
	v.SetDefault("navigation.same_site_only", true)
	v.SetDefault("navigation.denylist", DefaultDenylist)

	// Governor
	v.SetDefault("governor.max_in_flight", 2)
	v.SetDefault("governor.min_spacing", "10s")
	v.SetDefault("governor.max_attempts", 4)
	v.SetDefault("governor.initial_backoff", "2s")
	v.SetDefault("governor.max_backoff", "60s")
	v.SetDefault("governor.jitter", 0.5)
	v.SetDefault("governor.call_timeout", "90s")

	// Focus group
	v.SetDefault("focus_group.concurrency", 2)
	v.SetDefault("focus_group.session_timeout", "15m")
	v.SetDefault("focus_group.fetch_timeout", "30s")
	v.SetDefault("focus_group.loose_grace", "2s")
	v.SetDefault("focus_group.persona_count", 3)

	// Reports
	v.SetDefault("reports.backend", "file")
	v.SetDefault("reports.dir", "reports/focus_group")
	v.SetDefault("reports.compress", false)

	// Server
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "10s")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("agent.llm.api_key", "GEMINI_API_KEY")
	_ = v.BindEnv("database.url", "FOCUSGROUP_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.applyAPIKeyFallback()

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// applyAPIKeyFallback fills missing per-model API keys from the shared key.
func (c *Config) applyAPIKeyFallback() {
	if c.AgentCfg.LLM.APIKey == "" {
		c.AgentCfg.LLM.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	shared := c.AgentCfg.LLM.APIKey
	if shared == "" {
		return
	}
	for name, m := range c.AgentCfg.LLM.Models {
		if m.APIKey == "" {
			m.APIKey = shared
			c.AgentCfg.LLM.Models[name] = m
		}
	}
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.ReportsCfg.Dir, &c.LoggerCfg.LogFile, &c.BrowserCfg.ExecPath} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.NavigationCfg.Validate(); err != nil {
		return fmt.Errorf("navigation configuration invalid: %w", err)
	}
	if err := c.GovernorCfg.Validate(); err != nil {
		return fmt.Errorf("governor configuration invalid: %w", err)
	}
	if c.FocusGroupCfg.Concurrency <= 0 {
		return fmt.Errorf("focus_group.concurrency must be a positive integer")
	}
	if c.FocusGroupCfg.FetchTimeout <= 0 {
		return fmt.Errorf("focus_group.fetch_timeout must be a positive duration")
	}
	switch strings.ToLower(c.ReportsCfg.Backend) {
	case "file", "none":
	case "postgres":
		if c.DatabaseCfg.URL == "" {
			return fmt.Errorf("database.url is required when reports.backend is postgres")
		}
	default:
		return fmt.Errorf("reports.backend must be one of file, postgres, none (got %q)", c.ReportsCfg.Backend)
	}
	return nil
}

// Validate checks the navigation settings.
func (n *NavigationConfig) Validate() error {
	var errs []error
	if n.MaxPages <= 0 {
		errs = append(errs, errors.New("max_pages must be greater than 0"))
	}
	if n.LowRelevanceThreshold < 0 || n.LowRelevanceThreshold > 1 {
		errs = append(errs, errors.New("low_relevance_threshold must be between 0.0 and 1.0"))
	}
	if n.ConsecutiveLowLimit <= 0 {
		errs = append(errs, errors.New("consecutive_low_limit must be greater than 0"))
	}
	if n.ContextWindow <= 0 {
		errs = append(errs, errors.New("context_window must be greater than 0"))
	}
	if n.TopCandidates <= 0 {
		errs = append(errs, errors.New("top_candidates must be greater than 0"))
	}
	return errors.Join(errs...)
}

// Validate checks the governor settings.
func (g *GovernorConfig) Validate() error {
	if g.MaxInFlight <= 0 {
		return fmt.Errorf("max_in_flight must be a positive integer")
	}
	if g.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be a positive integer")
	}
	if g.MinSpacing < 0 || g.InitialBackoff < 0 || g.MaxBackoff < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if g.Jitter < 0 || g.Jitter > 1 {
		return fmt.Errorf("jitter must be between 0.0 and 1.0")
	}
	return nil
}
