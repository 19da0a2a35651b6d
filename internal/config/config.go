// internal/config/config.go
package config

import (
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Agent   AgentConfig   `mapstructure:"agent" yaml:"agent"`
	Oracle  OracleConfig  `mapstructure:"oracle" yaml:"oracle"`
}

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

// BrowserConfig holds settings for the browser process under control.
type BrowserConfig struct {
	Headless        bool     `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Args            []string `mapstructure:"args" yaml:"args"`
	ViewportWidth   int      `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight  int      `mapstructure:"viewport_height" yaml:"viewport_height"`
}

// AgentConfig tunes the perception-action loop and the protocol timings.
type AgentConfig struct {
	MaxSteps int `mapstructure:"max_steps" yaml:"max_steps"`

	// StepSettle is the pause after each executed action before the next
	// observation, letting the page finish rendering.
	StepSettle time.Duration `mapstructure:"step_settle" yaml:"step_settle"`

	// NavigationSettle is the fixed wait after a Page.navigate command.
	NavigationSettle time.Duration `mapstructure:"navigation_settle" yaml:"navigation_settle"`

	// MarkerClearTimeout bounds the best-effort marker cleanup round trip.
	MarkerClearTimeout time.Duration `mapstructure:"marker_clear_timeout" yaml:"marker_clear_timeout"`

	// SelectAllModifier is the modifier key used for the select-all combo that
	// clears an input before typing: "ctrl" or "meta". Empty derives it from
	// the platform the browser runs on (meta on darwin, ctrl elsewhere).
	SelectAllModifier string `mapstructure:"select_all_modifier" yaml:"select_all_modifier"`
}

// OracleConfig configures the decision oracle client.
type OracleConfig struct {
	Provider    string        `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`

	// RequestsPerMinute caps how fast the loop may consult the oracle.
	RequestsPerMinute float64 `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// ProviderGemini is the only oracle provider currently wired.
const ProviderGemini = "gemini"

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "webpilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 800)

	// -- Agent --
	v.SetDefault("agent.max_steps", 10)
	v.SetDefault("agent.step_settle", 2*time.Second)
	v.SetDefault("agent.navigation_settle", 3*time.Second)
	v.SetDefault("agent.marker_clear_timeout", 3*time.Second)
	v.SetDefault("agent.select_all_modifier", "")

	// -- Oracle --
	v.SetDefault("oracle.provider", ProviderGemini)
	v.SetDefault("oracle.model", "gemini-2.5-flash")
	v.SetDefault("oracle.api_timeout", 60*time.Second)
	v.SetDefault("oracle.temperature", 0.2)
	v.SetDefault("oracle.requests_per_minute", 30)
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper builds and validates a configuration from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	v.BindEnv("oracle.api_key", "WEBPILOT_ORACLE_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints that viper cannot express.
func (c *Config) Validate() error {
	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("agent.max_steps must be positive, got %d", c.Agent.MaxSteps)
	}
	switch c.Agent.SelectAllModifier {
	case "", "ctrl", "meta":
	default:
		return fmt.Errorf("agent.select_all_modifier must be \"ctrl\" or \"meta\", got %q", c.Agent.SelectAllModifier)
	}
	if c.Oracle.Provider != ProviderGemini {
		return fmt.Errorf("unsupported oracle provider: %q", c.Oracle.Provider)
	}
	return nil
}

// ResolveSelectAllModifier applies the platform default when the modifier was
// left unset.
func (c *AgentConfig) ResolveSelectAllModifier() string {
	if c.SelectAllModifier != "" {
		return c.SelectAllModifier
	}
	if runtime.GOOS == "darwin" {
		return "meta"
	}
	return "ctrl"
}
