// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
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
	Portal() PortalConfig
	Browser() BrowserConfig
	Automation() AutomationConfig
	Engine() EngineConfig
	Server() ServerConfig

	// Setters used by one-shot commands that narrow the engine.
	SetEngineWorkers(int)
	SetEngineIsolateFailures(bool)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	PortalCfg     PortalConfig     `mapstructure:"portal" yaml:"portal"`
	BrowserCfg    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	AutomationCfg AutomationConfig `mapstructure:"automation" yaml:"automation"`
	EngineCfg     EngineConfig     `mapstructure:"engine" yaml:"engine"`
	ServerCfg     ServerConfig     `mapstructure:"server" yaml:"server"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig         { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig     { return c.DatabaseCfg }
func (c *Config) Portal() PortalConfig         { return c.PortalCfg }
func (c *Config) Browser() BrowserConfig       { return c.BrowserCfg }
func (c *Config) Automation() AutomationConfig { return c.AutomationCfg }
func (c *Config) Engine() EngineConfig         { return c.EngineCfg }
func (c *Config) Server() ServerConfig         { return c.ServerCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetEngineWorkers(n int)          { c.EngineCfg.Workers = n }
func (c *Config) SetEngineIsolateFailures(b bool) { c.EngineCfg.IsolateFailures = b }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the run journal connection details. An empty URL
// disables the journal.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// PortalConfig describes the remote ticketing portal.
type PortalConfig struct {
	BaseURL   string `mapstructure:"base_url" yaml:"base_url"`
	LoginPath string `mapstructure:"login_path" yaml:"login_path"`
	QueryPath string `mapstructure:"query_path" yaml:"query_path"`
	// Password is used for both the login form and the native certificate dialog.
	Password        string `mapstructure:"password" yaml:"-"`
	Landmark        string `mapstructure:"landmark" yaml:"landmark"`
	CertWindowTitle string `mapstructure:"cert_window_title" yaml:"cert_window_title"`
	// CertInjector selects the native dialog collaborator: "xdotool" or "none".
	CertInjector string `mapstructure:"cert_injector" yaml:"cert_injector"`
}

// LoginURL is the absolute URL of the login page.
func (p PortalConfig) LoginURL() string {
	return strings.TrimRight(p.BaseURL, "/") + "/" + strings.TrimLeft(p.LoginPath, "/")
}

// QueryURL is the absolute URL of the form page for a query's wire name.
func (p PortalConfig) QueryURL(wireName string) string {
	return strings.TrimRight(p.BaseURL, "/") + "/" + strings.Trim(p.QueryPath, "/") + "/" + wireName + ".html"
}

// BrowserConfig holds settings for the browser instance each worker launches.
type BrowserConfig struct {
	Headless        bool          `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	DisableGPU      bool          `mapstructure:"disable_gpu" yaml:"disable_gpu"`
	ExecPath        string        `mapstructure:"exec_path" yaml:"exec_path"`
	Args            []string      `mapstructure:"args" yaml:"args"`
	ViewportWidth   int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight  int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	LaunchTimeout   time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
}

// AutomationConfig tunes the form protocol. Every wait the protocol performs
// is bounded by one of these durations.
type AutomationConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	LoginTimeout      time.Duration `mapstructure:"login_timeout" yaml:"login_timeout"`
	ProbeTimeout      time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
	StepTimeout       time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`
	ForceClickTimeout time.Duration `mapstructure:"force_click_timeout" yaml:"force_click_timeout"`
	UploadTimeout     time.Duration `mapstructure:"upload_timeout" yaml:"upload_timeout"`
	DownloadTimeout   time.Duration `mapstructure:"download_timeout" yaml:"download_timeout"`
	StepDelayMin      time.Duration `mapstructure:"step_delay_min" yaml:"step_delay_min"`
	StepDelayMax      time.Duration `mapstructure:"step_delay_max" yaml:"step_delay_max"`
	StepSettle        time.Duration `mapstructure:"step_settle" yaml:"step_settle"`
	DownloadSettle    time.Duration `mapstructure:"download_settle" yaml:"download_settle"`
	ScratchDir        string        `mapstructure:"scratch_dir" yaml:"scratch_dir"`
}

// EngineConfig configures query dispatch.
type EngineConfig struct {
	Workers         int           `mapstructure:"workers" yaml:"workers"`
	MaxConcurrency  int           `mapstructure:"max_concurrency" yaml:"max_concurrency"`
	IsolateFailures bool          `mapstructure:"isolate_failures" yaml:"isolate_failures"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout" yaml:"query_timeout"`
}

// ServerConfig configures the inbound HTTP API.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	RateLimit       float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst" yaml:"rate_burst"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "portalq")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Portal --
	v.SetDefault("portal.base_url", "https://10.3.2.201:9943/rntibp")
	v.SetDefault("portal.login_path", "login.html")
	v.SetDefault("portal.query_path", "view/complex")
	v.SetDefault("portal.password", "")
	v.SetDefault("portal.landmark", ".dashboard")
	v.SetDefault("portal.cert_window_title", "数字证书")
	v.SetDefault("portal.cert_injector", "xdotool")

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.ignore_tls_errors", true)
	v.SetDefault("browser.disable_gpu", false)
	v.SetDefault("browser.viewport_width", 1920)
	v.SetDefault("browser.viewport_height", 1080)
	v.SetDefault("browser.launch_timeout", "60s")

	// -- Automation --
	v.SetDefault("automation.navigation_timeout", "60s")
	v.SetDefault("automation.login_timeout", "60s")
	v.SetDefault("automation.probe_timeout", "5s")
	v.SetDefault("automation.step_timeout", "5s")
	v.SetDefault("automation.force_click_timeout", "2s")
	v.SetDefault("automation.upload_timeout", "30s")
	v.SetDefault("automation.download_timeout", "60s")
	v.SetDefault("automation.step_delay_min", "200ms")
	v.SetDefault("automation.step_delay_max", "500ms")
	v.SetDefault("automation.step_settle", "300ms")
	v.SetDefault("automation.download_settle", "1s")
	v.SetDefault("automation.scratch_dir", "~/.portalq/scratch")

	// -- Engine --
	v.SetDefault("engine.workers", 2)
	v.SetDefault("engine.max_concurrency", 0)
	v.SetDefault("engine.isolate_failures", false)
	v.SetDefault("engine.query_timeout", "5m")

	// -- Server --
	v.SetDefault("server.addr", ":2325")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "15m")
	v.SetDefault("server.shutdown_timeout", "20s")
	v.SetDefault("server.rate_limit", 5.0)
	v.SetDefault("server.rate_burst", 10)
	v.SetDefault("server.max_body_bytes", 1<<20)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The portal password never belongs in a committed config file.
	_ = v.BindEnv("portal.password", "PORTALQ_PORTAL_PASSWORD")
	_ = v.BindEnv("database.url", "PORTALQ_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	scratch, err := homedir.Expand(cfg.AutomationCfg.ScratchDir)
	if err != nil {
		return nil, fmt.Errorf("invalid automation.scratch_dir: %w", err)
	}
	cfg.AutomationCfg.ScratchDir = scratch

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.PortalCfg.Validate(); err != nil {
		return fmt.Errorf("portal configuration invalid: %w", err)
	}
	if err := c.AutomationCfg.Validate(); err != nil {
		return fmt.Errorf("automation configuration invalid: %w", err)
	}
	if c.EngineCfg.Workers <= 0 {
		return fmt.Errorf("engine.workers must be a positive integer")
	}
	if c.EngineCfg.MaxConcurrency < 0 {
		return fmt.Errorf("engine.max_concurrency must not be negative")
	}
	if c.BrowserCfg.ViewportWidth <= 0 || c.BrowserCfg.ViewportHeight <= 0 {
		return fmt.Errorf("browser viewport dimensions must be positive")
	}
	if c.ServerCfg.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative")
	}
	return nil
}

// Validate checks the portal settings.
func (p *PortalConfig) Validate() error {
	if p.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	u, err := url.Parse(p.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base_url %q is not an absolute URL", p.BaseURL)
	}
	if p.Landmark == "" {
		return fmt.Errorf("landmark selector is required")
	}
	switch p.CertInjector {
	case "xdotool", "none", "":
	default:
		return fmt.Errorf("cert_injector must be 'xdotool' or 'none', got %q", p.CertInjector)
	}
	return nil
}

// Validate checks the automation timings.
func (a *AutomationConfig) Validate() error {
	timeouts := map[string]time.Duration{
		"navigation_timeout":  a.NavigationTimeout,
		"login_timeout":       a.LoginTimeout,
		"step_timeout":        a.StepTimeout,
		"force_click_timeout": a.ForceClickTimeout,
		"upload_timeout":      a.UploadTimeout,
		"download_timeout":    a.DownloadTimeout,
	}
	for name, d := range timeouts {
		if d <= 0 {
			return fmt.Errorf("%s must be a positive duration", name)
		}
	}
	if a.StepDelayMin < 0 || a.StepDelayMax < a.StepDelayMin {
		return fmt.Errorf("step_delay_min must be non-negative and not exceed step_delay_max")
	}
	if a.ScratchDir == "" {
		return fmt.Errorf("scratch_dir is required")
	}
	return nil
}
