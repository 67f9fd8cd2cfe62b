package config

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/viper"

	"github.com/Iron-Ham/uplink/internal/auth"
	"github.com/Iron-Ham/uplink/internal/logging"
	"github.com/Iron-Ham/uplink/internal/orchestrator"
	"github.com/Iron-Ham/uplink/internal/provider"
)

// Provider types understood by the CLI.
const (
	ProviderTypeLocalFS = "localfs"
	ProviderTypeWebhook = "webhook"
)

// Config represents the complete Uplink configuration
type Config struct {
	Logging      LoggingConfig             `mapstructure:"logging" yaml:"logging"`
	Orchestrator OrchestratorConfig        `mapstructure:"orchestrator" yaml:"orchestrator"`
	Auth         AuthConfig                `mapstructure:"auth" yaml:"auth"`
	Metrics      MetricsConfig             `mapstructure:"metrics" yaml:"metrics"`
	Providers    map[string]ProviderConfig `mapstructure:"providers" yaml:"providers"`
	Routing      RoutingConfig             `mapstructure:"routing" yaml:"routing"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether debug logging is written to Dir (default: true)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level" yaml:"level"`
	// Dir holds uplink.log. Empty means the "logs" directory under ConfigDir.
	Dir string `mapstructure:"dir" yaml:"dir"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
	// Compress gzips rotated log files
	Compress bool `mapstructure:"compress" yaml:"compress"`
}

// OrchestratorConfig controls how submitted tasks run
type OrchestratorConfig struct {
	// MaxConcurrent caps simultaneous uploads. 0 means unbounded (default).
	MaxConcurrent int `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	// AbortOnCancel aborts in-flight uploads when their task is cancelled
	AbortOnCancel bool `mapstructure:"abort_on_cancel" yaml:"abort_on_cancel"`
	// PerformTimeout bounds each upload. 0 means no timeout.
	PerformTimeout time.Duration `mapstructure:"perform_timeout" yaml:"perform_timeout"`
}

// AuthConfig controls the authentication handshake
type AuthConfig struct {
	PollInterval     time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	RefreshLeeway    time.Duration `mapstructure:"refresh_leeway" yaml:"refresh_leeway"`
	SessionCacheSize int           `mapstructure:"session_cache_size" yaml:"session_cache_size"`
	// SessionDB is the SQLite file sessions persist to. Empty means the
	// "sessions.db" file under ConfigDir; "-" keeps sessions in memory.
	SessionDB string `mapstructure:"session_db" yaml:"session_db"`
	// OpenBrowser launches the system browser for handshakes (default: true)
	OpenBrowser bool `mapstructure:"open_browser" yaml:"open_browser"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	// Listen is the address /metrics is served on by long-running commands
	// such as watch. Empty disables the endpoint.
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// ProviderConfig describes one configured provider
type ProviderConfig struct {
	// Type is "localfs" or "webhook"
	Type string `mapstructure:"type" yaml:"type"`
	// Variant is "cloud" or "social" (webhook only; localfs is always cloud)
	Variant string `mapstructure:"variant" yaml:"variant,omitempty"`

	// Root is the storage directory of a localfs provider
	Root string `mapstructure:"root" yaml:"root,omitempty"`
	// BaseURL prefixes result URLs of a localfs provider
	BaseURL string `mapstructure:"base_url" yaml:"base_url,omitempty"`

	// Endpoint receives multipart uploads for a webhook provider
	Endpoint     string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	FieldName    string `mapstructure:"field_name" yaml:"field_name,omitempty"`
	RequireToken bool   `mapstructure:"require_token" yaml:"require_token,omitempty"`

	// OAuth configures the provider's handshake. Nil means anonymous.
	OAuth *OAuthConfig `mapstructure:"oauth" yaml:"oauth,omitempty"`
}

// OAuthConfig is a provider's OAuth 2.0 handshake configuration
type OAuthConfig struct {
	ClientID     string   `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string   `mapstructure:"client_secret" yaml:"client_secret,omitempty"`
	AuthURL      string   `mapstructure:"auth_url" yaml:"auth_url"`
	TokenURL     string   `mapstructure:"token_url" yaml:"token_url,omitempty"`
	RedirectURL  string   `mapstructure:"redirect_url" yaml:"redirect_url"`
	Scopes       []string `mapstructure:"scopes" yaml:"scopes,omitempty"`
	PKCE         bool     `mapstructure:"pkce" yaml:"pkce"`
	// Grant is "code" (default) or "token"
	Grant string `mapstructure:"grant" yaml:"grant,omitempty"`
}

// RoutingConfig picks a provider for a file when none is given
type RoutingConfig struct {
	// Default is used when no rule matches
	Default string `mapstructure:"default" yaml:"default"`
	// Rules are matched in order against the lowercased file name
	Rules []RouteRule `mapstructure:"rules" yaml:"rules,omitempty"`
}

// RouteRule sends files whose name matches Pattern to Provider
type RouteRule struct {
	Pattern  string `mapstructure:"pattern" yaml:"pattern"`
	Provider string `mapstructure:"provider" yaml:"provider"`
}

// Flow converts the OAuth configuration into an auth.Flow
func (o OAuthConfig) Flow() auth.Flow {
	return auth.Flow{
		AuthURL:      o.AuthURL,
		TokenURL:     o.TokenURL,
		ClientID:     o.ClientID,
		ClientSecret: o.ClientSecret,
		RedirectURL:  o.RedirectURL,
		Scopes:       o.Scopes,
		PKCE:         o.PKCE,
		Grant:        auth.GrantType(o.Grant),
	}
}

// Router builds a provider.Router from the routing rules
func (r RoutingConfig) Router() (*provider.Router, error) {
	rules := make([]provider.Rule, 0, len(r.Rules))
	for _, rule := range r.Rules {
		rules = append(rules, provider.Rule{Pattern: rule.Pattern, Provider: rule.Provider})
	}
	return provider.NewRouter(rules, r.Default)
}

// ProviderIDs returns the configured provider ids, sorted
func (c *Config) ProviderIDs() []string {
	ids := make([]string, 0, len(c.Providers))
	for id := range c.Providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// OrchestratorConfig converts the orchestrator and auth sections into an
// orchestrator.Config. Surface, Store and Observer are left to the caller.
func (c *Config) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		MaxConcurrent:  c.Orchestrator.MaxConcurrent,
		AbortOnCancel:  c.Orchestrator.AbortOnCancel,
		PerformTimeout: c.Orchestrator.PerformTimeout,
		Auth: auth.Options{
			PollInterval:     c.Auth.PollInterval,
			HandshakeTimeout: c.Auth.HandshakeTimeout,
			RefreshLeeway:    c.Auth.RefreshLeeway,
			CacheSize:        c.Auth.SessionCacheSize,
		},
	}
}

// LoggerOptions converts the logging section into logging.Options. Dir is
// empty when logging is disabled.
func (c *Config) LoggerOptions() logging.Options {
	opts := logging.Options{
		Level: c.Logging.Level,
		Rotation: logging.RotationConfig{
			MaxSizeMB:  c.Logging.MaxSizeMB,
			MaxBackups: c.Logging.MaxBackups,
			Compress:   c.Logging.Compress,
		},
	}
	if c.Logging.Enabled {
		opts.Dir = c.LogDir()
	}
	return opts
}

// LogDir returns the directory holding uplink.log
func (c *Config) LogDir() string {
	if c.Logging.Dir != "" {
		return expandHome(c.Logging.Dir)
	}
	return filepath.Join(ConfigDir(), "logs")
}

// SessionDBPath returns the SQLite session database path, or "" when
// sessions are kept in memory only.
func (c *Config) SessionDBPath() string {
	switch c.Auth.SessionDB {
	case "-":
		return ""
	case "":
		return filepath.Join(ConfigDir(), "sessions.db")
	default:
		return expandHome(c.Auth.SessionDB)
	}
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Orchestrator: OrchestratorConfig{
			MaxConcurrent: 0, // unbounded
		},
		Auth: AuthConfig{
			PollInterval:     auth.DefaultPollInterval,
			HandshakeTimeout: auth.DefaultHandshakeTimeout,
			RefreshLeeway:    auth.DefaultRefreshLeeway,
			SessionCacheSize: auth.DefaultCacheSize,
			OpenBrowser:      true,
		},
		Providers: map[string]ProviderConfig{},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)

	// Orchestrator defaults
	viper.SetDefault("orchestrator.max_concurrent", defaults.Orchestrator.MaxConcurrent)
	viper.SetDefault("orchestrator.abort_on_cancel", defaults.Orchestrator.AbortOnCancel)
	viper.SetDefault("orchestrator.perform_timeout", defaults.Orchestrator.PerformTimeout)

	// Auth defaults
	viper.SetDefault("auth.poll_interval", defaults.Auth.PollInterval)
	viper.SetDefault("auth.handshake_timeout", defaults.Auth.HandshakeTimeout)
	viper.SetDefault("auth.refresh_leeway", defaults.Auth.RefreshLeeway)
	viper.SetDefault("auth.session_cache_size", defaults.Auth.SessionCacheSize)
	viper.SetDefault("auth.session_db", defaults.Auth.SessionDB)
	viper.SetDefault("auth.open_browser", defaults.Auth.OpenBrowser)

	// Metrics defaults
	viper.SetDefault("metrics.listen", defaults.Metrics.Listen)

	// Routing defaults
	viper.SetDefault("routing.default", defaults.Routing.Default)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if cfg.Providers == nil {
		cfg.Providers = map[string]ProviderConfig{}
	}

	// Validate the configuration
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "uplink")
	}
	// Fall back to ~/.config/uplink
	home, err := os.UserHomeDir()
	if err != nil {
		return ".uplink"
	}
	return filepath.Join(home, ".config", "uplink")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

func expandHome(path string) string {
	if len(path) < 2 || path[:2] != "~/" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
