package config

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"

	"github.com/gobwas/glob"

	"github.com/Iron-Ham/uplink/internal/auth"
	"github.com/Iron-Ham/uplink/internal/provider"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "providers.drive.endpoint")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidProviderTypes returns the list of valid provider types
func ValidProviderTypes() []string {
	return []string{ProviderTypeLocalFS, ProviderTypeWebhook}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateOrchestrator()...)
	errors = append(errors, c.validateAuth()...)
	errors = append(errors, c.validateMetrics()...)
	for _, id := range c.ProviderIDs() {
		errors = append(errors, validateProvider(id, c.Providers[id])...)
	}
	errors = append(errors, c.validateRouting()...)

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	if strings.ContainsRune(c.Logging.Dir, '\x00') {
		errors = append(errors, ValidationError{
			Field:   "logging.dir",
			Value:   c.Logging.Dir,
			Message: "path contains invalid null character",
		})
	}

	return errors
}

// validateOrchestrator validates the OrchestratorConfig
func (c *Config) validateOrchestrator() []ValidationError {
	var errors []ValidationError

	if c.Orchestrator.MaxConcurrent < 0 {
		errors = append(errors, ValidationError{
			Field:   "orchestrator.max_concurrent",
			Value:   c.Orchestrator.MaxConcurrent,
			Message: "must be non-negative (0 means unbounded)",
		})
	}
	if c.Orchestrator.PerformTimeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "orchestrator.perform_timeout",
			Value:   c.Orchestrator.PerformTimeout,
			Message: "must be non-negative (0 means no timeout)",
		})
	}

	return errors
}

// validateAuth validates the AuthConfig
func (c *Config) validateAuth() []ValidationError {
	var errors []ValidationError

	if c.Auth.PollInterval <= 0 {
		errors = append(errors, ValidationError{
			Field:   "auth.poll_interval",
			Value:   c.Auth.PollInterval,
			Message: "must be positive",
		})
	}
	if c.Auth.RefreshLeeway < 0 {
		errors = append(errors, ValidationError{
			Field:   "auth.refresh_leeway",
			Value:   c.Auth.RefreshLeeway,
			Message: "must be non-negative",
		})
	}
	if c.Auth.SessionCacheSize <= 0 {
		errors = append(errors, ValidationError{
			Field:   "auth.session_cache_size",
			Value:   c.Auth.SessionCacheSize,
			Message: "must be positive",
		})
	}

	return errors
}

// validateMetrics validates the MetricsConfig
func (c *Config) validateMetrics() []ValidationError {
	if c.Metrics.Listen == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
		return []ValidationError{{
			Field:   "metrics.listen",
			Value:   c.Metrics.Listen,
			Message: "must be a host:port address",
		}}
	}
	return nil
}

// validateProvider validates one ProviderConfig
func validateProvider(id string, p ProviderConfig) []ValidationError {
	var errors []ValidationError
	prefix := "providers." + id

	switch p.Type {
	case ProviderTypeLocalFS:
		if p.Root == "" {
			errors = append(errors, ValidationError{
				Field:   prefix + ".root",
				Value:   p.Root,
				Message: "is required for localfs providers",
			})
		}
		if p.Variant != "" && p.Variant != string(provider.VariantCloud) {
			errors = append(errors, ValidationError{
				Field:   prefix + ".variant",
				Value:   p.Variant,
				Message: "localfs providers are always cloud",
			})
		}
	case ProviderTypeWebhook:
		if !isHTTPURL(p.Endpoint) {
			errors = append(errors, ValidationError{
				Field:   prefix + ".endpoint",
				Value:   p.Endpoint,
				Message: "must be an http or https URL",
			})
		}
		if p.Variant != "" && !provider.Variant(p.Variant).Valid() {
			errors = append(errors, ValidationError{
				Field:   prefix + ".variant",
				Value:   p.Variant,
				Message: "must be one of: cloud, social",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   prefix + ".type",
			Value:   p.Type,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidProviderTypes(), ", ")),
		})
	}

	if p.OAuth != nil {
		if err := p.OAuth.Flow().Validate(); err != nil {
			errors = append(errors, ValidationError{
				Field:   prefix + ".oauth",
				Value:   p.OAuth.ClientID,
				Message: err.Error(),
			})
		} else if p.OAuth.Grant == string(auth.GrantCode) || p.OAuth.Grant == "" {
			if !isHTTPURL(p.OAuth.TokenURL) {
				errors = append(errors, ValidationError{
					Field:   prefix + ".oauth.token_url",
					Value:   p.OAuth.TokenURL,
					Message: "must be an http or https URL",
				})
			}
		}
	}

	return errors
}

// validateRouting validates the RoutingConfig
func (c *Config) validateRouting() []ValidationError {
	var errors []ValidationError

	if c.Routing.Default != "" {
		if _, ok := c.Providers[c.Routing.Default]; !ok {
			errors = append(errors, ValidationError{
				Field:   "routing.default",
				Value:   c.Routing.Default,
				Message: "is not a configured provider",
			})
		}
	}

	for i, rule := range c.Routing.Rules {
		field := fmt.Sprintf("routing.rules[%d]", i)
		if _, err := glob.Compile(strings.ToLower(rule.Pattern)); rule.Pattern == "" || err != nil {
			errors = append(errors, ValidationError{
				Field:   field + ".pattern",
				Value:   rule.Pattern,
				Message: "must be a valid glob pattern",
			})
		}
		if _, ok := c.Providers[rule.Provider]; !ok {
			errors = append(errors, ValidationError{
				Field:   field + ".provider",
				Value:   rule.Provider,
				Message: "is not a configured provider",
			})
		}
	}

	return errors
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
