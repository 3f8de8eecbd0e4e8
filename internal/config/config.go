// Package config provides configuration management for tmplserve using
// Viper for loading from files, environment variables and command-line
// flags.
//
// Values are read from .tmplserve.yml, overridden by TMPLSERVE_ prefixed
// environment variables (TMPLSERVE_SERVER_PORT, TMPLSERVE_CONTENT_ROOT, ...)
// and finally by flags bound in the cmd package.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "github.com/conneroisu/tmplserve/internal/errors"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Content     ContentConfig     `mapstructure:"content" yaml:"content"`
	Sanitize    SanitizeConfig    `mapstructure:"sanitize" yaml:"sanitize"`
	Development DevelopmentConfig `mapstructure:"development" yaml:"development"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// MarshalYAML writes durations in their string form so the output can be
// read back as a config file.
func (s ServerConfig) MarshalYAML() (interface{}, error) {
	return struct {
		Host            string `yaml:"host"`
		Port            int    `yaml:"port"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
	}{s.Host, s.Port, s.ShutdownTimeout.String()}, nil
}

type ContentConfig struct {
	// Root is the static content directory served for unmatched paths.
	Root string `mapstructure:"root" yaml:"root"`
	// Templates is the template root, normally nested under Root.
	Templates string `mapstructure:"templates" yaml:"templates"`
	// NotFound is the fallback document, relative to Root.
	NotFound string `mapstructure:"not_found" yaml:"not_found"`
}

type SanitizeConfig struct {
	Policy string `mapstructure:"policy" yaml:"policy"`
}

type DevelopmentConfig struct {
	HotReload bool          `mapstructure:"hot_reload" yaml:"hot_reload"`
	Debounce  time.Duration `mapstructure:"debounce" yaml:"debounce"`
	// AllowedOrigins are extra Origin host patterns accepted on the live
	// reload socket. Same-host requests are always accepted.
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins,omitempty"`
}

// MarshalYAML writes the debounce as a duration string.
func (d DevelopmentConfig) MarshalYAML() (interface{}, error) {
	return struct {
		HotReload      bool     `yaml:"hot_reload"`
		Debounce       string   `yaml:"debounce"`
		AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
	}{d.HotReload, d.Debounce.String(), d.AllowedOrigins}, nil
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Out of the box the server listens on 0.0.0.0:3000 and serves app/ with
// templates under app/templates.
const (
	DefaultHost            = "0.0.0.0"
	DefaultPort            = 3000
	DefaultContentRoot     = "app"
	DefaultTemplateRoot    = "app/templates"
	DefaultNotFound        = "404.html"
	DefaultPolicy          = "ugc"
	DefaultDebounce        = 300 * time.Millisecond
	DefaultShutdownTimeout = 30 * time.Second
)

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", DefaultHost)
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.shutdown_timeout", DefaultShutdownTimeout)
	v.SetDefault("content.root", DefaultContentRoot)
	v.SetDefault("content.templates", DefaultTemplateRoot)
	v.SetDefault("content.not_found", DefaultNotFound)
	v.SetDefault("sanitize.policy", DefaultPolicy)
	v.SetDefault("development.hot_reload", false)
	v.SetDefault("development.debounce", DefaultDebounce)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// trimOrigins drops blank patterns. An empty result is nil.
func trimOrigins(patterns []string) []string {
	var out []string
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load reads configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads configuration from v, applying defaults and validation.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, apperrors.NewConfigError(apperrors.ErrCodeConfigInvalid, "unable to decode configuration").
			WithContext("cause", err.Error())
	}

	config.Log.Level = strings.ToLower(strings.TrimSpace(config.Log.Level))
	config.Log.Format = strings.ToLower(strings.TrimSpace(config.Log.Format))
	config.Sanitize.Policy = strings.ToLower(strings.TrimSpace(config.Sanitize.Policy))
	config.Development.AllowedOrigins = trimOrigins(config.Development.AllowedOrigins)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := validateContentConfig(&config.Content); err != nil {
		return fmt.Errorf("content config: %w", err)
	}

	switch config.Sanitize.Policy {
	case "ugc", "strict":
	default:
		return apperrors.NewConfigError(apperrors.ErrCodeConfigInvalid,
			fmt.Sprintf("sanitize policy %q is not one of ugc, strict", config.Sanitize.Policy))
	}

	if config.Development.HotReload && config.Development.Debounce <= 0 {
		return apperrors.NewConfigError(apperrors.ErrCodeConfigInvalid,
			"development.debounce must be positive when hot reload is enabled")
	}

	switch config.Log.Format {
	case "text", "json":
	default:
		return apperrors.NewConfigError(apperrors.ErrCodeConfigInvalid,
			fmt.Sprintf("log format %q is not one of text, json", config.Log.Format))
	}

	return nil
}

// validateServerConfig validates server configuration values
func validateServerConfig(config *ServerConfig) error {
	// 0 lets the kernel pick a port; tests rely on it.
	if config.Port < 0 || config.Port > 65535 {
		return apperrors.NewConfigError(apperrors.ErrCodeConfigInvalid,
			fmt.Sprintf("port %d is not in valid range 0-65535", config.Port))
	}

	if config.Host != "" {
		dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
		for _, char := range dangerousChars {
			if strings.Contains(config.Host, char) {
				return apperrors.NewConfigError(apperrors.ErrCodeConfigInvalid,
					fmt.Sprintf("host contains dangerous character: %s", char))
			}
		}
	}

	if config.ShutdownTimeout < 0 {
		return apperrors.NewConfigError(apperrors.ErrCodeConfigInvalid, "shutdown_timeout must not be negative")
	}

	return nil
}

func validateContentConfig(config *ContentConfig) error {
	if err := validatePath(config.Root); err != nil {
		return fmt.Errorf("root: %w", err)
	}
	if err := validatePath(config.Templates); err != nil {
		return fmt.Errorf("templates: %w", err)
	}
	if err := validatePath(config.NotFound); err != nil {
		return fmt.Errorf("not_found: %w", err)
	}
	if filepath.IsAbs(config.NotFound) {
		return apperrors.NewConfigError(apperrors.ErrCodeInvalidPath, "not_found must be relative to the content root")
	}
	return nil
}

// validatePath validates a file path for security
func validatePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return apperrors.NewConfigError(apperrors.ErrCodeInvalidPath, "empty path")
	}

	cleanPath := filepath.Clean(path)
	for _, part := range strings.Split(filepath.ToSlash(cleanPath), "/") {
		if part == ".." {
			return apperrors.NewConfigError(apperrors.ErrCodeInvalidPath,
				fmt.Sprintf("path contains traversal: %s", path))
		}
	}

	return nil
}
