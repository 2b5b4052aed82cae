// Package config loads scanner settings from defaults, an optional YAML
// file, APKSCAN_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override (APKSCAN_PARALLELISM, ...).
const EnvPrefix = "APKSCAN"

// FileEnv names a config file to use instead of ./.apkscan.yaml.
const FileEnv = "APKSCAN_CONFIG"

// Output formats for scan results.
const (
	OutputText = "text"
	OutputJSON = "json"
	OutputYAML = "yaml"
)

// Config holds scanner settings.
type Config struct {
	// LogLevel is one of debug, info, warn, error
	LogLevel string `mapstructure:"log_level"`

	// Parallelism bounds concurrent plugins within a category
	// Default: 1 (sequential), Range: 1-64
	Parallelism int `mapstructure:"parallelism"`

	// BuiltinRules registers the bundled rule plugins
	BuiltinRules bool `mapstructure:"builtin_rules"`

	// RulesDirs hold <category>/<name>.yaml rule plugins
	RulesDirs []string `mapstructure:"rules_dirs"`

	// PluginDirs hold <category>_<name>.so shared-object plugins
	PluginDirs []string `mapstructure:"plugin_dirs"`

	// DisabledPlugins are skipped ("category/name" or "name")
	DisabledPlugins []string `mapstructure:"disabled_plugins"`

	// Categories limits which categories run (empty = all)
	Categories []string `mapstructure:"categories"`

	// Output is text, json or yaml
	Output string `mapstructure:"output"`

	// WatchDebounce is how long watch mode waits for changes to settle
	// Default: 500ms, Range: 10ms-1m
	WatchDebounce time.Duration `mapstructure:"watch_debounce"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		LogLevel:      "info",
		Parallelism:   1,
		BuiltinRules:  true,
		Output:        OutputText,
		WatchDebounce: 500 * time.Millisecond,
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Parallelism < 1 || c.Parallelism > 64 {
		return fmt.Errorf("parallelism must be between 1 and 64 (got %d)", c.Parallelism)
	}
	switch c.Output {
	case OutputText, OutputJSON, OutputYAML:
	default:
		return fmt.Errorf("output must be one of text, json, yaml (got %q)", c.Output)
	}
	if c.WatchDebounce < 10*time.Millisecond || c.WatchDebounce > time.Minute {
		return fmt.Errorf("watch_debounce must be between 10ms and 1m (got %s)", c.WatchDebounce)
	}
	return nil
}

// Level returns the configured log level. Call Validate first.
func (c Config) Level() slog.Level {
	level, _ := ParseLevel(c.LogLevel)
	return level
}

// ParseLevel converts debug, info, warn or error to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log_level must be one of debug, info, warn, error (got %q)", s)
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"log-level":     "log_level",
	"parallelism":   "parallelism",
	"builtin-rules": "builtin_rules",
	"rules-dir":     "rules_dirs",
	"plugin-dir":    "plugin_dirs",
	"disable":       "disabled_plugins",
	"category":      "categories",
	"output":        "output",
	"debounce":      "watch_debounce",
}

// Load reads the configuration. path names a config file; when empty,
// $APKSCAN_CONFIG is used, then .apkscan.yaml in the working directory if
// present. Flags found in flags (which may be nil) override every other source
// when set on the command line.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()

	def := Default()
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("parallelism", def.Parallelism)
	v.SetDefault("builtin_rules", def.BuiltinRules)
	v.SetDefault("rules_dirs", []string{})
	v.SetDefault("plugin_dirs", []string{})
	v.SetDefault("disabled_plugins", []string{})
	v.SetDefault("categories", []string{})
	v.SetDefault("output", def.Output)
	v.SetDefault("watch_debounce", def.WatchDebounce)

	v.SetConfigType("yaml")
	if path == "" {
		path = os.Getenv(FileEnv)
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(".apkscan")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if flags != nil {
		for flag, key := range flagKeys {
			if f := flags.Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("binding flag %s: %w", flag, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

// String returns a human-readable representation of the config
func (c Config) String() string {
	return fmt.Sprintf(
		"Config{LogLevel: %s, Parallelism: %d, BuiltinRules: %t, RulesDirs: %v, PluginDirs: %v, DisabledPlugins: %v, Categories: %v, Output: %s, WatchDebounce: %s}",
		c.LogLevel, c.Parallelism, c.BuiltinRules, c.RulesDirs, c.PluginDirs, c.DisabledPlugins, c.Categories, c.Output, c.WatchDebounce,
	)
}
