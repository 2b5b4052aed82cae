package main

import (
	"fmt"
	"log/slog"

	"github.com/steveyegge/apkscan/internal/config"
	"github.com/steveyegge/apkscan/internal/plugin"
	"github.com/steveyegge/apkscan/internal/plugin/builtin"
	"github.com/steveyegge/apkscan/internal/plugin/rules"
)

// buildRegistry registers every plugin source the config enables: compiled-in
// checks, bundled rules, rule directories, then shared-object directories.
// A name registered twice is an error.
func buildRegistry(cfg config.Config, logger *slog.Logger) (*plugin.Registry, error) {
	r := plugin.NewRegistry()

	if err := builtin.Register(r); err != nil {
		return nil, fmt.Errorf("registering built-in checks: %w", err)
	}

	if cfg.BuiltinRules {
		n, err := rules.RegisterBuiltin(r, logger)
		if err != nil {
			return nil, fmt.Errorf("registering bundled rules: %w", err)
		}
		logger.Debug("registered bundled rules", "count", n)
	}

	for _, dir := range cfg.RulesDirs {
		n, err := rules.RegisterDir(r, dir, logger)
		if err != nil {
			return nil, fmt.Errorf("registering rules from %s: %w", dir, err)
		}
		logger.Debug("registered rules", "dir", dir, "count", n)
	}

	for _, dir := range cfg.PluginDirs {
		n, err := plugin.RegisterSharedObjects(r, dir, logger)
		if err != nil {
			return nil, fmt.Errorf("registering plugins from %s: %w", dir, err)
		}
		logger.Debug("registered shared-object plugins", "dir", dir, "count", n)
	}

	return r, nil
}
