package rules

import (
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/steveyegge/apkscan/internal/plugin"
)

//go:embed builtin
var builtinFS embed.FS

// RegisterBuiltin registers the rule plugins bundled with the binary.
func RegisterBuiltin(r *plugin.Registry, logger *slog.Logger) (int, error) {
	sub, err := fs.Sub(builtinFS, "builtin")
	if err != nil {
		return 0, fmt.Errorf("opening builtin rules: %w", err)
	}
	return RegisterFS(r, sub, logger)
}

// RegisterDir registers rule plugins from dir. A missing dir registers nothing.
func RegisterDir(r *plugin.Registry, dir string, logger *slog.Logger) (int, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading rules directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("rules path %s is not a directory", dir)
	}
	return RegisterFS(r, os.DirFS(dir), logger)
}

// RegisterFS registers every <category>/<name>.yaml (or .yml) in fsys, walking
// categories in execution order and files in name order.
//
// Definitions are parsed when the plugin is loaded, not here, so a broken file
// only fails its own plugin. Directories that are not categories are skipped
// with a warning.
func RegisterFS(r *plugin.Registry, fsys fs.FS, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return 0, fmt.Errorf("reading rules: %w", err)
	}

	present := make(map[plugin.Category]bool)
	for _, entry := range entries {
		if !entry.IsDir() {
			if isYAML(entry.Name()) {
				logger.Warn("skipping rule file outside a category directory", "file", entry.Name())
			}
			continue
		}
		category := plugin.Category(strings.ToLower(entry.Name()))
		if !category.IsValid() {
			logger.Warn("skipping unknown rule category", "dir", entry.Name())
			continue
		}
		present[category] = true
	}

	registered := 0
	for _, category := range plugin.Categories() {
		if !present[category] {
			continue
		}

		dir := findDir(entries, category)
		files, err := fs.ReadDir(fsys, dir)
		if err != nil {
			return registered, fmt.Errorf("reading rules for %s: %w", category, err)
		}

		for _, file := range files {
			if file.IsDir() || !isYAML(file.Name()) {
				continue
			}
			name := strings.TrimSuffix(file.Name(), path.Ext(file.Name()))
			if err := r.Register(category, name, factory(fsys, path.Join(dir, file.Name()), category, name)); err != nil {
				return registered, err
			}
			registered++
		}
	}

	logger.Debug("registered rule plugins", "count", registered)
	return registered, nil
}

func factory(fsys fs.FS, file string, category plugin.Category, name string) plugin.Factory {
	return func() (plugin.Plugin, error) {
		data, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", file, err)
		}

		def, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		if def.Category != "" && plugin.Category(strings.ToLower(def.Category)) != category {
			return nil, fmt.Errorf("%s: declares category %q but lives under %q", file, def.Category, category)
		}
		if def.Name != "" && def.Name != name {
			return nil, fmt.Errorf("%s: declares name %q but file is named %q", file, def.Name, name)
		}

		p, err := New(category, name, def)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		return p, nil
	}
}

// findDir returns the directory entry name for category, preserving its original case.
func findDir(entries []fs.DirEntry, category plugin.Category) string {
	for _, entry := range entries {
		if entry.IsDir() && strings.EqualFold(entry.Name(), string(category)) {
			return entry.Name()
		}
	}
	return string(category)
}

func isYAML(name string) bool {
	ext := path.Ext(name)
	return ext == ".yaml" || ext == ".yml"
}
