package plugin

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	goplugin "plugin"
	"strings"
)

// SharedObjectSymbol is the symbol a shared-object plugin must export. It must
// be a func() plugin.Plugin constructor; an exported Plugin variable is
// rejected because every Load needs a fresh instance.
//
// The plugin contract lives under internal/, so a shared object has to be
// built from a package inside this module, with the same toolchain and
// dependency versions as the apkscan binary that loads it.
//
// Example plugin, kept in this module at plugins/my_check:
//
//	package main
//
//	import "github.com/steveyegge/apkscan/internal/plugin"
//
//	func Plugin() plugin.Plugin { return &myCheck{} }
//
// Build and install as <category>_<name>.so:
//
//	go build -buildmode=plugin -o crypto_my_check.so ./plugins/my_check
const SharedObjectSymbol = "Plugin"

// RegisterSharedObjects registers every <category>_<name>.so file in dir.
//
// Files are only opened when the plugin is loaded, so a broken shared object
// becomes a LoadError for that plugin alone. Files whose prefix is not a known
// category are skipped with a warning. A missing dir registers nothing.
func RegisterSharedObjects(r *Registry, dir string, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading plugin directory %s: %w", dir, err)
	}

	registered := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".so" {
			continue
		}

		category, name, ok := splitSharedObjectName(entry.Name())
		if !ok {
			logger.Warn("skipping shared object without category prefix", "file", entry.Name())
			continue
		}

		path := filepath.Join(dir, entry.Name())
		if err := r.Register(category, name, sharedObjectFactory(path)); err != nil {
			return registered, err
		}
		registered++
	}

	return registered, nil
}

// splitSharedObjectName splits "crypto_weak_cipher.so" into (crypto, weak_cipher).
func splitSharedObjectName(file string) (Category, string, bool) {
	stem := strings.TrimSuffix(file, filepath.Ext(file))
	prefix, name, found := strings.Cut(stem, "_")
	if !found || name == "" {
		return "", "", false
	}
	category := Category(strings.ToLower(prefix))
	if !category.IsValid() {
		return "", "", false
	}
	return category, name, true
}

func sharedObjectFactory(path string) Factory {
	return func() (Plugin, error) {
		so, err := goplugin.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}

		sym, err := so.Lookup(SharedObjectSymbol)
		if err != nil {
			return nil, fmt.Errorf("%s must export %q: %w", path, SharedObjectSymbol, err)
		}

		return newFromSymbol(path, sym)
	}
}

// newFromSymbol calls the exported constructor. Only constructors are accepted
// so that every Load gets a fresh instance.
func newFromSymbol(path string, sym goplugin.Symbol) (Plugin, error) {
	switch ctor := sym.(type) {
	case func() Plugin:
		return ctor(), nil
	case *func() Plugin:
		return (*ctor)(), nil
	}
	return nil, fmt.Errorf("%s: symbol %q has type %T, want func() plugin.Plugin", path, SharedObjectSymbol, sym)
}
