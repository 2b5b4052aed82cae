// Package plugin defines the contract analysis plugins implement and the
// registry that maps (category, name) pairs to plugin factories.
//
// Plugins are externally authored. The registry never runs them; it only
// enumerates and constructs them. Running and fault isolation belong to the
// scanner's category executor.
package plugin

import (
	"context"
	"errors"
	"fmt"

	"github.com/steveyegge/apkscan/internal/corpus"
	"github.com/steveyegge/apkscan/internal/manifest"
	"github.com/steveyegge/apkscan/internal/types"
)

// Plugin is one independently authored check.
//
// Run analyzes the corpus and records findings internally; Issues returns
// them afterwards. A plugin instance is used for a single Run.
type Plugin interface {
	// Name returns the plugin identifier within its category.
	Name() string

	// Run analyzes files. It must not modify the corpus.
	Run(ctx context.Context, files corpus.Files, constants Constants) error

	// Issues returns the findings recorded by Run, in the order found.
	Issues() []types.Issue
}

// Constants are the scan-wide values every plugin receives.
type Constants struct {
	MinSDK    int
	TargetSDK int

	// Manifest is the parsed application manifest, or nil if none could be loaded.
	Manifest *manifest.Document
}

// NewConstants builds plugin constants from a resolved version context.
func NewConstants(vc manifest.VersionContext, doc *manifest.Document) Constants {
	return Constants{MinSDK: vc.MinSDK, TargetSDK: vc.TargetSDK, Manifest: doc}
}

// Factory constructs a fresh plugin instance.
type Factory func() (Plugin, error)

var (
	// ErrUnknownPlugin is returned by Load for a name not registered under the category.
	ErrUnknownPlugin = errors.New("unknown plugin")

	// ErrUnknownCategory is returned for a category outside the fixed set.
	ErrUnknownCategory = errors.New("unknown category")

	// ErrNilPlugin is returned when a factory reports success but yields no plugin.
	ErrNilPlugin = errors.New("factory returned nil plugin")
)

// LoadError reports a plugin that could not be constructed.
type LoadError struct {
	Category Category
	Plugin   string
	Err      error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading plugin %s/%s: %v", e.Category, e.Plugin, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// RunError reports a plugin that failed or panicked while running.
type RunError struct {
	Category Category
	Plugin   string
	Err      error

	// Recovered holds the panic value when the plugin panicked
	Recovered any
}

func (e *RunError) Error() string {
	if e.Recovered != nil {
		return fmt.Sprintf("running plugin %s/%s: panic: %v", e.Category, e.Plugin, e.Recovered)
	}
	return fmt.Sprintf("running plugin %s/%s: %v", e.Category, e.Plugin, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}
