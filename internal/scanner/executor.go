package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/apkscan/internal/corpus"
	"github.com/steveyegge/apkscan/internal/manifest"
	"github.com/steveyegge/apkscan/internal/plugin"
	"github.com/steveyegge/apkscan/internal/types"
)

// ErrDisabled marks a plugin skipped because configuration disabled it.
var ErrDisabled = errors.New("plugin disabled")

// Registry is the part of plugin.Registry the executor needs.
type Registry interface {
	List(category plugin.Category) []string
	Load(category plugin.Category, name string) (plugin.Plugin, error)

	// Suggest returns the registered name ("name" or "category/name") closest to name, or ""
	Suggest(name string) string
}

// Outcome is the result of one plugin in one category run.
// Err is nil on success; otherwise the plugin was skipped and contributed nothing.
type Outcome struct {
	Category plugin.Category
	Plugin   string

	// Index is the plugin's position in the registry's enumeration
	Index int

	Issues   []types.Issue
	Err      error
	Duration time.Duration
}

// Skipped reports whether the plugin contributed nothing because of a failure or configuration.
func (o Outcome) Skipped() bool {
	return o.Err != nil
}

// Aggregate merges outcomes into the ordered finding sequence: category
// order, then plugin enumeration order. Skipped outcomes contribute nothing.
// The input is not modified.
func Aggregate(outcomes []Outcome) []types.Issue {
	sorted := make([]Outcome, len(outcomes))
	copy(sorted, outcomes)
	sort.SliceStable(sorted, func(i, j int) bool {
		ci, cj := sorted[i].Category.Index(), sorted[j].Category.Index()
		if ci != cj {
			return ci < cj
		}
		return sorted[i].Index < sorted[j].Index
	})

	var issues []types.Issue
	for _, o := range sorted {
		if o.Skipped() {
			continue
		}
		issues = append(issues, o.Issues...)
	}
	return issues
}

// ExecutorConfig tunes an Executor.
type ExecutorConfig struct {
	// Parallelism bounds how many plugins of one category run at once (<= 1 runs them in order)
	Parallelism int

	// Disabled lists plugins to skip, as "category/name" or a bare "name" matching any category
	Disabled []string

	Logger *slog.Logger
}

// Request is one category run.
type Request struct {
	Category plugin.Category
	Files    corpus.Files
	Location string

	// Manifest is handed to plugins as-is; nil when none was loaded
	Manifest *manifest.Document
}

// Executor runs every plugin of a category against the corpus. It is the
// fault boundary between the scanner and plugin code: load failures, run
// errors and panics become skipped outcomes, never scan failures.
type Executor struct {
	registry    Registry
	resolver    *manifest.Resolver
	parallelism int
	disabled    map[string]bool
	logger      *slog.Logger
}

// NewExecutor creates an executor over registry.
func NewExecutor(registry Registry, cfg ExecutorConfig) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	disabled := make(map[string]bool, len(cfg.Disabled))
	for _, name := range cfg.Disabled {
		if name = strings.TrimSpace(name); name != "" {
			disabled[name] = true
		}
	}

	return &Executor{
		registry:    registry,
		resolver:    manifest.NewResolver(logger),
		parallelism: cfg.Parallelism,
		disabled:    disabled,
		logger:      logger,
	}
}

// Execute runs category and returns its findings in plugin enumeration order.
//
// Per-plugin failures are logged and skipped. The only error returned is a
// version context that could not be resolved (a malformed manifest) or a
// canceled context; findings gathered before cancellation are still returned.
func (e *Executor) Execute(ctx context.Context, category plugin.Category, files corpus.Files, location string) ([]types.Issue, error) {
	outcomes, err := e.Run(ctx, Request{Category: category, Files: files, Location: location})
	return Aggregate(outcomes), err
}

// Run is Execute with the per-plugin outcomes kept.
func (e *Executor) Run(ctx context.Context, req Request) ([]Outcome, error) {
	if !req.Category.IsValid() {
		return nil, fmt.Errorf("%w %q", plugin.ErrUnknownCategory, req.Category)
	}

	resolution := e.resolver.Resolve(ctx, req.Location, req.Files)
	vc, err := resolution.Result()
	if err != nil {
		return nil, fmt.Errorf("resolving version context: %w", err)
	}
	if resolution.Kind == manifest.Defaulted {
		e.logger.Debug("using default version context", "category", req.Category, "reason", resolution.Reason)
	}
	constants := plugin.NewConstants(vc, req.Manifest)

	names := e.registry.List(req.Category)
	if e.parallelism <= 1 || len(names) < 2 {
		return e.runSequential(ctx, req, names, constants)
	}
	return e.runParallel(ctx, req, names, constants)
}

func (e *Executor) runSequential(ctx context.Context, req Request, names []string, constants plugin.Constants) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(names))
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, e.runOne(ctx, req, i, name, constants))
	}
	return outcomes, nil
}

// runParallel runs plugins on a bounded pool. Each plugin writes only its own
// slot, so the outcome order matches the sequential run.
func (e *Executor) runParallel(ctx context.Context, req Request, names []string, constants plugin.Constants) ([]Outcome, error) {
	slots := make([]Outcome, len(names))
	ran := make([]bool, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for i, name := range names {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			slots[i] = e.runOne(gctx, req, i, name, constants)
			ran[i] = true
			return nil
		})
	}
	err := g.Wait()

	outcomes := make([]Outcome, 0, len(names))
	for i := range slots {
		if ran[i] {
			outcomes = append(outcomes, slots[i])
		}
	}
	if err == nil {
		err = ctx.Err()
	}
	return outcomes, err
}

func (e *Executor) runOne(ctx context.Context, req Request, index int, name string, constants plugin.Constants) Outcome {
	out := Outcome{Category: req.Category, Plugin: name, Index: index}

	if e.isDisabled(req.Category, name) {
		out.Err = ErrDisabled
		e.logger.Info("skipping disabled plugin", "category", req.Category, "plugin", name)
		return out
	}

	start := time.Now()
	out.Issues, out.Err = e.invoke(ctx, req.Category, name, req.Files, constants)
	out.Duration = time.Since(start)

	if out.Err != nil {
		out.Issues = nil
		e.logger.Error("plugin failed", "category", req.Category, "plugin", name, "error", out.Err)
		return out
	}

	e.logger.Debug("plugin finished", "category", req.Category, "plugin", name,
		"issues", len(out.Issues), "duration", out.Duration)
	return out
}

// invoke loads and runs one plugin, converting panics into typed errors.
func (e *Executor) invoke(ctx context.Context, category plugin.Category, name string, files corpus.Files, constants plugin.Constants) (issues []types.Issue, err error) {
	loaded := false
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		issues = nil
		if !loaded {
			err = &plugin.LoadError{Category: category, Plugin: name, Err: fmt.Errorf("panic: %v", rec)}
			return
		}
		err = &plugin.RunError{Category: category, Plugin: name, Err: fmt.Errorf("panic: %v", rec), Recovered: rec}
	}()

	p, err := e.registry.Load(category, name)
	if err != nil {
		var loadErr *plugin.LoadError
		if !errors.As(err, &loadErr) {
			err = &plugin.LoadError{Category: category, Plugin: name, Err: err}
		}
		return nil, err
	}
	if p == nil {
		return nil, &plugin.LoadError{Category: category, Plugin: name, Err: plugin.ErrNilPlugin}
	}
	loaded = true

	if err := p.Run(ctx, files, constants); err != nil {
		return nil, &plugin.RunError{Category: category, Plugin: name, Err: err}
	}

	found := p.Issues()
	issues = make([]types.Issue, len(found))
	copy(issues, found)
	return issues, nil
}

func (e *Executor) isDisabled(category plugin.Category, name string) bool {
	return e.disabled[name] || e.disabled[string(category)+"/"+name]
}
