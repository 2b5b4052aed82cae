// Package scanner drives a scan: it gathers the corpus once, then runs every
// category of plugins in the fixed category order and collects their findings.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/steveyegge/apkscan/internal/corpus"
	"github.com/steveyegge/apkscan/internal/manifest"
	"github.com/steveyegge/apkscan/internal/plugin"
	"github.com/steveyegge/apkscan/internal/types"
)

// ErrAlreadyRun is returned by a second call to Scanner.Run.
var ErrAlreadyRun = errors.New("scanner already run")

// Config holds everything a Scanner is built from.
type Config struct {
	// ManifestPath may be empty; the corpus build then tries to discover one
	ManifestPath string

	// SourcePath, when it names a single source file, replaces the build directory walk
	SourcePath string

	// BuildDirectory may be empty or missing; the corpus is then empty
	BuildDirectory string

	Registry Registry

	// Categories limits the scan to these categories (empty = all). Order is always the fixed order.
	Categories []string

	// Disabled lists plugins to skip ("category/name" or "name")
	Disabled []string

	// Parallelism bounds concurrent plugins within one category (default 1)
	Parallelism int

	Logger *slog.Logger
}

// Scanner runs one scan. It is single-use: unstarted until Run, complete after.
type Scanner struct {
	id         string
	sourcePath string
	buildDir   string
	categories []plugin.Category

	location *manifest.Location
	corpus   *corpus.Corpus
	builder  *corpus.Builder
	executor *Executor
	logger   *slog.Logger

	mu          sync.Mutex
	ran         bool
	doc         *manifest.Document
	issues      []types.Issue
	outcomes    []Outcome
	startedAt   time.Time
	completedAt time.Time
}

// New creates a scanner and loads the manifest document, if any, for
// manifest-oriented plugins. Unknown categories and plugin names in cfg are
// logged with a suggestion and ignored.
func New(cfg Config) (*Scanner, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("scanner requires a plugin registry")
	}

	id := uuid.New().String()
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("scan_id", id)

	categories, unknown := plugin.FilterCategories(cfg.Categories)
	for _, name := range unknown {
		_, err := plugin.ParseCategory(name)
		logger.Warn("ignoring category", "error", err)
	}
	warnUnknownPlugins(cfg.Registry, cfg.Disabled, logger)

	parallelism := cfg.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}

	s := &Scanner{
		id:         id,
		sourcePath: cfg.SourcePath,
		buildDir:   cfg.BuildDirectory,
		categories: categories,
		location:   manifest.NewLocation(cfg.ManifestPath),
		corpus:     corpus.New(),
		builder:    corpus.NewBuilder(manifest.Discover, logger),
		executor: NewExecutor(cfg.Registry, ExecutorConfig{
			Parallelism: parallelism,
			Disabled:    cfg.Disabled,
			Logger:      logger,
		}),
		logger: logger,
	}
	s.primeManifest()

	return s, nil
}

// Run builds the corpus and runs every selected category in order.
//
// Plugin failures never fail the scan. Run returns an error only when the
// corpus cannot be built, the context is canceled, or a category's version
// context cannot be resolved; findings from earlier categories are kept.
func (s *Scanner) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.ran {
		s.mu.Unlock()
		return ErrAlreadyRun
	}
	s.ran = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.completedAt = time.Now()
		s.mu.Unlock()
	}()

	s.logger.Info("starting scan", "source", s.sourcePath, "build_dir", s.buildDir, "manifest", s.location.Get())

	hadManifest := s.location.IsSet()
	if err := s.builder.Build(ctx, s.corpus, s.sourcePath, s.buildDir, s.location); err != nil {
		return fmt.Errorf("building corpus: %w", err)
	}
	if !hadManifest && s.location.IsSet() {
		s.primeManifest()
	}

	for _, category := range s.categories {
		outcomes, err := s.executor.Run(ctx, Request{
			Category: category,
			Files:    s.corpus,
			Location: s.location.Get(),
			Manifest: s.document(),
		})
		s.record(category, outcomes)
		if err != nil {
			return fmt.Errorf("running %s checks: %w", category, err)
		}
	}

	s.logger.Info("scan complete", "files", s.corpus.Len(), "issues", len(s.Issues()))
	return nil
}

func (s *Scanner) record(category plugin.Category, outcomes []Outcome) {
	issues := Aggregate(outcomes)

	skipped := 0
	for _, o := range outcomes {
		if o.Skipped() {
			skipped++
		}
	}
	s.logger.Info("category complete", "category", category, "plugins", len(outcomes), "skipped", skipped, "issues", len(issues))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, outcomes...)
	s.issues = append(s.issues, issues...)
}

// primeManifest loads the manifest document handed to plugins.
// A missing or unreadable manifest leaves it nil.
func (s *Scanner) primeManifest() {
	path := s.location.Get()
	if path == "" {
		return
	}

	doc, err := manifest.Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug("manifest not found", "manifest", path)
		} else {
			s.logger.Warn("could not load manifest", "manifest", path, "error", err)
		}
		return
	}

	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
}

func (s *Scanner) document() *manifest.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc
}

// ID returns the scan's unique identifier.
func (s *Scanner) ID() string {
	return s.id
}

// Issues returns a copy of the findings collected so far, in execution order.
func (s *Scanner) Issues() []types.Issue {
	s.mu.Lock()
	defer s.mu.Unlock()

	issues := make([]types.Issue, len(s.issues))
	copy(issues, s.issues)
	return issues
}

// Outcomes returns a copy of every per-plugin outcome, in execution order.
func (s *Scanner) Outcomes() []Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	outcomes := make([]Outcome, len(s.outcomes))
	copy(outcomes, s.outcomes)
	return outcomes
}

// Files returns the scan corpus.
func (s *Scanner) Files() corpus.Files {
	return s.corpus
}

// ManifestPath returns the manifest location, which may have been discovered during Run.
func (s *Scanner) ManifestPath() string {
	return s.location.Get()
}

// Categories returns the categories this scanner runs, in order.
func (s *Scanner) Categories() []plugin.Category {
	out := make([]plugin.Category, len(s.categories))
	copy(out, s.categories)
	return out
}

// warnUnknownPlugins logs disabled entries that match no registered plugin.
// An entry is registered exactly when it is its own closest match.
func warnUnknownPlugins(registry Registry, disabled []string, logger *slog.Logger) {
	for _, entry := range disabled {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		hint := registry.Suggest(entry)
		switch hint {
		case entry:
		case "":
			logger.Warn("disabled plugin is not registered", "plugin", entry)
		default:
			logger.Warn("disabled plugin is not registered", "plugin", entry, "did_you_mean", hint)
		}
	}
}
