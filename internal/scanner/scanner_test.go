package scanner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/apkscan/internal/corpus"
	"github.com/steveyegge/apkscan/internal/manifest"
	"github.com/steveyegge/apkscan/internal/plugin"
	"github.com/steveyegge/apkscan/internal/types"
)

// oneInEachCategory registers a plugin per category, in reverse order, that
// records what it saw and emits a single finding named after its category.
func oneInEachCategory(t *testing.T, r *plugin.Registry, seen map[plugin.Category]plugin.Constants, files map[plugin.Category][]string) {
	t.Helper()
	categories := plugin.Categories()
	for i := len(categories) - 1; i >= 0; i-- {
		category := categories[i]
		register(t, r, category, fakePlugin{
			name:   "check",
			issues: []types.Issue{issue(string(category))},
			onRun: func(f corpus.Files, c plugin.Constants) {
				if seen != nil {
					seen[category] = c
				}
				if files != nil {
					files[category] = f.Paths()
				}
			},
		})
	}
}

func categoryNames() []string {
	var names []string
	for _, c := range plugin.Categories() {
		names = append(names, string(c))
	}
	return names
}

func TestScanner_SingleSourceFile(t *testing.T) {
	r := plugin.NewRegistry()
	seen := make(map[plugin.Category]plugin.Constants)
	files := make(map[plugin.Category][]string)
	oneInEachCategory(t, r, seen, files)

	s, err := New(Config{SourcePath: "Foo.java", Registry: r})
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, []string{"Foo.java"}, s.Files().Paths())
	assert.Empty(t, s.ManifestPath())

	require.Len(t, seen, len(plugin.Categories()), "every category ran")
	for category, c := range seen {
		assert.Equal(t, 1, c.MinSDK, category)
		assert.Equal(t, 1, c.TargetSDK, category)
		assert.Nil(t, c.Manifest)
		assert.Equal(t, []string{"Foo.java"}, files[category])
	}

	assert.Equal(t, categoryNames(), issueNames(s.Issues()), "issues follow category order, not registration order")
}

func TestScanner_SingleSourceFileIgnoresBuildDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Other.java"), []byte("x"), 0644))

	s, err := New(Config{SourcePath: "src/Foo.JAVA", BuildDirectory: dir, Registry: plugin.NewRegistry()})
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, []string{"src/Foo.JAVA"}, s.Files().Paths())
}

func TestScanner_NoBuildDirectory(t *testing.T) {
	s, err := New(Config{Registry: plugin.NewRegistry()})
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background()))

	assert.Zero(t, s.Files().Len())
	assert.Empty(t, s.Issues())
}

func TestScanner_DiscoversManifest(t *testing.T) {
	dir := t.TempDir()
	smali := filepath.Join(dir, "a", "Bar.smali")
	manifestPath := filepath.Join(dir, "a", manifest.FileName)
	require.NoError(t, os.MkdirAll(filepath.Dir(smali), 0755))
	require.NoError(t, os.WriteFile(smali, []byte(".class LBar;"), 0644))
	require.NoError(t, os.WriteFile(manifestPath, []byte(
		`<manifest xmlns:android="http://schemas.android.com/apk/res/android" package="com.example">`+
			`<uses-sdk android:minSdkVersion="18" android:targetSdkVersion="26"/></manifest>`), 0644))

	r := plugin.NewRegistry()
	seen := make(map[plugin.Category]plugin.Constants)
	oneInEachCategory(t, r, seen, nil)

	s, err := New(Config{BuildDirectory: dir, Registry: r})
	require.NoError(t, err)
	assert.Empty(t, s.ManifestPath())

	require.NoError(t, s.Run(context.Background()))

	assert.ElementsMatch(t, []string{smali, manifestPath}, s.Files().Paths())
	assert.Equal(t, manifestPath, s.ManifestPath())

	c := seen[plugin.CategoryGeneric]
	assert.Equal(t, 18, c.MinSDK)
	assert.Equal(t, 26, c.TargetSDK)
	require.NotNil(t, c.Manifest, "discovered manifest is loaded for plugins")
	assert.Equal(t, "com.example", c.Manifest.Package)
}

func TestScanner_UndiscoverableManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "classes.dex"), []byte("dex"), 0644))

	r := plugin.NewRegistry()
	seen := make(map[plugin.Category]plugin.Constants)
	oneInEachCategory(t, r, seen, nil)

	s, err := New(Config{BuildDirectory: dir, Registry: r})
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background()))

	assert.Empty(t, s.ManifestPath())
	assert.Equal(t, plugin.Constants{MinSDK: 1, TargetSDK: 1}, seen[plugin.CategoryManifest])
}

func TestScanner_ConfiguredManifestPrimed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, manifest.FileName)
	require.NoError(t, os.WriteFile(path, []byte(`<manifest package="com.primed"/>`), 0644))

	r := plugin.NewRegistry()
	seen := make(map[plugin.Category]plugin.Constants)
	oneInEachCategory(t, r, seen, nil)

	s, err := New(Config{ManifestPath: path, Registry: r})
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background()))

	require.NotNil(t, seen[plugin.CategoryManifest].Manifest)
	assert.Equal(t, "com.primed", seen[plugin.CategoryManifest].Manifest.Package)
	assert.Equal(t, plugin.Constants{MinSDK: 1, TargetSDK: 1, Manifest: seen[plugin.CategoryManifest].Manifest}, seen[plugin.CategoryManifest],
		"a manifest without sdk levels still defaults the version context")
}

func TestScanner_FailuresDoNotStopLaterCategories(t *testing.T) {
	r := plugin.NewRegistry()
	register(t, r, plugin.CategoryManifest, fakePlugin{name: "m", issues: []types.Issue{issue("M")}})
	register(t, r, plugin.CategoryCrypto, fakePlugin{name: "broken", runErr: errors.New("boom")})
	register(t, r, plugin.CategoryCrypto, fakePlugin{name: "working", issues: []types.Issue{issue("F1"), issue("F2")}})
	require.NoError(t, r.Register(plugin.CategoryCert, "unloadable", func() (plugin.Plugin, error) {
		return nil, errors.New("missing dependency")
	}))
	register(t, r, plugin.CategoryWebView, fakePlugin{name: "panics", panicValue: "nil map"})
	register(t, r, plugin.CategoryGeneric, fakePlugin{name: "g", issues: []types.Issue{issue("G")}})

	s, err := New(Config{Registry: r})
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, []string{"M", "F1", "F2", "G"}, issueNames(s.Issues()))

	report := s.Report()
	require.Len(t, report.Plugins, 6)
	skipped := report.Skipped()
	require.Len(t, skipped, 3)
	assert.Equal(t, "broken", skipped[0].Plugin)
	assert.Equal(t, "unloadable", skipped[1].Plugin)
	assert.Contains(t, skipped[1].Reason, "missing dependency")
	assert.Equal(t, "panics", skipped[2].Plugin)
}

func TestScanner_MalformedManifestPropagates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, manifest.FileName)
	require.NoError(t, os.WriteFile(path, []byte(`<manifest xmlns:android="http://schemas.android.com/apk/res/android"><uses-sdk android:minSdkVersion="new"/></manifest>`), 0644))

	r := plugin.NewRegistry()
	oneInEachCategory(t, r, nil, nil)

	s, err := New(Config{ManifestPath: path, Registry: r})
	require.NoError(t, err, "priming failure is not fatal")

	err = s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "running manifest checks")

	var malformed *manifest.MalformedError
	assert.True(t, errors.As(err, &malformed))
	assert.Empty(t, s.Issues())
}

func TestScanner_SingleUse(t *testing.T) {
	r := plugin.NewRegistry()
	oneInEachCategory(t, r, nil, nil)

	s, err := New(Config{SourcePath: "Foo.java", Registry: r})
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background()))
	first := s.Issues()

	assert.ErrorIs(t, s.Run(context.Background()), ErrAlreadyRun)
	assert.Equal(t, first, s.Issues(), "a second run does not double-accumulate")
	assert.Equal(t, 1, s.Files().Len())
}

func TestScanner_CategoryFilterAndDisabled(t *testing.T) {
	r := plugin.NewRegistry()
	oneInEachCategory(t, r, nil, nil)
	register(t, r, plugin.CategoryCrypto, fakePlugin{name: "extra", issues: []types.Issue{issue("extra")}})

	logger, logs := bufferLogger()
	s, err := New(Config{
		Registry:   r,
		Categories: []string{"webview", "crypto", "crypot", "manifest"},
		Disabled:   []string{"crypto/extra", "crypto/extr"},
		Logger:     logger,
	})
	require.NoError(t, err)
	assert.Equal(t, []plugin.Category{plugin.CategoryManifest, plugin.CategoryCrypto, plugin.CategoryWebView}, s.Categories())

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, []string{"manifest", "crypto", "webview"}, issueNames(s.Issues()))

	assert.Contains(t, logs.String(), `did you mean \"crypto\"`)
	assert.Contains(t, logs.String(), "did_you_mean=crypto/extra")
	assert.Contains(t, logs.String(), "skipping disabled plugin")
}

func TestScanner_ParallelMatchesSequential(t *testing.T) {
	build := func(parallelism int) []string {
		r := plugin.NewRegistry()
		for _, category := range plugin.Categories() {
			for _, name := range []string{"a", "b", "c", "d"} {
				register(t, r, category, fakePlugin{name: name, issues: []types.Issue{issue(string(category) + "/" + name)}})
			}
		}
		s, err := New(Config{SourcePath: "Foo.java", Registry: r, Parallelism: parallelism})
		require.NoError(t, err)
		require.NoError(t, s.Run(context.Background()))
		return issueNames(s.Issues())
	}

	assert.Equal(t, build(1), build(3))
}

func TestScanner_Canceled(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "A.smali"), []byte("x"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, err := New(Config{BuildDirectory: dir, Registry: plugin.NewRegistry()})
	require.NoError(t, err)
	assert.ErrorIs(t, s.Run(ctx), context.Canceled)
}

func TestScanner_Report(t *testing.T) {
	r := plugin.NewRegistry()
	register(t, r, plugin.CategoryFile, fakePlugin{name: "f", issues: []types.Issue{
		{Name: "a", Severity: types.SeverityWarning},
		{Name: "b", Severity: types.SeverityWarning},
		{Name: "c", Severity: types.SeverityVulnerability},
	}})

	s, err := New(Config{SourcePath: "Foo.java", Registry: r})
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background()))

	report := s.Report()
	_, err = uuid.Parse(report.ScanID)
	assert.NoError(t, err)
	assert.Equal(t, s.ID(), report.ScanID)
	assert.Equal(t, 1, report.Files)
	assert.Len(t, report.Issues, 3)
	assert.False(t, report.CompletedAt.Before(report.StartedAt))
	assert.Equal(t, map[types.Severity]int{types.SeverityWarning: 2, types.SeverityVulnerability: 1}, report.Summary())
	assert.Empty(t, report.Skipped())
}

func TestNew_RequiresRegistry(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestScanner_IDsAreUnique(t *testing.T) {
	a, err := New(Config{Registry: plugin.NewRegistry()})
	require.NoError(t, err)
	b, err := New(Config{Registry: plugin.NewRegistry()})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestWarnUnknownPlugins(t *testing.T) {
	r := plugin.NewRegistry()
	register(t, r, plugin.CategoryCrypto, fakePlugin{name: "extra"})

	tests := []struct {
		entry string
		warn  bool
		hint  string
	}{
		{"crypto/extra", false, ""},
		{"extra", false, ""},
		{"Extra", true, "extra"},
		{"crypto/extr", true, "crypto/extra"},
		{"zzzzzzzz", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.entry, func(t *testing.T) {
			logger, logs := bufferLogger()
			warnUnknownPlugins(r, []string{tt.entry}, logger)

			if !tt.warn {
				assert.Empty(t, logs.String())
				return
			}
			assert.Contains(t, logs.String(), "disabled plugin is not registered")
			if tt.hint != "" {
				assert.Contains(t, logs.String(), "did_you_mean="+tt.hint)
			} else {
				assert.NotContains(t, logs.String(), "did_you_mean")
			}
		})
	}
}
