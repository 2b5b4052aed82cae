package corpus

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slot is a minimal ManifestSlot for tests
type slot struct {
	path string
	sets int
}

func (s *slot) Get() string { return s.path }

func (s *slot) SetOnce(path string) bool {
	if s.path != "" || path == "" {
		return false
	}
	s.path = path
	s.sets++
	return true
}

// firstManifest mirrors the real discovery rule closely enough for these tests
func firstManifest(files Files) string {
	found := files.Named("AndroidManifest.xml")
	if len(found) == 0 {
		return ""
	}
	return found[0]
}

func writeTree(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, f := range files {
		full := filepath.Join(root, f)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte("x"), 0644))
	}
}

func TestBuild_SingleSourceFile(t *testing.T) {
	buildDir := t.TempDir()
	writeTree(t, buildDir, "a/Bar.smali", "a/AndroidManifest.xml")

	tests := []struct {
		name   string
		source string
	}{
		{"lowercase extension", "Foo.java"},
		{"uppercase extension", "src/FOO.JAVA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New()
			manifest := &slot{}
			b := NewBuilder(firstManifest, nil)

			require.NoError(t, b.Build(context.Background(), c, tt.source, buildDir, manifest))

			assert.Equal(t, []string{tt.source}, c.Paths())
			assert.Equal(t, "", manifest.Get(), "single-file mode skips manifest discovery")
		})
	}
}

func TestBuild_NoBuildDirectory(t *testing.T) {
	for _, dir := range []string{"", filepath.Join(t.TempDir(), "does-not-exist")} {
		c := New()
		manifest := &slot{}

		err := NewBuilder(firstManifest, nil).Build(context.Background(), c, "", dir, manifest)

		require.NoError(t, err)
		assert.Equal(t, 0, c.Len())
		assert.Equal(t, "", manifest.Get())
	}
}

func TestBuild_WalksAndDiscoversManifest(t *testing.T) {
	buildDir := t.TempDir()
	writeTree(t, buildDir, "a/Bar.smali", "a/AndroidManifest.xml")

	c := New()
	manifest := &slot{}
	b := NewBuilder(firstManifest, nil)

	require.NoError(t, b.Build(context.Background(), c, "", buildDir, manifest))

	want := []string{
		filepath.Join(buildDir, "a", "AndroidManifest.xml"),
		filepath.Join(buildDir, "a", "Bar.smali"),
	}
	sort.Strings(want)
	assert.Equal(t, want, c.Paths())
	assert.Equal(t, filepath.Join(buildDir, "a", "AndroidManifest.xml"), manifest.Get())
}

func TestBuild_NonJavaSourceFallsBackToWalk(t *testing.T) {
	buildDir := t.TempDir()
	writeTree(t, buildDir, "classes/A.class")

	c := New()
	require.NoError(t, NewBuilder(nil, nil).Build(context.Background(), c, "app.apk", buildDir, &slot{}))

	assert.Equal(t, []string{filepath.Join(buildDir, "classes", "A.class")}, c.Paths())
}

func TestBuild_Idempotent(t *testing.T) {
	buildDir := t.TempDir()
	writeTree(t, buildDir, "a/Bar.smali", "a/AndroidManifest.xml", "b/c/Baz.java")

	c := New()
	manifest := &slot{}
	b := NewBuilder(firstManifest, nil)

	require.NoError(t, b.Build(context.Background(), c, "", buildDir, manifest))
	first := c.Paths()

	require.NoError(t, b.Build(context.Background(), c, "", buildDir, manifest))

	assert.Equal(t, first, c.Paths())
	assert.Equal(t, 1, manifest.sets, "manifest location is only assigned once")
}

func TestBuild_KeepsExistingManifest(t *testing.T) {
	buildDir := t.TempDir()
	writeTree(t, buildDir, "AndroidManifest.xml")

	manifest := &slot{path: "/configured/AndroidManifest.xml"}
	require.NoError(t, NewBuilder(firstManifest, nil).Build(context.Background(), New(), "", buildDir, manifest))

	assert.Equal(t, "/configured/AndroidManifest.xml", manifest.Get())
	assert.Equal(t, 0, manifest.sets)
}

func TestBuild_ManifestNotFound(t *testing.T) {
	buildDir := t.TempDir()
	writeTree(t, buildDir, "A.smali")

	manifest := &slot{}
	require.NoError(t, NewBuilder(firstManifest, nil).Build(context.Background(), New(), "", buildDir, manifest))

	assert.Equal(t, "", manifest.Get())
}

func TestBuild_ContextCanceled(t *testing.T) {
	buildDir := t.TempDir()
	writeTree(t, buildDir, "A.smali")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewBuilder(nil, nil).Build(ctx, New(), "", buildDir, &slot{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuild_SkipsSymlinkedDirectories(t *testing.T) {
	buildDir := t.TempDir()
	writeTree(t, buildDir, "real/A.smali")

	outside := t.TempDir()
	writeTree(t, outside, "B.smali")
	if err := os.Symlink(outside, filepath.Join(buildDir, "linked")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	require.NoError(t, os.Symlink(filepath.Join(buildDir, "real", "A.smali"), filepath.Join(buildDir, "alias.smali")))

	c := New()
	b := NewBuilder(firstManifest, nil)
	require.NoError(t, b.Build(context.Background(), c, "", buildDir, &slot{}))

	assert.ElementsMatch(t, []string{
		filepath.Join(buildDir, "alias.smali"),
		filepath.Join(buildDir, "real", "A.smali"),
	}, c.Paths())
	for _, p := range c.Paths() {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.False(t, info.IsDir(), "%s is a directory", p)
	}
}
