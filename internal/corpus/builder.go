package corpus

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// DefaultSourceExtension marks a source path as a single file to analyze
// without walking a build directory.
const DefaultSourceExtension = ".java"

// ManifestSlot is the manifest location the builder fills in when it is still unset.
type ManifestSlot interface {
	Get() string
	SetOnce(path string) bool
}

// DiscoverFunc picks a manifest out of the gathered files, returning "" if none qualifies.
type DiscoverFunc func(files Files) string

// Builder gathers the files for a scan into a Corpus.
// A builder is shared by nothing; each scan builds its corpus once.
type Builder struct {
	// SourceExtension selects single-file mode (compared case-insensitively).
	SourceExtension string

	// Discover locates a manifest in the corpus when the slot is empty.
	Discover DiscoverFunc

	logger *slog.Logger
}

// NewBuilder creates a corpus builder. A nil logger uses slog.Default().
func NewBuilder(discover DiscoverFunc, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}

	return &Builder{
		SourceExtension: DefaultSourceExtension,
		Discover:        discover,
		logger:          logger,
	}
}

// Build adds the scan's files to c.
//
// If sourcePath is itself a source file, it is the only file added and the
// build directory is not walked. Otherwise every regular file under buildDir is
// added; an unset or missing buildDir simply yields no files. Finally, if the
// manifest slot is empty, a manifest is discovered from the corpus.
//
// Build is idempotent: running it again with the same inputs adds nothing.
func (b *Builder) Build(ctx context.Context, c *Corpus, sourcePath, buildDir string, manifest ManifestSlot) error {
	if b.isSourceFile(sourcePath) {
		c.Add(sourcePath)
		b.logger.Debug("single source file mode", "source", sourcePath)
		return nil
	}

	added, err := b.walk(ctx, c, buildDir)
	if err != nil {
		return err
	}
	b.logger.Debug("gathered build directory", "build_dir", buildDir, "added", added, "files", c.Len())

	if manifest != nil && manifest.Get() == "" && b.Discover != nil {
		if found := b.Discover(c); found != "" && manifest.SetOnce(found) {
			b.logger.Info("discovered manifest", "manifest", found)
		}
	}

	return nil
}

func (b *Builder) isSourceFile(path string) bool {
	if path == "" || b.SourceExtension == "" {
		return false
	}
	return strings.EqualFold(filepath.Ext(path), b.SourceExtension)
}

// walk adds every regular file under root. Unreadable entries are skipped.
func (b *Builder) walk(ctx context.Context, c *Corpus, root string) (int, error) {
	if root == "" {
		b.logger.Debug("no build directory configured")
		return 0, nil
	}

	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		b.logger.Debug("build directory unavailable", "build_dir", root, "error", err)
		return 0, nil
	}

	added := 0
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			// Skip entries we can't read, keep walking the rest
			b.logger.Debug("skipping unreadable path", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		// WalkDir does not follow symlinks; a link to a directory is not a file
		if d.Type()&fs.ModeSymlink != 0 {
			if target, err := os.Stat(path); err == nil && target.IsDir() {
				b.logger.Debug("skipping symlinked directory", "path", path)
				return nil
			}
		}
		if c.Add(path) {
			added++
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return added, err
		}
		return added, fmt.Errorf("walking build directory %s: %w", root, err)
	}

	return added, nil
}
