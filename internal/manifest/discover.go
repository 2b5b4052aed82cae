package manifest

import (
	"path/filepath"
	"strings"

	"github.com/steveyegge/apkscan/internal/corpus"
)

// Discover picks the manifest out of a corpus: among files named
// AndroidManifest.xml it returns the shallowest, breaking ties by path.
// It returns "" if the corpus holds no manifest.
func Discover(files corpus.Files) string {
	best := ""
	bestDepth := 0

	// Named returns sorted paths, so the first of equal depth wins
	for _, path := range files.Named(FileName) {
		depth := strings.Count(filepath.ToSlash(filepath.Clean(path)), "/")
		if best == "" || depth < bestDepth {
			best = path
			bestDepth = depth
		}
	}

	return best
}
