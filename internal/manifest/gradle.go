package manifest

import (
	"os"
	"regexp"
	"strconv"

	"github.com/steveyegge/apkscan/internal/corpus"
)

// Gradle build scripts that may carry SDK levels the manifest leaves out.
var gradleFileNames = []string{"build.gradle", "build.gradle.kts"}

var (
	gradleMinSDK    = regexp.MustCompile(`(?m)^\s*minSdk(?:Version)?\s*(?:=\s*|\(\s*|\s+)(\d+)`)
	gradleTargetSDK = regexp.MustCompile(`(?m)^\s*targetSdk(?:Version)?\s*(?:=\s*|\(\s*|\s+)(\d+)`)
)

// gradleSDK scans the corpus's Gradle scripts for min/target SDK levels.
// The first script (in path order) declaring a value wins. Unreadable scripts are skipped.
func gradleSDK(files corpus.Files) (minSDK, targetSDK int) {
	for _, path := range files.Named(gradleFileNames...) {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if minSDK == 0 {
			minSDK = firstInt(gradleMinSDK, data)
		}
		if targetSDK == 0 {
			targetSDK = firstInt(gradleTargetSDK, data)
		}
		if minSDK != 0 && targetSDK != 0 {
			break
		}
	}
	return minSDK, targetSDK
}

func firstInt(re *regexp.Regexp, data []byte) int {
	m := re.FindSubmatch(data)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return 0
	}
	return n
}
