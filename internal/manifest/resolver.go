package manifest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/steveyegge/apkscan/internal/corpus"
)

// VersionContext is the (minimum, target) platform SDK pair plugins gate their checks on.
type VersionContext struct {
	MinSDK    int
	TargetSDK int
}

// DefaultVersionContext is used when no manifest is available:
// assume the oldest platform, so nothing is treated as restricted.
var DefaultVersionContext = VersionContext{MinSDK: 1, TargetSDK: 1}

func (v VersionContext) String() string {
	return fmt.Sprintf("min_sdk=%d target_sdk=%d", v.MinSDK, v.TargetSDK)
}

// ResolutionKind tags how a VersionContext was obtained.
type ResolutionKind int

const (
	// Resolved means the versions came from the manifest or its build files.
	Resolved ResolutionKind = iota
	// Defaulted means there was no manifest to read; DefaultVersionContext applies.
	Defaulted
	// Failed means a manifest exists but could not be read or understood.
	Failed
)

func (k ResolutionKind) String() string {
	switch k {
	case Resolved:
		return "resolved"
	case Defaulted:
		return "defaulted"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("ResolutionKind(%d)", int(k))
}

// Resolution is the tagged result of resolving a VersionContext.
type Resolution struct {
	Kind    ResolutionKind
	Context VersionContext

	// Reason explains a Defaulted resolution
	Reason string

	// Err is set only for Failed
	Err error
}

// Result returns the version context to use, or the error for a Failed resolution.
func (r Resolution) Result() (VersionContext, error) {
	switch r.Kind {
	case Resolved:
		return r.Context, nil
	case Defaulted:
		return DefaultVersionContext, nil
	}
	if r.Err == nil {
		return VersionContext{}, errors.New("version context resolution failed")
	}
	return VersionContext{}, r.Err
}

func defaulted(reason string) Resolution {
	return Resolution{Kind: Defaulted, Context: DefaultVersionContext, Reason: reason}
}

// Resolver derives the VersionContext for a scan.
type Resolver struct {
	logger *slog.Logger
}

// NewResolver creates a resolver. A nil logger uses slog.Default().
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{logger: logger}
}

// Resolve reads min/target SDK levels from the manifest at location, falling
// back to Gradle scripts in files for levels the manifest does not declare.
//
// An unset location, a manifest that does not exist, or one declaring no SDK
// levels at all is Defaulted. A manifest that exists but cannot be parsed is Failed.
func (r *Resolver) Resolve(ctx context.Context, location string, files corpus.Files) Resolution {
	if err := ctx.Err(); err != nil {
		return Resolution{Kind: Failed, Err: err}
	}

	if location == "" {
		return defaulted("manifest location unset")
	}

	doc, err := Load(location)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return defaulted("manifest not found: " + location)
		}
		return Resolution{Kind: Failed, Err: err}
	}

	minSDK, targetSDK := doc.MinSDK, doc.TargetSDK
	if (minSDK == 0 || targetSDK == 0) && files != nil {
		gradleMin, gradleTarget := gradleSDK(files)
		if minSDK == 0 {
			minSDK = gradleMin
		}
		if targetSDK == 0 {
			targetSDK = gradleTarget
		}
	}

	if minSDK == 0 && targetSDK == 0 {
		return defaulted("no sdk levels declared")
	}
	if minSDK == 0 {
		minSDK = DefaultVersionContext.MinSDK
	}
	if targetSDK == 0 {
		// The platform treats a missing targetSdkVersion as equal to minSdkVersion
		targetSDK = minSDK
	}

	vc := VersionContext{MinSDK: minSDK, TargetSDK: targetSDK}
	r.logger.Debug("resolved version context", "manifest", location, "min_sdk", vc.MinSDK, "target_sdk", vc.TargetSDK)

	return Resolution{Kind: Resolved, Context: vc}
}
