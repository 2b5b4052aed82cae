package scanner

import (
	"time"

	"github.com/steveyegge/apkscan/internal/types"
)

// Report summarizes a completed scan for output.
type Report struct {
	ScanID      string        `json:"scan_id" yaml:"scan_id"`
	StartedAt   time.Time     `json:"started_at" yaml:"started_at"`
	CompletedAt time.Time     `json:"completed_at" yaml:"completed_at"`
	Manifest    string        `json:"manifest,omitempty" yaml:"manifest,omitempty"`
	Files       int           `json:"files" yaml:"files"`
	Issues      []types.Issue `json:"issues" yaml:"issues"`
	Plugins     []PluginRun   `json:"plugins" yaml:"plugins"`
}

// PluginRun is the serializable form of an Outcome.
type PluginRun struct {
	Category string        `json:"category" yaml:"category"`
	Plugin   string        `json:"plugin" yaml:"plugin"`
	Issues   int           `json:"issues" yaml:"issues"`
	Skipped  bool          `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Reason   string        `json:"reason,omitempty" yaml:"reason,omitempty"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// Report returns the scan summary. Before Run completes it reflects partial results.
func (s *Scanner) Report() Report {
	outcomes := s.Outcomes()
	plugins := make([]PluginRun, len(outcomes))
	for i, o := range outcomes {
		plugins[i] = PluginRun{
			Category: string(o.Category),
			Plugin:   o.Plugin,
			Issues:   len(o.Issues),
			Skipped:  o.Skipped(),
			Duration: o.Duration,
		}
		if o.Err != nil {
			plugins[i].Reason = o.Err.Error()
		}
	}

	s.mu.Lock()
	started, completed := s.startedAt, s.completedAt
	s.mu.Unlock()

	return Report{
		ScanID:      s.id,
		StartedAt:   started,
		CompletedAt: completed,
		Manifest:    s.ManifestPath(),
		Files:       s.corpus.Len(),
		Issues:      s.Issues(),
		Plugins:     plugins,
	}
}

// Summary counts findings per severity.
func (r Report) Summary() map[types.Severity]int {
	counts := make(map[types.Severity]int)
	for _, issue := range r.Issues {
		counts[issue.Severity]++
	}
	return counts
}

// Skipped returns the plugins that contributed nothing because they failed or were disabled.
func (r Report) Skipped() []PluginRun {
	var skipped []PluginRun
	for _, p := range r.Plugins {
		if p.Skipped {
			skipped = append(skipped, p)
		}
	}
	return skipped
}
