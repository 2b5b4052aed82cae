package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/steveyegge/apkscan/internal/config"
	"github.com/steveyegge/apkscan/internal/scanner"
	"github.com/steveyegge/apkscan/internal/types"
)

// writeReport renders report to w in the given output format.
func writeReport(w io.Writer, report scanner.Report, format string) error {
	switch format {
	case config.OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case config.OutputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	case config.OutputText, "":
		writeText(w, report)
		return nil
	}
	return fmt.Errorf("unknown output format %q", format)
}

func writeText(w io.Writer, report scanner.Report) {
	cyan := color.New(color.FgCyan).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	manifest := report.Manifest
	if manifest == "" {
		manifest = "none"
	}
	fmt.Fprintf(w, "%s Scan %s (%d files, manifest: %s)\n", gray("→"), cyan(report.ScanID), report.Files, manifest)

	for _, issue := range report.Issues {
		fmt.Fprintf(w, "\n  %s %s %s\n",
			severityColor(issue.Severity).Sprintf("[%s]", strings.ToUpper(string(issue.Severity))),
			issue.Name,
			gray(issue.Category+"/"+issue.Plugin),
		)
		if loc := issue.Location(); loc != "" {
			fmt.Fprintf(w, "      %s\n", loc)
		}
		if issue.Description != "" {
			fmt.Fprintf(w, "      %s\n", issue.Description)
		}
	}

	fmt.Fprintf(w, "\n%s Scan complete: %s\n", green("✓"), summarize(report))

	if skipped := report.Skipped(); len(skipped) > 0 {
		fmt.Fprintf(w, "%s Skipped plugins:\n", yellow("⚠"))
		for _, p := range skipped {
			fmt.Fprintf(w, "  - %s/%s: %s\n", p.Category, p.Plugin, p.Reason)
		}
	}
}

// summarize reports the issue count and the per-severity breakdown, most severe first.
func summarize(report scanner.Report) string {
	total := len(report.Issues)
	noun := "issues"
	if total == 1 {
		noun = "issue"
	}
	if total == 0 {
		return "0 issues"
	}

	counts := report.Summary()
	var parts []string
	for _, sev := range []types.Severity{
		types.SeverityVulnerability,
		types.SeverityError,
		types.SeverityWarning,
		types.SeverityInfo,
	} {
		if n := counts[sev]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, sev))
		}
	}
	return fmt.Sprintf("%d %s (%s)", total, noun, strings.Join(parts, ", "))
}

func severityColor(sev types.Severity) *color.Color {
	switch sev {
	case types.SeverityVulnerability:
		return color.New(color.FgRed, color.Bold)
	case types.SeverityError:
		return color.New(color.FgRed)
	case types.SeverityWarning:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgCyan)
	}
}

// countAtLeast returns how many issues are at or above threshold.
func countAtLeast(issues []types.Issue, threshold types.Severity) int {
	n := 0
	for _, issue := range issues {
		if issue.Severity.Rank() >= threshold.Rank() {
			n++
		}
	}
	return n
}
