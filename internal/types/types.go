package types

import (
	"fmt"
	"strings"
)

// Issue is a single finding emitted by an analysis plugin.
// The scanner never inspects issues; it only collects them in order.
type Issue struct {
	Category    string            `json:"category" yaml:"category"`
	Plugin      string            `json:"plugin" yaml:"plugin"`
	Name        string            `json:"name" yaml:"name"`
	Severity    Severity          `json:"severity" yaml:"severity"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	FilePath    string            `json:"file_path,omitempty" yaml:"file_path,omitempty"`
	Line        int               `json:"line,omitempty" yaml:"line,omitempty"`
	Evidence    map[string]string `json:"evidence,omitempty" yaml:"evidence,omitempty"`
}

// Validate checks if the issue has valid field values
func (i *Issue) Validate() error {
	if strings.TrimSpace(i.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if !i.Severity.IsValid() {
		return fmt.Errorf("invalid severity: %s", i.Severity)
	}
	if i.Line < 0 {
		return fmt.Errorf("line cannot be negative (got %d)", i.Line)
	}
	return nil
}

// Location renders the file position of the issue, or "" when it has none.
func (i *Issue) Location() string {
	if i.FilePath == "" {
		return ""
	}
	if i.Line > 0 {
		return fmt.Sprintf("%s:%d", i.FilePath, i.Line)
	}
	return i.FilePath
}

// Severity ranks how serious a finding is
type Severity string

const (
	SeverityInfo          Severity = "info"
	SeverityWarning       Severity = "warning"
	SeverityError         Severity = "error"
	SeverityVulnerability Severity = "vulnerability"
)

// IsValid checks if the severity value is valid
func (s Severity) IsValid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityVulnerability:
		return true
	}
	return false
}

// Rank orders severities from info (1) to vulnerability (4). Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityError:
		return 3
	case SeverityVulnerability:
		return 4
	}
	return 0
}

// ParseSeverity converts a case-insensitive name to a Severity.
// An empty string yields SeverityInfo.
func ParseSeverity(s string) (Severity, error) {
	if strings.TrimSpace(s) == "" {
		return SeverityInfo, nil
	}
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if !sev.IsValid() {
		return "", fmt.Errorf("unknown severity %q (want info, warning, error or vulnerability)", s)
	}
	return sev, nil
}
