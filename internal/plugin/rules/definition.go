// Package rules implements plugins defined in YAML rather than Go.
//
// Each file defines one plugin. Its category comes from the directory it
// lives in and its name from the file stem:
//
//	<dir>/crypto/ecb_mode.yaml  ->  plugin "ecb_mode" in category "crypto"
//
// Example definition:
//
//	description: Block ciphers used in ECB mode
//	requires_api: v1.0.0
//	rules:
//	  - id: ecb_cipher
//	    title: Cipher uses ECB mode
//	    severity: warning
//	    regex: 'Cipher\.getInstance\("[^"]*ECB'
//	    extensions: [.java, .smali]
package rules

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	"github.com/steveyegge/apkscan/internal/types"
)

// APIVersion is the rule-definition format this build understands.
// Definitions may require any version up to it within the same major version.
const APIVersion = "v1.0.0"

// Definition is the YAML form of one rule plugin.
type Definition struct {
	// Name and Category are optional; when set they must agree with the file's location
	Name     string `yaml:"name,omitempty"`
	Category string `yaml:"category,omitempty"`

	Description string `yaml:"description,omitempty"`
	RequiresAPI string `yaml:"requires_api,omitempty"`
	Rules       []Rule `yaml:"rules"`
}

// Rule is one regex check inside a definition.
type Rule struct {
	ID          string `yaml:"id"`
	Title       string `yaml:"title"`
	Description string `yaml:"description,omitempty"`
	Severity    string `yaml:"severity,omitempty"`
	Regex       string `yaml:"regex"`

	// Extensions and FileNames select corpus files; with neither, every file is searched
	Extensions []string `yaml:"extensions,omitempty"`
	FileNames  []string `yaml:"file_names,omitempty"`

	// The rule only applies while the app's SDK level is below these (0 = always)
	MinSDKBelow    int `yaml:"min_sdk_below,omitempty"`
	TargetSDKBelow int `yaml:"target_sdk_below,omitempty"`

	// MaxMatches caps findings for this rule (0 = unlimited)
	MaxMatches      int  `yaml:"max_matches,omitempty"`
	CaseInsensitive bool `yaml:"case_insensitive,omitempty"`
}

// Parse decodes a definition. Unknown fields are rejected.
func Parse(data []byte) (*Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var def Definition
	if err := dec.Decode(&def); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parsing YAML: empty definition")
		}
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}

	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid definition: %w", err)
	}
	return &def, nil
}

// Validate checks required fields, regexes, severities and API compatibility.
func (d *Definition) Validate() error {
	if err := checkAPI(d.RequiresAPI); err != nil {
		return err
	}
	if len(d.Rules) == 0 {
		return fmt.Errorf("at least one rule is required")
	}

	seen := make(map[string]bool, len(d.Rules))
	for i, rule := range d.Rules {
		if rule.ID == "" {
			return fmt.Errorf("rule %d: id is required", i)
		}
		if seen[rule.ID] {
			return fmt.Errorf("rule %d: duplicate id %q", i, rule.ID)
		}
		seen[rule.ID] = true

		if rule.Title == "" {
			return fmt.Errorf("rule %q: title is required", rule.ID)
		}
		if rule.Regex == "" {
			return fmt.Errorf("rule %q: regex is required", rule.ID)
		}
		if _, err := regexp.Compile(rule.Regex); err != nil {
			return fmt.Errorf("rule %q: invalid regex: %w", rule.ID, err)
		}
		if _, err := types.ParseSeverity(rule.Severity); err != nil {
			return fmt.Errorf("rule %q: %w", rule.ID, err)
		}
		if rule.MinSDKBelow < 0 || rule.TargetSDKBelow < 0 || rule.MaxMatches < 0 {
			return fmt.Errorf("rule %q: sdk gates and max_matches cannot be negative", rule.ID)
		}
	}
	return nil
}

// checkAPI accepts an empty requirement or one satisfied by APIVersion.
func checkAPI(required string) error {
	if required == "" {
		return nil
	}
	if !strings.HasPrefix(required, "v") {
		required = "v" + required
	}
	if !semver.IsValid(required) {
		return fmt.Errorf("requires_api %q is not a semantic version", required)
	}
	if semver.Major(required) != semver.Major(APIVersion) {
		return fmt.Errorf("requires_api %s is incompatible with rule API %s", required, APIVersion)
	}
	if semver.Compare(required, APIVersion) > 0 {
		return fmt.Errorf("requires_api %s is newer than rule API %s", required, APIVersion)
	}
	return nil
}
