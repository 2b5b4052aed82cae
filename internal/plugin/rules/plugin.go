package rules

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"regexp"
	"sort"

	"github.com/steveyegge/apkscan/internal/corpus"
	"github.com/steveyegge/apkscan/internal/plugin"
	"github.com/steveyegge/apkscan/internal/types"
)

// Maximum line length searched. Files with longer lines (minified resources) are skipped.
const maxLineBytes = 1 << 20

type compiledRule struct {
	Rule
	re       *regexp.Regexp
	severity types.Severity
}

// RulePlugin runs the rules of one definition against the corpus.
type RulePlugin struct {
	category plugin.Category
	name     string
	rules    []compiledRule
	issues   []types.Issue
}

// New compiles a validated definition into a plugin.
func New(category plugin.Category, name string, def *Definition) (*RulePlugin, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	p := &RulePlugin{category: category, name: name}
	for _, rule := range def.Rules {
		pattern := rule.Regex
		if rule.CaseInsensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %q: invalid regex: %w", rule.ID, err)
		}
		severity, _ := types.ParseSeverity(rule.Severity)
		p.rules = append(p.rules, compiledRule{Rule: rule, re: re, severity: severity})
	}
	return p, nil
}

// Name implements plugin.Plugin.
func (p *RulePlugin) Name() string {
	return p.name
}

// Issues implements plugin.Plugin.
func (p *RulePlugin) Issues() []types.Issue {
	return p.issues
}

// Run implements plugin.Plugin. Unreadable files are skipped.
func (p *RulePlugin) Run(ctx context.Context, files corpus.Files, constants plugin.Constants) error {
	for _, rule := range p.rules {
		if !rule.applies(constants) {
			continue
		}

		found := 0
		for _, path := range rule.selectFiles(files) {
			if err := ctx.Err(); err != nil {
				return err
			}

			limit := 0
			if rule.MaxMatches > 0 {
				limit = rule.MaxMatches - found
			}
			matches, err := searchFile(path, rule.re, limit)
			if err != nil {
				continue
			}

			for _, m := range matches {
				p.issues = append(p.issues, p.issue(rule, m))
			}
			found += len(matches)
			if rule.MaxMatches > 0 && found >= rule.MaxMatches {
				break
			}
		}
	}
	return nil
}

func (p *RulePlugin) issue(rule compiledRule, m match) types.Issue {
	return types.Issue{
		Category:    string(p.category),
		Plugin:      p.name,
		Name:        rule.Title,
		Severity:    rule.severity,
		Description: rule.Description,
		FilePath:    m.file,
		Line:        m.line,
		Evidence: map[string]string{
			"rule":  rule.ID,
			"match": m.text,
		},
	}
}

// applies reports whether the app's SDK levels fall under the rule's gates.
func (r compiledRule) applies(c plugin.Constants) bool {
	if r.MinSDKBelow > 0 && c.MinSDK >= r.MinSDKBelow {
		return false
	}
	if r.TargetSDKBelow > 0 && c.TargetSDK >= r.TargetSDKBelow {
		return false
	}
	return true
}

func (r compiledRule) selectFiles(files corpus.Files) []string {
	if len(r.Extensions) == 0 && len(r.FileNames) == 0 {
		return files.Paths()
	}

	var selected []string
	seen := make(map[string]bool)
	for _, path := range append(files.WithExtension(r.Extensions...), files.Named(r.FileNames...)...) {
		if !seen[path] {
			seen[path] = true
			selected = append(selected, path)
		}
	}
	sort.Strings(selected)
	return selected
}

type match struct {
	file string
	line int
	text string
}

// searchFile returns up to limit matching lines of path (0 = unlimited).
func searchFile(path string, re *regexp.Regexp, limit int) ([]match, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var matches []match
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		loc := re.FindStringIndex(line)
		if loc == nil {
			continue
		}

		matches = append(matches, match{file: path, line: lineNum, text: line[loc[0]:loc[1]]})
		if limit > 0 && len(matches) >= limit {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		return matches, fmt.Errorf("reading %s: %w", path, err)
	}
	return matches, nil
}
