package plugin

import (
	"fmt"
	"strings"
)

// Category names a group of related checks. Categories run in a fixed order.
type Category string

const (
	CategoryManifest  Category = "manifest"
	CategoryBroadcast Category = "broadcast"
	CategoryFile      Category = "file"
	CategoryCrypto    Category = "crypto"
	CategoryIntent    Category = "intent"
	CategoryCert      Category = "cert"
	CategoryWebView   Category = "webview"
	CategoryGeneric   Category = "generic"
)

// categoryOrder is fixed at startup and never mutated.
var categoryOrder = [...]Category{
	CategoryManifest,
	CategoryBroadcast,
	CategoryFile,
	CategoryCrypto,
	CategoryIntent,
	CategoryCert,
	CategoryWebView,
	CategoryGeneric,
}

// Categories returns every category in execution order.
// The returned slice is a copy.
func Categories() []Category {
	out := make([]Category, len(categoryOrder))
	copy(out, categoryOrder[:])
	return out
}

// Index returns the category's position in execution order, or -1 if unknown.
func (c Category) Index() int {
	for i, known := range categoryOrder {
		if known == c {
			return i
		}
	}
	return -1
}

// IsValid reports whether c is one of the known categories.
func (c Category) IsValid() bool {
	return c.Index() >= 0
}

func (c Category) String() string {
	return string(c)
}

// ParseCategory converts a name to a Category (case-insensitive).
// The error for an unknown name wraps ErrUnknownCategory and suggests the closest match.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if c.IsValid() {
		return c, nil
	}

	names := make([]string, len(categoryOrder))
	for i, known := range categoryOrder {
		names[i] = string(known)
	}
	if hint := Suggest(string(c), names); hint != "" {
		return "", fmt.Errorf("%w %q (did you mean %q?)", ErrUnknownCategory, s, hint)
	}
	return "", fmt.Errorf("%w %q (valid: %s)", ErrUnknownCategory, s, strings.Join(names, ", "))
}

// FilterCategories keeps the requested categories in execution order.
// An empty request selects all. Unknown names are returned separately.
func FilterCategories(requested []string) (selected []Category, unknown []string) {
	if len(requested) == 0 {
		return Categories(), nil
	}

	want := make(map[Category]bool, len(requested))
	for _, name := range requested {
		c, err := ParseCategory(name)
		if err != nil {
			unknown = append(unknown, name)
			continue
		}
		want[c] = true
	}

	for _, c := range categoryOrder {
		if want[c] {
			selected = append(selected, c)
		}
	}
	return selected, unknown
}
