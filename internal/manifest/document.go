// Package manifest resolves platform version context and manifest data for a scan.
package manifest

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// FileName is the name Android gives the application manifest.
const FileName = "AndroidManifest.xml"

// AndroidNamespace is the XML namespace of android:* attributes.
const AndroidNamespace = "http://schemas.android.com/apk/res/android"

// Document is the subset of an AndroidManifest.xml that checks care about.
type Document struct {
	Path    string
	Package string

	// MinSDK and TargetSDK are 0 when the manifest does not declare them.
	MinSDK    int
	TargetSDK int

	Debuggable bool

	// AllowBackup is nil when the attribute is absent (the platform default is true).
	AllowBackup *bool

	Permissions []string
	Components  []Component
}

// Component is an activity, activity-alias, service, receiver or provider.
type Component struct {
	Kind          string
	Name          string
	Exported      *bool
	Permission    string
	IntentFilters int
}

// IsExported reports whether other apps can reach the component.
// Without an explicit android:exported, a component with intent filters is exported.
func (c Component) IsExported() bool {
	if c.Exported != nil {
		return *c.Exported
	}
	return c.IntentFilters > 0
}

// MalformedError reports a manifest that exists but cannot be understood.
type MalformedError struct {
	Path string
	Err  error
}

func (e *MalformedError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("malformed manifest: %v", e.Err)
	}
	return fmt.Sprintf("malformed manifest %s: %v", e.Path, e.Err)
}

func (e *MalformedError) Unwrap() error {
	return e.Err
}

// Load reads and parses the manifest at path.
// A missing file yields an error matching fs.ErrNotExist.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	doc, err := Parse(bytes.NewReader(data))
	if err != nil {
		if malformed, ok := err.(*MalformedError); ok {
			malformed.Path = path
		}
		return nil, err
	}
	doc.Path = path
	return doc, nil
}

type rawManifest struct {
	XMLName     xml.Name         `xml:"manifest"`
	Package     string           `xml:"package,attr"`
	UsesSDK     []rawElement     `xml:"uses-sdk"`
	Permissions []rawElement     `xml:"uses-permission"`
	Application []rawApplication `xml:"application"`
}

type rawElement struct {
	Attrs []xml.Attr `xml:",any,attr"`
}

type rawApplication struct {
	Attrs      []xml.Attr     `xml:",any,attr"`
	Activities []rawComponent `xml:"activity"`
	Aliases    []rawComponent `xml:"activity-alias"`
	Services   []rawComponent `xml:"service"`
	Receivers  []rawComponent `xml:"receiver"`
	Providers  []rawComponent `xml:"provider"`
}

type rawComponent struct {
	Attrs         []xml.Attr `xml:",any,attr"`
	IntentFilters []struct{} `xml:"intent-filter"`
}

// Parse decodes a text (decoded) AndroidManifest.xml.
func Parse(r io.Reader) (*Document, error) {
	var raw rawManifest
	if err := xml.NewDecoder(r).Decode(&raw); err != nil {
		return nil, &MalformedError{Err: err}
	}

	doc := &Document{Package: raw.Package}

	for _, sdk := range raw.UsesSDK {
		if v, ok := androidAttr(sdk.Attrs, "minSdkVersion"); ok {
			n, err := parseSDK(v)
			if err != nil {
				return nil, &MalformedError{Err: fmt.Errorf("minSdkVersion: %w", err)}
			}
			doc.MinSDK = n
		}
		if v, ok := androidAttr(sdk.Attrs, "targetSdkVersion"); ok {
			n, err := parseSDK(v)
			if err != nil {
				return nil, &MalformedError{Err: fmt.Errorf("targetSdkVersion: %w", err)}
			}
			doc.TargetSDK = n
		}
	}

	for _, perm := range raw.Permissions {
		if name, ok := androidAttr(perm.Attrs, "name"); ok {
			doc.Permissions = append(doc.Permissions, name)
		}
	}

	for _, app := range raw.Application {
		if v, ok := androidAttr(app.Attrs, "debuggable"); ok {
			if b := parseBool(v); b != nil {
				doc.Debuggable = *b
			}
		}
		if v, ok := androidAttr(app.Attrs, "allowBackup"); ok {
			doc.AllowBackup = parseBool(v)
		}

		groups := []struct {
			kind  string
			items []rawComponent
		}{
			{"activity", app.Activities},
			{"activity-alias", app.Aliases},
			{"service", app.Services},
			{"receiver", app.Receivers},
			{"provider", app.Providers},
		}
		for _, group := range groups {
			for _, item := range group.items {
				doc.Components = append(doc.Components, toComponent(group.kind, item))
			}
		}
	}

	return doc, nil
}

func toComponent(kind string, raw rawComponent) Component {
	c := Component{Kind: kind, IntentFilters: len(raw.IntentFilters)}
	c.Name, _ = androidAttr(raw.Attrs, "name")
	c.Permission, _ = androidAttr(raw.Attrs, "permission")
	if v, ok := androidAttr(raw.Attrs, "exported"); ok {
		c.Exported = parseBool(v)
	}
	return c
}

// androidAttr finds an android:* attribute whether or not the namespace was declared.
func androidAttr(attrs []xml.Attr, local string) (string, bool) {
	for _, a := range attrs {
		if a.Name.Local != local {
			continue
		}
		if a.Name.Space == AndroidNamespace || a.Name.Space == "android" {
			return a.Value, true
		}
	}
	return "", false
}

// parseSDK parses an SDK level. Resource references and build placeholders
// ("@integer/min_sdk", "${minSdkVersion}") count as undeclared and yield 0.
func parseSDK(v string) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" || strings.HasPrefix(v, "@") || strings.HasPrefix(v, "$") {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid sdk level %q", v)
	}
	if n < 1 {
		return 0, fmt.Errorf("sdk level must be positive (got %d)", n)
	}
	return n, nil
}

// parseBool returns nil for values that are not literal booleans (e.g. resource references).
func parseBool(v string) *bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return nil
	}
	return &b
}
