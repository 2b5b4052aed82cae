// Package builtin holds the plugins written in Go rather than as rule files.
// They work on the parsed manifest instead of raw text.
package builtin

import (
	"context"
	"fmt"

	"github.com/steveyegge/apkscan/internal/corpus"
	"github.com/steveyegge/apkscan/internal/manifest"
	"github.com/steveyegge/apkscan/internal/plugin"
	"github.com/steveyegge/apkscan/internal/types"
)

// Before API 17, content providers are exported unless they say otherwise.
const providerExportedDefaultUntil = 17

// Register adds the Go plugins to r.
func Register(r *plugin.Registry) error {
	if err := r.Register(plugin.CategoryManifest, ExportedComponentsName, NewExportedComponents); err != nil {
		return fmt.Errorf("registering builtin plugins: %w", err)
	}
	return nil
}

// ExportedComponentsName is the identifier of the exported-components check.
const ExportedComponentsName = "exported_components"

// ExportedComponents reports components other apps can reach without holding a permission.
type ExportedComponents struct {
	issues []types.Issue
}

// NewExportedComponents is the plugin factory.
func NewExportedComponents() (plugin.Plugin, error) {
	return &ExportedComponents{}, nil
}

func (p *ExportedComponents) Name() string {
	return ExportedComponentsName
}

func (p *ExportedComponents) Issues() []types.Issue {
	return p.issues
}

// Run checks constants.Manifest. With no parsed manifest there is nothing to check.
func (p *ExportedComponents) Run(ctx context.Context, files corpus.Files, constants plugin.Constants) error {
	doc := constants.Manifest
	if doc == nil {
		return nil
	}

	for _, c := range doc.Components {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.Permission != "" || !exported(c, constants.TargetSDK) {
			continue
		}

		severity := types.SeverityWarning
		if c.Kind == "provider" {
			severity = types.SeverityVulnerability
		}

		p.issues = append(p.issues, types.Issue{
			Category: string(plugin.CategoryManifest),
			Plugin:   ExportedComponentsName,
			Name:     fmt.Sprintf("Exported %s without permission", c.Kind),
			Severity: severity,
			Description: fmt.Sprintf("%s %s can be started or queried by any app on the device. "+
				"Set android:exported=\"false\" or protect it with android:permission.", c.Kind, c.Name),
			FilePath: doc.Path,
			Evidence: map[string]string{
				"component": c.Name,
				"kind":      c.Kind,
			},
		})
	}
	return nil
}

func exported(c manifest.Component, targetSDK int) bool {
	if c.Exported == nil && c.Kind == "provider" && targetSDK < providerExportedDefaultUntil {
		return true
	}
	return c.IsExported()
}
