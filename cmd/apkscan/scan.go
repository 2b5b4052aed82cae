package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/steveyegge/apkscan/internal/config"
	"github.com/steveyegge/apkscan/internal/plugin"
	"github.com/steveyegge/apkscan/internal/scanner"
	"github.com/steveyegge/apkscan/internal/types"
	"github.com/steveyegge/apkscan/internal/watch"
)

var (
	scanManifest string
	scanSource   string
	scanBuildDir string
	scanFailOn   string
	scanWatch    bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run security checks over a decompiled app",
	Long: `Run every enabled check over a decompiled Android application.

The corpus is gathered once from --build-dir (or the single file named by
--source) and shared by all checks. When --manifest is omitted, the
AndroidManifest.xml closest to the build directory root is used.

A failing check is reported and skipped; the remaining checks still run.

Examples:
  apkscan scan --build-dir out/                         # Scan a decompiled tree
  apkscan scan --build-dir out/ --manifest out/AndroidManifest.xml
  apkscan scan --source Foo.java                        # Scan one source file
  apkscan scan --build-dir out/ --category crypto,cert  # Only some categories
  apkscan scan --build-dir out/ --output json           # Machine-readable output
  apkscan scan --build-dir out/ --fail-on vulnerability # Non-zero exit on findings
  apkscan scan --build-dir out/ --watch                 # Rescan on every change`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := newLogger(cfg, cmd.ErrOrStderr())

		registry, err := buildRegistry(cfg, logger)
		if err != nil {
			return err
		}

		opts := scanOptions{
			manifest: scanManifest,
			source:   scanSource,
			buildDir: scanBuildDir,
		}
		if scanFailOn != "" {
			threshold, err := types.ParseSeverity(scanFailOn)
			if err != nil {
				return fmt.Errorf("--fail-on: %w", err)
			}
			opts.failOn = threshold
		}

		out := cmd.OutOrStdout()
		if scanWatch {
			if opts.buildDir == "" {
				return errors.New("--watch requires --build-dir")
			}
			w := watch.New(opts.buildDir, cfg.WatchDebounce, logger)
			return w.Run(cmd.Context(), func(ctx context.Context) error {
				_, err := scanOnce(ctx, out, cfg, registry, logger, opts)
				return err
			})
		}

		report, err := scanOnce(cmd.Context(), out, cfg, registry, logger, opts)
		if err != nil {
			return err
		}
		if opts.failOn != "" {
			if n := countAtLeast(report.Issues, opts.failOn); n > 0 {
				return fmt.Errorf("%d issue(s) at or above %s", n, opts.failOn)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().StringVar(&scanManifest, "manifest", "", "Path to AndroidManifest.xml (discovered from --build-dir when empty)")
	scanCmd.Flags().StringVar(&scanSource, "source", "", "Scan only this source file")
	scanCmd.Flags().StringVar(&scanBuildDir, "build-dir", "", "Directory of decompiled sources")
	scanCmd.Flags().StringVar(&scanFailOn, "fail-on", "", "Exit non-zero when an issue at or above this severity is found")
	scanCmd.Flags().BoolVar(&scanWatch, "watch", false, "Rescan whenever --build-dir changes")

	scanCmd.Flags().String("output", config.OutputText, "Output format: text, json, or yaml")
	scanCmd.Flags().Int("parallelism", 1, "Checks to run concurrently within a category")
	scanCmd.Flags().StringSlice("category", nil, "Categories to run (default all)")
	scanCmd.Flags().StringSlice("disable", nil, "Checks to skip, as category/name or name")
	scanCmd.Flags().StringSlice("rules-dir", nil, "Directories of <category>/<name>.yaml rule files")
	scanCmd.Flags().StringSlice("plugin-dir", nil, "Directories of <category>_<name>.so plugins")
	scanCmd.Flags().Bool("builtin-rules", true, "Include the bundled rules")
	scanCmd.Flags().Duration("debounce", watch.DefaultDebounce, "How long --watch waits for changes to settle")
}

type scanOptions struct {
	manifest string
	source   string
	buildDir string
	failOn   types.Severity
}

// scanOnce runs a fresh scan and writes its report. The report is written even
// when the scan stops early, so partial findings are not lost.
func scanOnce(ctx context.Context, w io.Writer, cfg config.Config, registry *plugin.Registry, logger *slog.Logger, opts scanOptions) (scanner.Report, error) {
	s, err := scanner.New(scanner.Config{
		ManifestPath:   opts.manifest,
		SourcePath:     opts.source,
		BuildDirectory: opts.buildDir,
		Registry:       registry,
		Categories:     cfg.Categories,
		Disabled:       cfg.DisabledPlugins,
		Parallelism:    cfg.Parallelism,
		Logger:         logger,
	})
	if err != nil {
		return scanner.Report{}, err
	}

	runErr := s.Run(ctx)
	report := s.Report()
	if err := writeReport(w, report, cfg.Output); err != nil {
		return report, fmt.Errorf("writing report: %w", err)
	}
	return report, runErr
}
