package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/apkscan/internal/plugin"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "List registered checks in run order",
	Long: `List every registered check, grouped by category in the order a scan runs them.

Examples:
  apkscan plugins                          # Built-in checks and bundled rules
  apkscan plugins --rules-dir ./rules      # Include a directory of rules
  apkscan plugins --category webview       # Only one category`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		registry, err := buildRegistry(cfg, newLogger(cfg, cmd.ErrOrStderr()))
		if err != nil {
			return err
		}

		categories, unknown := plugin.FilterCategories(cfg.Categories)
		for _, name := range unknown {
			_, err := plugin.ParseCategory(name)
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
		}
		listPlugins(cmd.OutOrStdout(), registry, categories)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pluginsCmd)
	pluginsCmd.Flags().StringSlice("category", nil, "Categories to list (default all)")
	pluginsCmd.Flags().StringSlice("rules-dir", nil, "Directories of <category>/<name>.yaml rule files")
	pluginsCmd.Flags().StringSlice("plugin-dir", nil, "Directories of <category>_<name>.so plugins")
	pluginsCmd.Flags().Bool("builtin-rules", true, "Include the bundled rules")
}

func listPlugins(w io.Writer, registry *plugin.Registry, categories []plugin.Category) {
	cyan := color.New(color.FgCyan).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Fprintf(w, "Registered checks (%d):\n", registry.Len())
	for _, category := range categories {
		names := registry.List(category)
		fmt.Fprintf(w, "\n  %s\n", cyan(category))
		if len(names) == 0 {
			fmt.Fprintf(w, "    %s\n", gray("(none)"))
			continue
		}
		for _, name := range names {
			fmt.Fprintf(w, "    %s\n", name)
		}
	}
}
