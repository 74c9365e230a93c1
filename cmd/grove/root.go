package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jacentio/grove/bootstrap"
	"github.com/jacentio/grove/config"
)

var (
	// Global flags
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "grove",
	Short: "Document mapper administration",
	Long: `grove loads the configured store and schema files and runs
maintenance tasks against them.

Examples:
  grove schemas validate schemas/*.yaml
  grove reindex page
  grove find page --where "rank gte 3" --sort -rank --limit 10
  grove count page --where "status = published"`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "grove.yaml", "config file path")
}

// openApp loads the configuration and wires the application. The caller
// must close the returned app.
func openApp(ctx context.Context) (*bootstrap.App, error) {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return nil, err
	}
	return bootstrap.New(ctx, cfg)
}
